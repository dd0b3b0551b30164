package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"asxreport/internal/execx"
)

const wordApp = "/Applications/Microsoft Word.app"

const wordScript = `on run argv
	set inputPath to item 1 of argv
	set outputPath to item 2 of argv
	tell application "Microsoft Word"
		open (POSIX file inputPath)
		set theDoc to active document
		save as theDoc file name outputPath file format format PDF
		close theDoc saving no
	end tell
end run`

// Word 通过 osascript 调用 Microsoft Word 导出 PDF，仅 macOS
type Word struct {
	runner   execx.Runner
	limit    time.Duration
	goos     string
	lookPath func(string) (string, error)
	appPath  string
}

// NewWord 创建 Word 引擎
func NewWord(r execx.Runner, limit time.Duration) *Word {
	return &Word{runner: r, limit: limit, goos: runtime.GOOS, lookPath: exec.LookPath, appPath: wordApp}
}

func (w *Word) Name() string { return string(ModeWord) }

func (w *Word) Timeout() time.Duration { return w.limit }

func (w *Word) Available() error {
	if w.goos != "darwin" {
		return fmt.Errorf("microsoft word requires macOS: %w", ErrEngineAbsent)
	}
	if _, err := w.lookPath("osascript"); err != nil {
		return fmt.Errorf("osascript not found: %w", ErrEngineAbsent)
	}
	if _, err := os.Stat(w.appPath); err != nil {
		return fmt.Errorf("microsoft word not installed: %w", ErrEngineAbsent)
	}
	return nil
}

func (w *Word) Convert(ctx context.Context, in, dir string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	out := filepath.Join(dir, stem+".pdf")
	if _, err := w.runner.Run(ctx, "osascript", "-e", wordScript, in, out); err != nil {
		return "", fmt.Errorf("word export: %w", err)
	}
	return out, nil
}
