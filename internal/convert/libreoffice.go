package convert

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"asxreport/internal/execx"
)

var libreOfficeBundles = []string{
	"/Applications/LibreOffice.app/Contents/MacOS/soffice",
}

// LibreOffice 使用 headless soffice 转换
type LibreOffice struct {
	runner   execx.Runner
	limit    time.Duration
	lookPath func(string) (string, error)
	home     func() (string, error)
}

// NewLibreOffice 创建 LibreOffice 引擎
func NewLibreOffice(r execx.Runner, limit time.Duration) *LibreOffice {
	return &LibreOffice{runner: r, limit: limit, lookPath: exec.LookPath, home: os.UserHomeDir}
}

func (l *LibreOffice) Name() string { return string(ModeLibreOffice) }

func (l *LibreOffice) Timeout() time.Duration { return l.limit }

func (l *LibreOffice) Available() error {
	_, err := l.binary()
	return err
}

// binary 先查 PATH 上的 soffice/libreoffice，再查 macOS 安装位置
func (l *LibreOffice) binary() (string, error) {
	for _, name := range []string{"soffice", "libreoffice"} {
		if p, err := l.lookPath(name); err == nil {
			return p, nil
		}
	}
	candidates := append([]string{}, libreOfficeBundles...)
	if home, err := l.home(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, "Applications", "LibreOffice.app", "Contents", "MacOS", "soffice"))
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() && st.Mode()&0o111 != 0 {
			return c, nil
		}
	}
	return "", fmt.Errorf("libreoffice binary not found: %w", ErrEngineAbsent)
}

// Convert soffice 按输入文件名在 dir 中生成 PDF
func (l *LibreOffice) Convert(ctx context.Context, in, dir string) (string, error) {
	bin, err := l.binary()
	if err != nil {
		return "", err
	}
	profile := (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(dir, "profile"))}).String()
	args := []string{
		"-env:UserInstallation=" + profile,
		"--headless",
		"--nologo",
		"--nofirststartwizard",
		"--convert-to", "pdf",
		"--outdir", dir,
		in,
	}
	if _, err := l.runner.Run(ctx, bin, args...); err != nil {
		return "", fmt.Errorf("libreoffice convert: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	return filepath.Join(dir, stem+".pdf"), nil
}
