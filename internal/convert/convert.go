// Package convert DOCX 转 PDF 的多引擎回退链
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"asxreport/internal/execx"
	"asxreport/internal/logger"
	"asxreport/pkg/model"
)

// ErrEngineAbsent 引擎在本机不可用
var ErrEngineAbsent = errors.New("engine not available")

// StagingDirName 输出目录下存放中间文件的目录
const StagingDirName = ".pdf-staging"

// Engine 单个转换引擎
type Engine interface {
	Name() string
	// Available 不可用时返回包装 ErrEngineAbsent 的错误
	Available() error
	// Timeout 单次转换上限，0 表示不限制
	Timeout() time.Duration
	// Convert 把 in 转换到 dir 中，返回生成的 PDF 路径
	Convert(ctx context.Context, in, dir string) (string, error)
}

// Mode 引擎选择
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeLibreOffice Mode = "libreoffice"
	ModeWord        Mode = "word"
)

// ParseMode 解析引擎配置，兼容旧的别名
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "libreoffice", "soffice", "primary":
		return ModeLibreOffice, nil
	case "word", "docx2pdf", "microsoft-word", "secondary":
		return ModeWord, nil
	default:
		return "", fmt.Errorf("unsupported pdf engine %q", s)
	}
}

// Options 转换配置
type Options struct {
	Mode               Mode
	LibreOfficeTimeout time.Duration
	WordTimeout        time.Duration
}

// Chain 按顺序尝试引擎，第一个产出有效 PDF 的引擎胜出
type Chain struct {
	engines  []Engine
	log      logger.Logger
	validate func(path string) error
}

// NewChain 用给定引擎创建回退链
func NewChain(l logger.Logger, engines ...Engine) *Chain {
	if l == nil {
		l = logger.NewNop()
	}
	return &Chain{engines: engines, log: l, validate: ValidatePDF}
}

// Build 根据配置组装引擎
func Build(opt Options, runner execx.Runner, l logger.Logger) *Chain {
	if runner == nil {
		runner = execx.OS{}
	}
	lo := NewLibreOffice(runner, opt.LibreOfficeTimeout)
	word := NewWord(runner, opt.WordTimeout)
	switch opt.Mode {
	case ModeLibreOffice:
		return NewChain(l, lo)
	case ModeWord:
		return NewChain(l, word)
	default:
		return NewChain(l, lo, word)
	}
}

// Engines 当前链上的引擎名
func (c *Chain) Engines() []string {
	names := make([]string, 0, len(c.engines))
	for _, e := range c.engines {
		names = append(names, e.Name())
	}
	return names
}

// Convert 转换 in 到 out，out 只会是有效 PDF 或不存在
func (c *Chain) Convert(ctx context.Context, in, out string) model.ConversionResult {
	res := model.ConversionResult{Attempts: []model.EngineAttempt{}}
	if abs, err := filepath.Abs(in); err == nil {
		in = abs
	}
	if abs, err := filepath.Abs(out); err == nil {
		out = abs
	}
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("删除旧的 PDF 失败", "path", out, "error", err)
	}
	root := filepath.Join(filepath.Dir(out), StagingDirName)
	defer os.Remove(root)

	for _, e := range c.engines {
		start := time.Now()
		err := c.attempt(ctx, e, in, out, root)
		att := model.EngineAttempt{Engine: e.Name(), DurationMS: time.Since(start).Milliseconds()}
		if err == nil {
			res.Attempts = append(res.Attempts, att)
			res.EngineUsed = e.Name()
			res.OutputPath = out
			c.log.Info("PDF 转换成功", "engine", e.Name(), "output", out, "ms", att.DurationMS)
			return res
		}
		att.Err = err.Error()
		att.Absent = errors.Is(err, ErrEngineAbsent)
		att.TimedOut = errors.Is(err, context.DeadlineExceeded)
		res.Attempts = append(res.Attempts, att)
		c.log.Warn("PDF 转换引擎失败", "engine", e.Name(), "absent", att.Absent, "timedOut", att.TimedOut, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return res
}

func (c *Chain) attempt(ctx context.Context, e Engine, in, out, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Available(); err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create staging root: %w", err)
	}
	staging, err := os.MkdirTemp(root, e.Name()+"-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	actx := ctx
	if d := e.Timeout(); d > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	produced, err := e.Convert(actx, in, staging)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	}
	if err := c.validate(produced); err != nil {
		return err
	}
	if err := os.Rename(produced, out); err != nil {
		return fmt.Errorf("move pdf into place: %w", err)
	}
	return nil
}

// Summary 把尝试记录拼成一行错误描述
func Summary(attempts []model.EngineAttempt) string {
	if len(attempts) == 0 {
		return "no engine configured"
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, a.Engine+": "+a.Err)
	}
	return strings.Join(parts, "; ")
}
