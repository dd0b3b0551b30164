// Package execx 外部命令执行
package execx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner 执行外部命令，返回合并后的 stdout/stderr
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OS 使用 os/exec 的实现，ctx 结束时杀掉进程
type OS struct {
	// WaitDelay 进程被杀后等待输出管道关闭的时间
	WaitDelay time.Duration
}

// Run 执行命令
func (o OS) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = o.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.Bytes(), fmt.Errorf("%s: %w", name, ctxErr)
	}
	if err != nil {
		if msg := Tail(out.Bytes(), 300); msg != "" {
			return out.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}

// Tail 截取输出末尾 n 个字节，用于错误信息
func Tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// Func 函数适配 Runner
type Func func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run 调用函数本身
func (f Func) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}
