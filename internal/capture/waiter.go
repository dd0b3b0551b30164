package capture

import (
	"context"
	"fmt"
	"time"

	"asxreport/internal/logger"
	"asxreport/pkg/model"
)

// Probe 单次探测结果
type Probe struct {
	State    model.Readiness
	Image    []byte
	Selector string
	Width    int
	Height   int
}

// ProbeFunc 探测函数，返回错误视为本轮未就绪
type ProbeFunc func(ctx context.Context) (Probe, error)

// Waiter 按固定间隔轮询，直到区域就绪或预算耗尽
type Waiter struct {
	Interval time.Duration
	Budget   time.Duration
	Log      logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWaiter 创建等待器
func NewWaiter(interval, budget time.Duration, l logger.Logger) *Waiter {
	if l == nil {
		l = logger.NewNop()
	}
	return &Waiter{Interval: interval, Budget: budget, Log: l}
}

// Validate 校验轮询参数
func (w *Waiter) Validate() error {
	if w.Interval <= 0 {
		return fmt.Errorf("poll interval must be > 0, got %s", w.Interval)
	}
	if w.Budget <= w.Interval {
		return fmt.Errorf("wait budget %s must exceed poll interval %s", w.Budget, w.Interval)
	}
	return nil
}

// Wait 立即探测一次，之后每隔 Interval 探测直到截止时间（含截止时刻的一次）
// Suspect 与探测错误都继续轮询；预算耗尽返回 Ready=false，每轮都出错时 LastErr 保留最后一次错误
func (w *Waiter) Wait(ctx context.Context, probe ProbeFunc) model.CaptureOutcome {
	now := w.now
	if now == nil {
		now = time.Now
	}
	sleep := w.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	start := now()
	deadline := start.Add(w.Budget)
	var (
		out       model.CaptureOutcome
		lastErr   error
		allFailed = true
	)

	// 单次探测可能挂起（渲染进程无响应），探测共用一个截止于预算加一个间隔的上下文
	pctx, cancel := context.WithTimeout(ctx, w.Budget+w.Interval)
	defer cancel()

	for {
		out.Polls++
		p, err := probe(pctx)
		switch {
		case err != nil:
			lastErr = err
			w.Log.Debug("探测失败，本轮视为未就绪", "poll", out.Polls, "error", err)
		case p.State == model.Ready:
			out.Ready = true
			out.Image = p.Image
			out.Selector = p.Selector
			out.Width = p.Width
			out.Height = p.Height
			out.Elapsed = now().Sub(start)
			return out
		case p.State == model.Suspect:
			allFailed = false
			w.Log.Debug("图表区域疑似占位，继续等待", "poll", out.Polls, "selector", p.Selector)
		default:
			allFailed = false
		}

		remaining := deadline.Sub(now())
		if remaining <= 0 || pctx.Err() != nil {
			break
		}
		// 最后一次睡眠截断到截止时间，超出预算不会多于一个间隔
		if err := sleep(ctx, min(w.Interval, remaining)); err != nil {
			break
		}
	}

	out.Elapsed = now().Sub(start)
	switch {
	case ctx.Err() != nil:
		out.LastErr = ctx.Err()
	case allFailed:
		out.LastErr = lastErr
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
