// Package gate 按请求键去重，抑制进行中与刚完成的重复请求
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"asxreport/internal/logger"
	"asxreport/pkg/model"
)

// State 键的状态
type State int

const (
	Unseen State = iota
	Admitted
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unseen"
	}
}

// Reason 拒绝原因
type Reason string

const (
	ReasonInFlight      Reason = "in-flight"
	ReasonRecentSuccess Reason = "recent-success"
	ReasonRecentFailure Reason = "recent-failure"
)

// Key 请求去重键
type Key string

// KeyFor 代码、收件人与是否发信决定一个键，主题和正文不参与
func KeyFor(req model.ReportRequest) Key {
	raw := strings.ToUpper(strings.TrimSpace(req.Ticker)) + "|" +
		strings.ToLower(strings.TrimSpace(req.Recipient)) + "|" +
		strconv.FormatBool(req.SendEmail)
	sum := sha256.Sum256([]byte(raw))
	return Key(hex.EncodeToString(sum[:]))
}

// Ticket 放行凭证，代数用于识别过期的完成回调
type Ticket struct {
	Key Key
	gen uint64
}

// Decision Admit 的结果
type Decision struct {
	Admitted   bool
	Reason     Reason
	RetryAfter time.Duration
	Prior      *model.PipelineResult
	PriorErr   string
}

type entry struct {
	state     State
	updatedAt time.Time
	gen       uint64
	result    *model.PipelineResult
	err       string
}

// Gate 进程内去重表
type Gate struct {
	mu      sync.Mutex
	entries map[Key]*entry
	gen     uint64
	success time.Duration
	failure time.Duration
	now     func() time.Time
	log     logger.Logger
}

// New 创建去重表，窗口为 0 表示不抑制对应结果
func New(success, failure time.Duration, l logger.Logger) *Gate {
	if l == nil {
		l = logger.NewNop()
	}
	return &Gate{
		entries: make(map[Key]*entry),
		success: max(success, 0),
		failure: max(failure, 0),
		now:     time.Now,
		log:     l,
	}
}

// Windows 成功与失败的抑制窗口
func (g *Gate) Windows() (success, failure time.Duration) { return g.success, g.failure }

// Admit 检查并占用键，整个判断在一个临界区内完成
func (g *Gate) Admit(key Key) (Ticket, Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweepLocked(now)

	if e, ok := g.entries[key]; ok {
		switch e.state {
		case Admitted:
			return Ticket{}, Decision{Reason: ReasonInFlight}
		case Succeeded:
			return Ticket{}, Decision{
				Reason:     ReasonRecentSuccess,
				RetryAfter: g.success - now.Sub(e.updatedAt),
				Prior:      e.result,
			}
		case Failed:
			return Ticket{}, Decision{
				Reason:     ReasonRecentFailure,
				RetryAfter: g.failure - now.Sub(e.updatedAt),
				Prior:      e.result,
				PriorErr:   e.err,
			}
		}
	}

	g.gen++
	g.entries[key] = &entry{state: Admitted, updatedAt: now, gen: g.gen}
	return Ticket{Key: key, gen: g.gen}, Decision{Admitted: true}
}

// Complete 记录执行结果，不依赖调用方是否还在等待
func (g *Gate) Complete(t Ticket, res *model.PipelineResult, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[t.Key]
	if !ok || e.gen != t.gen || e.state != Admitted {
		g.log.Debug("忽略过期的完成回调", "key", string(t.Key))
		return
	}
	failed := err != nil || res == nil || res.Status != model.StatusSucceeded
	window := g.success
	if failed {
		window = g.failure
	}
	if window == 0 {
		delete(g.entries, t.Key)
		return
	}
	e.updatedAt = g.now()
	e.result = res
	if failed {
		e.state = Failed
		switch {
		case err != nil:
			e.err = err.Error()
		case res != nil:
			e.err = res.Error
		}
		return
	}
	e.state = Succeeded
	e.err = ""
}

// Abandon 执行阶段拒绝时释放键，之前没有任何工作发生
func (g *Gate) Abandon(t Ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[t.Key]; ok && e.gen == t.gen && e.state == Admitted {
		delete(g.entries, t.Key)
	}
}

// State 查询键当前状态，已过期的视为 Unseen
func (g *Gate) State(key Key) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(g.now())
	if e, ok := g.entries[key]; ok {
		return e.state
	}
	return Unseen
}

// Len 当前记录数
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *Gate) sweepLocked(now time.Time) {
	for k, e := range g.entries {
		var window time.Duration
		switch e.state {
		case Succeeded:
			window = g.success
		case Failed:
			window = g.failure
		default:
			continue
		}
		if now.Sub(e.updatedAt) >= window {
			delete(g.entries, k)
		}
	}
}
