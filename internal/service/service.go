// Package service 接收请求并交给后台工作者执行
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"asxreport/internal/ctxkeys"
	"asxreport/internal/gate"
	"asxreport/internal/logger"
	"asxreport/internal/metrics"
	"asxreport/pkg/model"
)

// Runner 执行一次报告
type Runner interface {
	Run(ctx context.Context, req model.ReportRequest) (*model.PipelineResult, error)
}

// Journal 运行日志
type Journal interface {
	Save(ctx context.Context, res *model.PipelineResult) error
	Recent(ctx context.Context, limit int, ticker string) ([]model.RunSummary, error)
}

// Options 执行阶段配置
type Options struct {
	Workers        int
	QueueSize      int
	RequestTimeout time.Duration
	Defaults       Defaults
}

type reply struct {
	res *model.PipelineResult
	err error
}

type job struct {
	id     string
	req    model.ReportRequest
	ticket gate.Ticket
	reply  chan reply
}

// Service 请求接收与执行分离，接收方从不等待执行完成才做决定
type Service struct {
	opt      Options
	runner   Runner
	gate     *gate.Gate
	journal  Journal
	metrics  *metrics.Metrics
	log      logger.Logger
	validate *validator.Validate

	jobs   chan job
	mu     sync.Mutex
	closed bool
	eg     *errgroup.Group
}

// New 创建服务，journal 与 m 可以为 nil
func New(opt Options, runner Runner, g *gate.Gate, journal Journal, m *metrics.Metrics, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	opt.Workers = max(opt.Workers, 1)
	opt.QueueSize = max(opt.QueueSize, 1)
	if opt.RequestTimeout <= 0 {
		opt.RequestTimeout = 10 * time.Minute
	}
	return &Service{
		opt:      opt,
		runner:   runner,
		gate:     g,
		journal:  journal,
		metrics:  m,
		log:      l,
		validate: newValidator(),
		jobs:     make(chan job, opt.QueueSize),
	}
}

// Start 启动工作者，ctx 结束后工作者退出，队列中未执行的任务被释放
func (s *Service) Start(ctx context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opt.Workers; i++ {
		eg.Go(func() error {
			s.worker(gctx, i)
			return nil
		})
	}
	s.eg = eg
	s.log.Info("报告服务已启动", "workers", s.opt.Workers, "queue", s.opt.QueueSize)
}

// Wait 等待工作者退出
func (s *Service) Wait() error {
	if s.eg == nil {
		return nil
	}
	err := s.eg.Wait()
	s.drain()
	return err
}

func (s *Service) worker(ctx context.Context, n int) {
	l := s.log.With("worker", n)
	for {
		select {
		case <-ctx.Done():
			l.Debug("工作者退出")
			return
		case j := <-s.jobs:
			s.queueDepth()
			s.execute(ctx, j)
		}
	}
}

// drain 关闭接收并释放队列中的任务
func (s *Service) drain() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for {
		select {
		case j := <-s.jobs:
			s.gate.Abandon(j.ticket)
			j.reply <- reply{err: model.NewError(model.KindUnavailable, "", nil, "service is shutting down")}
		default:
			return
		}
	}
}

// execute 在服务上下文中运行，与调用方是否仍在等待无关
func (s *Service) execute(ctx context.Context, j job) {
	if s.metrics != nil {
		s.metrics.ActiveWorkers.Inc()
		defer s.metrics.ActiveWorkers.Dec()
	}
	rctx, cancel := context.WithTimeout(ctxkeys.WithTraceID(ctx, j.id), s.opt.RequestTimeout)
	defer cancel()

	res, err := s.safeRun(rctx, j.req)
	if res == nil {
		res = &model.PipelineResult{
			RunID:           model.RunID(j.id),
			Status:          model.StatusFailed,
			Ticker:          j.req.Ticker,
			Recipient:       j.req.Recipient,
			EmailRequested:  j.req.SendEmail,
			CompletedStages: []model.Stage{},
			Error:           fmt.Sprint(err),
			StartedAt:       time.Now().Format(time.RFC3339),
		}
	}
	s.gate.Complete(j.ticket, res, err)

	if s.journal != nil {
		sctx, scancel := context.WithTimeout(context.WithoutCancel(rctx), 5*time.Second)
		if serr := s.journal.Save(sctx, res); serr != nil {
			s.log.Warn("保存运行记录失败", "runID", j.id, "error", serr)
		}
		scancel()
	}
	if s.metrics != nil {
		s.metrics.Run(res)
	}
	j.reply <- reply{res: res, err: err}
}

func (s *Service) safeRun(ctx context.Context, req model.ReportRequest) (res *model.PipelineResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("报告执行 panic", "panic", r)
			err = fmt.Errorf("report run panicked: %v", r)
		}
	}()
	return s.runner.Run(ctx, req)
}

func (s *Service) queueDepth() {
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(len(s.jobs)))
	}
}

func (s *Service) gateMetric(decision string) {
	if s.metrics != nil {
		s.metrics.Gate(decision)
	}
}

// Windows 去重窗口（秒）
func (s *Service) Windows() (success, failure int) {
	sw, fw := s.gate.Windows()
	return int(sw / time.Second), int(fw / time.Second)
}

// CreateReport 校验、去重、入队后等待结果；调用方 ctx 结束时后台执行不受影响
func (s *Service) CreateReport(ctx context.Context, raw model.RawRequest) *model.ToolResponse {
	successWin, failureWin := s.Windows()

	req, err := NewReportRequest(s.validate, raw, s.opt.Defaults)
	if err != nil {
		s.gateMetric("invalid")
		return &model.ToolResponse{Status: model.StatusInvalid, ErrorKind: model.KindValidation, Error: err.Error(), WindowSec: successWin}
	}

	ticket, dec := s.gate.Admit(gate.KeyFor(req))
	if !dec.Admitted {
		s.gateMetric(string(dec.Reason))
		s.log.Info("重复请求已抑制", "ticker", req.Ticker, "reason", dec.Reason)
		return duplicate(dec, successWin, failureWin)
	}

	j := job{id: uuid.NewString(), req: req, ticket: ticket, reply: make(chan reply, 1)}
	if !s.enqueue(j) {
		s.gate.Abandon(ticket)
		s.gateMetric("busy")
		return &model.ToolResponse{
			Status:    model.StatusBusy,
			ErrorKind: model.KindBusy,
			Error:     "all report workers are busy, retry shortly",
			WindowSec: successWin,
		}
	}
	s.gateMetric("admitted")
	s.log.Info("报告任务已入队", "runID", j.id, "ticker", req.Ticker, "sendEmail", req.SendEmail)

	select {
	case r := <-j.reply:
		return respond(r, successWin)
	case <-ctx.Done():
		return &model.ToolResponse{
			Status:    model.StatusFailed,
			ErrorKind: model.KindUnavailable,
			Error:     fmt.Sprintf("stopped waiting for run %s: %v; the run continues in the background", j.id, ctx.Err()),
			WindowSec: successWin,
		}
	}
}

// enqueue 非阻塞入队，队列满或已关闭返回 false
func (s *Service) enqueue(j job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.jobs <- j:
		s.queueDepth()
		return true
	default:
		return false
	}
}

func duplicate(dec gate.Decision, successWin, failureWin int) *model.ToolResponse {
	resp := &model.ToolResponse{
		Status:        model.StatusDuplicate,
		Deduplicated:  true,
		DedupeReason:  string(dec.Reason),
		RetryAfterSec: int(math.Ceil(dec.RetryAfter.Seconds())),
		ErrorKind:     model.KindDuplicate,
		WindowSec:     successWin,
	}
	switch dec.Reason {
	case gate.ReasonInFlight:
		resp.Error = "an identical request is already running"
	case gate.ReasonRecentSuccess:
		resp.Error = "an identical request completed recently"
		resp.Result = dec.Prior
	case gate.ReasonRecentFailure:
		resp.WindowSec = failureWin
		resp.Error = "an identical request failed recently: " + dec.PriorErr
	}
	return resp
}

func respond(r reply, window int) *model.ToolResponse {
	if r.err == nil {
		return &model.ToolResponse{Status: model.StatusSucceeded, Result: r.res, WindowSec: window}
	}
	kind := model.KindOf(r.err)
	if kind == "" {
		kind = model.KindUnavailable
	}
	status := model.StatusFailed
	if errors.Is(r.err, &model.Error{Kind: model.KindUnavailable}) && r.res == nil {
		status = model.StatusBusy
	}
	return &model.ToolResponse{Status: status, ErrorKind: kind, Error: r.err.Error(), Result: r.res, WindowSec: window}
}

// RecentRuns 最近的运行记录
func (s *Service) RecentRuns(ctx context.Context, limit int, ticker string) ([]model.RunSummary, error) {
	if s.journal == nil {
		return []model.RunSummary{}, nil
	}
	return s.journal.Recent(ctx, limit, ticker)
}
