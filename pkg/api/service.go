package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"asxreport/internal/browser"
	"asxreport/internal/capture"
	"asxreport/internal/config"
	"asxreport/internal/convert"
	"asxreport/internal/execx"
	"asxreport/internal/gate"
	"asxreport/internal/logger"
	"asxreport/internal/mail"
	"asxreport/internal/metrics"
	"asxreport/internal/pipeline"
	"asxreport/internal/report"
	"asxreport/internal/service"
	"asxreport/internal/storage"
	"asxreport/pkg/model"
)

// Service 服务接口
type Service interface {
	// CreateReport 生成报告，重复请求直接返回去重结果
	CreateReport(ctx context.Context, raw model.RawRequest) *model.ToolResponse

	// RecentRuns 最近的运行记录
	RecentRuns(ctx context.Context, limit int, ticker string) ([]model.RunSummary, error)

	// Start 启动后台工作者
	Start(ctx context.Context)

	// Wait 等待工作者退出
	Wait() error

	// MetricsHandler Prometheus 指标处理器
	MetricsHandler() http.Handler

	// Close 释放浏览器与数据库
	Close() error
}

type app struct {
	*service.Service
	browser *browser.Manager
	db      *gorm.DB
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewService 按配置组装全部组件
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	mode, err := convert.ParseMode(cfg.Convert.Engine)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	runner := execx.OS{}
	bm := browser.New(browser.Options{
		DevToolsURL:       cfg.Capture.DevToolsURL,
		ChromePath:        cfg.Capture.ChromePath,
		Headless:          cfg.Capture.Headless,
		NavigationTimeout: time.Duration(cfg.Capture.NavigationTimeoutMS) * time.Millisecond,
		PreCloseWait:      time.Duration(cfg.Capture.PreCloseWaitMS) * time.Millisecond,
	}, l.With("component", "browser"))

	waiter := capture.NewWaiter(cfg.WatchPoll(), cfg.WatchWindow(), l.With("component", "capture"))
	if err := waiter.Validate(); err != nil {
		_ = storage.Close(db)
		return nil, fmt.Errorf("capture settings: %w", err)
	}

	orch := pipeline.New(pipeline.Deps{
		Loader:  pipeline.Browser(bm),
		Builder: report.Builder{},
		Converter: convert.Build(convert.Options{
			Mode:               mode,
			LibreOfficeTimeout: time.Duration(cfg.Convert.LibreOfficeTimeoutSeconds) * time.Second,
			WordTimeout:        time.Duration(cfg.Convert.WordTimeoutSeconds) * time.Second,
		}, runner, l.With("component", "convert")),
		Sender:   mail.NewMailApp(runner, time.Minute, l.With("component", "mail")),
		Waiter:   waiter,
		Observer: m,
	}, pipeline.Options{
		QuoteURLTemplate: cfg.Report.QuoteURLTemplate,
		FallbackDir:      cfg.Report.OutputDir,
	}, l.With("component", "pipeline"))

	g := gate.New(cfg.SuccessWindow(), cfg.FailureWindow(), l.With("component", "gate"))
	svc := service.New(service.Options{
		Workers:        cfg.Service.Workers,
		QueueSize:      cfg.Service.QueueSize,
		RequestTimeout: cfg.RequestTimeout(),
		Defaults: service.Defaults{
			Ticker:    cfg.Report.DefaultTicker,
			Recipient: cfg.Report.DefaultRecipient,
			OutputDir: cfg.Report.OutputDir,
		},
	}, orch, g, storage.NewRunStore(db), m, l.With("component", "service"))

	return &app{Service: svc, browser: bm, db: db, metrics: m, log: l}, nil
}

func (a *app) MetricsHandler() http.Handler { return a.metrics.Handler() }

func (a *app) Close() error {
	return errors.Join(a.browser.Close(), storage.Close(a.db))
}
