// Package pipeline 串联导航、截图、文档、转换与发信
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"asxreport/internal/browser"
	"asxreport/internal/capture"
	"asxreport/internal/convert"
	"asxreport/internal/ctxkeys"
	"asxreport/internal/logger"
	"asxreport/internal/mail"
	"asxreport/internal/report"
	"asxreport/internal/ticker"
	"asxreport/pkg/model"
)

// MaxEmbedWidth 嵌入文档前截图的最大像素宽度
const MaxEmbedWidth = 2400

// Page 已导航的页面
type Page interface {
	URL(ctx context.Context) (string, error)
	Probe(ctx context.Context) (capture.Region, error)
	Screenshot(ctx context.Context, r capture.Region) ([]byte, error)
	Close() error
}

// Loader 打开页面
type Loader interface {
	Navigate(ctx context.Context, url string) (Page, error)
}

// LoaderFunc 函数适配 Loader
type LoaderFunc func(ctx context.Context, url string) (Page, error)

func (f LoaderFunc) Navigate(ctx context.Context, url string) (Page, error) { return f(ctx, url) }

// Browser 把 browser.Manager 适配为 Loader
func Browser(m *browser.Manager) Loader {
	return LoaderFunc(func(ctx context.Context, url string) (Page, error) {
		p, err := m.Navigate(ctx, url)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// DocumentBuilder 生成 DOCX
type DocumentBuilder interface {
	Build(in report.Input, path string) error
}

// Converter 生成 PDF
type Converter interface {
	Convert(ctx context.Context, in, out string) model.ConversionResult
}

// Observer 阶段耗时回调，用于指标
type Observer interface {
	StageDone(stage model.Stage, d time.Duration, err error)
}

// Deps 流水线依赖
type Deps struct {
	Loader    Loader
	Builder   DocumentBuilder
	Converter Converter
	Sender    mail.Sender
	Waiter    *capture.Waiter
	Observer  Observer
}

// Options 流水线配置
type Options struct {
	QuoteURLTemplate string
	FallbackDir      string
}

// Orchestrator 单次报告的顺序执行器
type Orchestrator struct {
	deps Deps
	opt  Options
	log  logger.Logger
	now  func() time.Time
}

// New 创建执行器
func New(deps Deps, opt Options, l logger.Logger) *Orchestrator {
	if l == nil {
		l = logger.NewNop()
	}
	if deps.Builder == nil {
		deps.Builder = report.Builder{}
	}
	return &Orchestrator{deps: deps, opt: opt, log: l, now: time.Now}
}

// DefaultSubject 未指定主题时使用
func DefaultSubject(code string, at time.Time) string {
	return fmt.Sprintf("Yahoo Finance Chart Report: %s (%s)", strings.ToUpper(code), at.Format(time.DateTime))
}

// DefaultBody 未指定正文时使用
func DefaultBody(code, sourceURL string, at time.Time) string {
	return "Attached is your Yahoo Finance chart report PDF.\n\n" +
		fmt.Sprintf("Ticker: %s.AX\n", strings.ToUpper(code)) +
		fmt.Sprintf("Source URL: %s\n", sourceURL) +
		fmt.Sprintf("Generated: %s", at.Format(time.DateTime))
}

// fileBase 文件名按代码、时间与运行 ID 区分
func fileBase(code string, at time.Time, id model.RunID) string {
	short := strings.ReplaceAll(string(id), "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("asx-%s-%s-%s", strings.ToUpper(code), at.Format("20060102-150405"), short)
}

// run 单次执行的状态
type run struct {
	o    *Orchestrator
	req  model.ReportRequest
	res  *model.PipelineResult
	log  logger.Logger
	page Page
}

// Run 执行一次报告，失败时返回的结果同样完整，部分产物保留在磁盘上
func (o *Orchestrator) Run(ctx context.Context, req model.ReportRequest) (*model.PipelineResult, error) {
	id := ctxkeys.TraceID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = ctxkeys.WithTraceID(ctx, id)
	}
	started := o.now()
	r := &run{
		o:   o,
		req: req,
		log: o.log.With("runID", id, "ticker", req.Ticker),
		res: &model.PipelineResult{
			RunID:           model.RunID(id),
			Status:          model.StatusFailed,
			Ticker:          req.Ticker,
			Recipient:       req.Recipient,
			EmailRequested:  req.SendEmail,
			CompletedStages: []model.Stage{},
			StartedAt:       started.Format(time.RFC3339),
		},
	}
	defer func() {
		if r.page != nil {
			if err := r.page.Close(); err != nil {
				r.log.Debug("关闭页面失败", "error", err)
			}
		}
		r.res.FinishedAt = o.now().Format(time.RFC3339)
	}()

	if err := r.execute(ctx, started); err != nil {
		r.res.Fail(err)
		r.log.Warn("报告生成失败", "stage", err.Stage, "kind", err.Kind, "error", err.Error())
		return r.res, err
	}
	r.res.Status = model.StatusSucceeded
	r.log.Info("报告生成完成", "pdf", r.res.PDFPath, "engine", r.res.EngineUsed, "emailSent", r.res.EmailSent)
	return r.res, nil
}

// stage 执行一个阶段并记录耗时
func (r *run) stage(s model.Stage, fn func() *model.Error) *model.Error {
	start := time.Now()
	err := fn()
	if obs := r.o.deps.Observer; obs != nil {
		var e error
		if err != nil {
			e = err
		}
		obs.StageDone(s, time.Since(start), e)
	}
	if err == nil {
		r.res.Complete(s)
	}
	return err
}

func (r *run) execute(ctx context.Context, started time.Time) *model.Error {
	code := r.req.Ticker
	var outDir, base string

	if err := r.stage(model.StageValidate, func() *model.Error {
		if !ticker.Valid(code) {
			return model.NewError(model.KindValidation, model.StageValidate, nil, "invalid ticker %q", code)
		}
		r.res.SourceURL = ticker.BuildQuoteURL(r.o.opt.QuoteURLTemplate, code)
		dir, err := ResolveOutputDir(r.req.OutputDir, r.o.opt.FallbackDir)
		if err != nil {
			return model.NewError(model.KindValidation, model.StageValidate, err, "resolve output dir")
		}
		outDir = dir
		base = filepath.Join(outDir, fileBase(code, started, r.res.RunID))
		return nil
	}); err != nil {
		return err
	}

	if err := r.stage(model.StageNavigate, func() *model.Error { return r.navigate(ctx) }); err != nil {
		return err
	}

	var shot model.CaptureOutcome
	if err := r.stage(model.StageCapture, func() *model.Error {
		var e *model.Error
		shot, e = r.capture(ctx, base+".png")
		return e
	}); err != nil {
		return err
	}

	generated := r.o.now()
	subject := r.req.Subject
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject(code, generated)
	}
	body := r.req.Body
	if strings.TrimSpace(body) == "" {
		body = DefaultBody(code, r.res.SourceURL, generated)
	}

	if err := r.stage(model.StageDocument, func() *model.Error {
		img, _, err := capture.Fit(shot.Image, MaxEmbedWidth)
		if err != nil {
			return model.NewError(model.KindDocument, model.StageDocument, err, "prepare chart image")
		}
		docx := base + ".docx"
		in := report.Input{Title: subject, Ticker: code, SourceURL: r.res.SourceURL, Generated: generated, Image: img}
		if err := r.o.deps.Builder.Build(in, docx); err != nil {
			return model.NewError(model.KindDocument, model.StageDocument, err, "build report document")
		}
		r.res.DocumentPath = docx
		return nil
	}); err != nil {
		return err
	}

	if err := r.stage(model.StageConvert, func() *model.Error {
		conv := r.o.deps.Converter.Convert(ctx, r.res.DocumentPath, base+".pdf")
		r.res.EngineAttempts = conv.Attempts
		if !conv.OK() {
			return model.NewError(model.KindConversion, model.StageConvert, nil,
				"pdf conversion failed: %s", convert.Summary(conv.Attempts))
		}
		r.res.EngineUsed = conv.EngineUsed
		r.res.PDFPath = conv.OutputPath
		return nil
	}); err != nil {
		return err
	}

	if !r.req.SendEmail {
		return nil
	}
	return r.stage(model.StageMail, func() *model.Error {
		msg := mail.Message{To: r.req.Recipient, Subject: subject, Body: body, Attachment: r.res.PDFPath}
		if err := r.o.deps.Sender.Send(ctx, msg); err != nil {
			r.res.EmailError = err.Error()
			return model.NewError(model.KindMail, model.StageMail, err, "send report to %s", r.req.Recipient)
		}
		r.res.EmailSent = true
		return nil
	})
}

// navigate 只导航一次，最终地址必须仍是报价页
func (r *run) navigate(ctx context.Context) *model.Error {
	page, err := r.o.deps.Loader.Navigate(ctx, r.res.SourceURL)
	if err != nil {
		return model.NewError(model.KindNavigation, model.StageNavigate, err, "open %s", r.res.SourceURL)
	}
	r.page = page
	final, err := page.URL(ctx)
	if err != nil {
		return model.NewError(model.KindNavigation, model.StageNavigate, err, "read final url")
	}
	r.res.FinalURL = final
	if !ticker.IsQuoteURL(final) {
		return model.NewError(model.KindNavigation, model.StageNavigate, nil,
			"failed to open Yahoo Finance quote page %s (final url %s)", r.res.SourceURL, final)
	}
	return nil
}

// probe 定位容器、截图并检查图片
func (r *run) probe(ctx context.Context) (capture.Probe, error) {
	region, err := r.page.Probe(ctx)
	if err != nil {
		return capture.Probe{}, err
	}
	if region.Empty() {
		return capture.Probe{State: model.NotReady}, nil
	}
	if region.Loading {
		return capture.Probe{State: model.Suspect, Selector: region.Selector}, nil
	}
	img, err := r.page.Screenshot(ctx, region)
	if err != nil {
		return capture.Probe{}, err
	}
	state, size, err := capture.Inspect(img)
	if err != nil {
		return capture.Probe{}, err
	}
	return capture.Probe{State: state, Image: img, Selector: region.Selector, Width: size.X, Height: size.Y}, nil
}

func (r *run) capture(ctx context.Context, path string) (model.CaptureOutcome, *model.Error) {
	w := r.o.deps.Waiter
	out := w.Wait(ctx, r.probe)
	r.res.CapturePolls = out.Polls
	r.res.CaptureMS = out.Elapsed.Milliseconds()
	if !out.Ready {
		if out.LastErr != nil {
			return out, model.NewError(model.KindCapture, model.StageCapture, out.LastErr,
				"chart probe kept failing for %s (%d polls)", w.Budget, out.Polls)
		}
		return out, model.NewError(model.KindCapture, model.StageCapture, nil,
			"chart did not render within %s (%d polls)", w.Budget, out.Polls)
	}
	r.res.CaptureSelector = out.Selector
	if err := os.WriteFile(path, out.Image, 0o644); err != nil {
		return out, model.NewError(model.KindCapture, model.StageCapture, err, "write chart image")
	}
	r.res.ImagePath = path
	r.log.Debug("图表截图完成", "selector", out.Selector, "polls", out.Polls, "ms", r.res.CaptureMS)
	return out, nil
}
