package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asxreport/internal/capture"
	"asxreport/internal/ctxkeys"
	"asxreport/internal/mail"
	"asxreport/pkg/model"
)

func chartPNG(t *testing.T) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, 240, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 240; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakePage struct {
	mu        sync.Mutex
	finalURL  string
	readyAt   int
	probes    int
	probeErr  error
	shot      []byte
	closed    bool
	navigated string
}

func (p *fakePage) URL(context.Context) (string, error) { return p.finalURL, nil }

func (p *fakePage) Probe(context.Context) (capture.Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	if p.probeErr != nil {
		return capture.Region{}, p.probeErr
	}
	if p.readyAt == 0 || p.probes < p.readyAt {
		return capture.Region{}, nil
	}
	return capture.Region{Selector: "[data-testid='qsp-chart']", Width: 1200, Height: 600}, nil
}

func (p *fakePage) Screenshot(context.Context, capture.Region) ([]byte, error) { return p.shot, nil }

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type fakeConverter struct {
	fail  bool
	calls int
}

func (c *fakeConverter) Convert(_ context.Context, in, out string) model.ConversionResult {
	c.calls++
	if c.fail {
		return model.ConversionResult{Attempts: []model.EngineAttempt{
			{Engine: "libreoffice", Absent: true, Err: "libreoffice binary not found"},
			{Engine: "word", Err: "word export failed"},
		}}
	}
	_ = os.WriteFile(out, []byte("%PDF-1.7"), 0o644)
	return model.ConversionResult{
		OutputPath: out,
		EngineUsed: "libreoffice",
		Attempts:   []model.EngineAttempt{{Engine: "libreoffice"}},
	}
}

type fakeSender struct {
	err  error
	sent []mail.Message
}

func (s *fakeSender) Send(_ context.Context, m mail.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

type stageLog struct {
	mu     sync.Mutex
	stages []model.Stage
}

func (l *stageLog) StageDone(s model.Stage, _ time.Duration, _ error) {
	l.mu.Lock()
	l.stages = append(l.stages, s)
	l.mu.Unlock()
}

type harness struct {
	page   *fakePage
	conv   *fakeConverter
	sender *fakeSender
	stages *stageLog
	orch   *Orchestrator
}

func newHarness(t *testing.T, page *fakePage, budget time.Duration) *harness {
	t.Helper()
	h := &harness{page: page, conv: &fakeConverter{}, sender: &fakeSender{}, stages: &stageLog{}}
	loader := LoaderFunc(func(_ context.Context, url string) (Page, error) {
		page.navigated = url
		return page, nil
	})
	h.orch = New(Deps{
		Loader:    loader,
		Converter: h.conv,
		Sender:    h.sender,
		Waiter:    capture.NewWaiter(5*time.Millisecond, budget, nil),
		Observer:  h.stages,
	}, Options{FallbackDir: filepath.Join(t.TempDir(), "fallback")}, nil)
	return h
}

func request(t *testing.T) model.ReportRequest {
	return model.ReportRequest{Ticker: "HUB", Recipient: "test@gmail.com", OutputDir: t.TempDir(), SendEmail: true}
}

func okPage(t *testing.T) *fakePage {
	return &fakePage{finalURL: "https://au.finance.yahoo.com/quote/HUB.AX/", readyAt: 3, shot: chartPNG(t)}
}

func TestRunEndToEnd(t *testing.T) {
	page := okPage(t)
	h := newHarness(t, page, 2*time.Second)
	req := request(t)
	ctx := ctxkeys.WithTraceID(context.Background(), "0f8fad5b-d9cb-469f-a165-70867728950e")

	res, err := h.orch.Run(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSucceeded, res.Status)
	assert.Equal(t, model.RunID("0f8fad5b-d9cb-469f-a165-70867728950e"), res.RunID)
	assert.Equal(t, "https://au.finance.yahoo.com/quote/HUB.AX/", res.SourceURL)
	assert.Equal(t, res.SourceURL, page.navigated)
	assert.Equal(t, 3, res.CapturePolls)
	assert.Equal(t, "[data-testid='qsp-chart']", res.CaptureSelector)
	assert.Equal(t, "libreoffice", res.EngineUsed)
	assert.True(t, res.EmailSent)
	assert.Equal(t, []model.Stage{
		model.StageValidate, model.StageNavigate, model.StageCapture,
		model.StageDocument, model.StageConvert, model.StageMail,
	}, res.CompletedStages)
	assert.Equal(t, res.CompletedStages, h.stages.stages)
	assert.True(t, page.closed)
	assert.NotEmpty(t, res.FinishedAt)

	for _, p := range []string{res.ImagePath, res.DocumentPath, res.PDFPath} {
		assert.FileExists(t, p)
		assert.Equal(t, req.OutputDir, filepath.Dir(p))
		assert.Contains(t, filepath.Base(p), "asx-HUB-")
		assert.Contains(t, filepath.Base(p), "-0f8fad5b.")
	}

	require.Len(t, h.sender.sent, 1)
	msg := h.sender.sent[0]
	assert.Equal(t, "test@gmail.com", msg.To)
	assert.Equal(t, res.PDFPath, msg.Attachment)
	assert.Contains(t, msg.Subject, "Yahoo Finance Chart Report: HUB (")
	assert.Contains(t, msg.Body, "Ticker: HUB.AX")
}

func TestRunCaptureTimeout(t *testing.T) {
	page := okPage(t)
	page.readyAt = 0
	h := newHarness(t, page, 60*time.Millisecond)

	res, err := h.orch.Run(context.Background(), request(t))
	require.Error(t, err)

	assert.Equal(t, model.KindCapture, model.KindOf(err))
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, model.StageCapture, res.FailedStage)
	assert.Equal(t, model.KindCapture, res.ErrorKind)
	assert.Equal(t, []model.Stage{model.StageValidate, model.StageNavigate}, res.CompletedStages)
	assert.Greater(t, res.CapturePolls, 1)
	assert.Empty(t, res.ImagePath)
	assert.Empty(t, res.DocumentPath)
	assert.Zero(t, h.conv.calls)
	assert.Empty(t, h.sender.sent)
	assert.True(t, page.closed)
}

func TestRunProbeErrorsReported(t *testing.T) {
	page := okPage(t)
	page.probeErr = errors.New("target closed")
	h := newHarness(t, page, 40*time.Millisecond)

	_, err := h.orch.Run(context.Background(), request(t))
	require.Error(t, err)
	assert.Equal(t, model.KindCapture, model.KindOf(err))
	assert.ErrorContains(t, err, "target closed")
}

func TestRunRejectsRedirect(t *testing.T) {
	page := okPage(t)
	page.finalURL = "https://consent.yahoo.com/v2/collectConsent?sessionId=1"
	h := newHarness(t, page, time.Second)

	res, err := h.orch.Run(context.Background(), request(t))
	require.Error(t, err)
	assert.Equal(t, model.KindNavigation, model.KindOf(err))
	assert.Equal(t, page.finalURL, res.FinalURL)
	assert.Zero(t, page.probes)
	assert.True(t, page.closed)
}

func TestRunNavigationError(t *testing.T) {
	h := newHarness(t, okPage(t), time.Second)
	h.orch.deps.Loader = LoaderFunc(func(context.Context, string) (Page, error) {
		return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
	})

	res, err := h.orch.Run(context.Background(), request(t))
	require.Error(t, err)
	assert.Equal(t, model.StageNavigate, res.FailedStage)
	assert.Contains(t, res.Error, "ERR_NAME_NOT_RESOLVED")
}

func TestRunConversionFailureKeepsArtifacts(t *testing.T) {
	h := newHarness(t, okPage(t), 2*time.Second)
	h.conv.fail = true

	res, err := h.orch.Run(context.Background(), request(t))
	require.Error(t, err)

	assert.Equal(t, model.KindConversion, res.ErrorKind)
	assert.Equal(t, model.StageConvert, res.FailedStage)
	assert.Len(t, res.EngineAttempts, 2)
	assert.Contains(t, res.Error, "libreoffice binary not found")
	assert.FileExists(t, res.ImagePath)
	assert.FileExists(t, res.DocumentPath)
	assert.Empty(t, res.PDFPath)
	assert.Empty(t, h.sender.sent)
}

func TestRunMailFailure(t *testing.T) {
	h := newHarness(t, okPage(t), 2*time.Second)
	h.sender.err = errors.New("Mail.app not authorized")

	res, err := h.orch.Run(context.Background(), request(t))
	require.Error(t, err)
	assert.Equal(t, model.KindMail, res.ErrorKind)
	assert.Equal(t, "Mail.app not authorized", res.EmailError)
	assert.False(t, res.EmailSent)
	assert.FileExists(t, res.PDFPath)
}

func TestRunWithoutEmail(t *testing.T) {
	h := newHarness(t, okPage(t), 2*time.Second)
	req := request(t)
	req.SendEmail = false
	req.Subject = "Custom subject"

	res, err := h.orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.EmailRequested)
	assert.False(t, res.EmailSent)
	assert.NotContains(t, res.CompletedStages, model.StageMail)
	assert.Empty(t, h.sender.sent)
}

func TestRunInvalidTicker(t *testing.T) {
	h := newHarness(t, okPage(t), time.Second)
	req := request(t)
	req.Ticker = "12345"

	res, err := h.orch.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, res.ErrorKind)
	assert.Empty(t, res.CompletedStages)
	assert.Empty(t, h.page.navigated)
}

func TestDefaultText(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "Yahoo Finance Chart Report: HUB (2026-01-02 15:04:05)", DefaultSubject("hub", at))
	body := DefaultBody("hub", "https://au.finance.yahoo.com/quote/HUB.AX/", at)
	assert.Contains(t, body, "Ticker: HUB.AX\n")
	assert.Contains(t, body, "Source URL: https://au.finance.yahoo.com/quote/HUB.AX/\n")
	assert.Contains(t, body, "Generated: 2026-01-02 15:04:05")
}
