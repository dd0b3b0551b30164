package model

import "time"

type RunID string

// Stage 流水线阶段
type Stage string

const (
	StageValidate Stage = "validate"
	StageNavigate Stage = "navigate"
	StageCapture  Stage = "capture"
	StageDocument Stage = "document"
	StageConvert  Stage = "convert"
	StageMail     Stage = "mail"
)

// Status 工具调用的最终状态
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
	StatusInvalid   Status = "invalid"
	StatusBusy      Status = "busy"
)

// ReportRequest 一次报告请求，构造后不再修改
type ReportRequest struct {
	Ticker    string `json:"ticker" validate:"required,ticker"`
	Recipient string `json:"recipient" validate:"required,email"`
	OutputDir string `json:"outputDir"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body,omitempty"`
	SendEmail bool   `json:"sendEmail"`
}

// RawRequest 工具入口收到的原始参数
type RawRequest struct {
	Code      string
	Recipient string
	OutputDir string
	Subject   string
	Body      string
	SendEmail bool
}

// Readiness 图表区域探测结果
type Readiness int

const (
	NotReady Readiness = iota
	Ready
	Suspect
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case Suspect:
		return "suspect"
	default:
		return "not-ready"
	}
}

// CaptureOutcome 等待渲染的结果，Ready 为 false 即超时
type CaptureOutcome struct {
	Ready    bool
	Image    []byte
	Width    int
	Height   int
	Selector string
	Polls    int
	Elapsed  time.Duration
	LastErr  error
}

// EngineAttempt 单个转换引擎的一次尝试记录
type EngineAttempt struct {
	Engine     string `json:"engine"`
	Absent     bool   `json:"absent,omitempty"`
	TimedOut   bool   `json:"timedOut,omitempty"`
	Err        string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMS"`
}

// ConversionResult 文档转换结果
type ConversionResult struct {
	OutputPath string          `json:"outputPath,omitempty"`
	EngineUsed string          `json:"engineUsed,omitempty"`
	Attempts   []EngineAttempt `json:"attempts"`
}

// OK 是否转换成功
func (r ConversionResult) OK() bool { return r.EngineUsed != "" }

// PipelineResult 返回给调用方的聚合结果，失败时同样完整填充
type PipelineResult struct {
	RunID           RunID           `json:"runId"`
	Status          Status          `json:"status"`
	Ticker          string          `json:"ticker"`
	Recipient       string          `json:"recipient"`
	SourceURL       string          `json:"sourceUrl"`
	FinalURL        string          `json:"finalUrl,omitempty"`
	ImagePath       string          `json:"imagePath,omitempty"`
	DocumentPath    string          `json:"docxPath,omitempty"`
	PDFPath         string          `json:"pdfPath,omitempty"`
	CaptureSelector string          `json:"captureSelector,omitempty"`
	CapturePolls    int             `json:"capturePolls"`
	CaptureMS       int64           `json:"captureMS"`
	EngineUsed      string          `json:"engineUsed,omitempty"`
	EngineAttempts  []EngineAttempt `json:"engineAttempts,omitempty"`
	EmailRequested  bool            `json:"emailRequested"`
	EmailSent       bool            `json:"emailSent"`
	EmailError      string          `json:"emailError,omitempty"`
	CompletedStages []Stage         `json:"completedStages"`
	FailedStage     Stage           `json:"failedStage,omitempty"`
	ErrorKind       Kind            `json:"errorKind,omitempty"`
	Error           string          `json:"error,omitempty"`
	StartedAt       string          `json:"startedAt"`
	FinishedAt      string          `json:"finishedAt,omitempty"`
}

// Complete 标记阶段完成
func (r *PipelineResult) Complete(s Stage) { r.CompletedStages = append(r.CompletedStages, s) }

// Fail 记录失败阶段与原因
func (r *PipelineResult) Fail(err *Error) {
	r.Status = StatusFailed
	r.FailedStage = err.Stage
	r.ErrorKind = err.Kind
	r.Error = err.Error()
}

// ToolResponse 工具入口的结构化响应，区分重复、失败与成功
type ToolResponse struct {
	Status        Status          `json:"status"`
	Deduplicated  bool            `json:"deduplicated"`
	DedupeReason  string          `json:"dedupeReason,omitempty"`
	RetryAfterSec int             `json:"retryAfterSeconds,omitempty"`
	WindowSec     int             `json:"dedupeWindowSeconds"`
	ErrorKind     Kind            `json:"errorKind,omitempty"`
	Error         string          `json:"error,omitempty"`
	Result        *PipelineResult `json:"result,omitempty"`
}

// RunSummary 运行日志条目
type RunSummary struct {
	RunID       RunID  `json:"runId"`
	Ticker      string `json:"ticker"`
	Recipient   string `json:"recipient"`
	Status      Status `json:"status"`
	FailedStage Stage  `json:"failedStage,omitempty"`
	PDFPath     string `json:"pdfPath,omitempty"`
	EngineUsed  string `json:"engineUsed,omitempty"`
	EmailSent   bool   `json:"emailSent"`
	CaptureMS   int64  `json:"captureMS,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"createdAt"`
}
