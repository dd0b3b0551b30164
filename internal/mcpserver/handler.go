package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"asxreport/internal/logger"
	"asxreport/pkg/model"
)

const (
	ToolCreateReport = "create_asx_report"
	ToolRecentRuns   = "list_recent_reports"
)

// Reporter 工具背后的服务
type Reporter interface {
	CreateReport(ctx context.Context, raw model.RawRequest) *model.ToolResponse
	RecentRuns(ctx context.Context, limit int, ticker string) ([]model.RunSummary, error)
}

// Handler 工具调用处理器
type Handler struct {
	svc Reporter
	log logger.Logger
}

// NewHandler 创建工具处理器
func NewHandler(svc Reporter, l logger.Logger) *Handler {
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{svc: svc, log: l}
}

var createReportTool = &mcp.Tool{
	Name: ToolCreateReport,
	Description: "Capture the Yahoo Finance AU chart for an ASX code, build a Word report, convert it to PDF " +
		"and optionally email the PDF through Mail.app. Identical requests are suppressed for a short window.",
	Annotations: &mcp.ToolAnnotations{Title: "Create ASX chart report"},
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"asx_code": map[string]any{
				"type":        "string",
				"description": "ASX code (e.g. HUB, BHP.AX), a Yahoo Finance quote URL, or free text naming the code",
			},
			"recipient": map[string]any{
				"type":        "string",
				"description": "Email address that receives the PDF",
			},
			"output_dir": map[string]any{
				"type":        "string",
				"description": "Directory for the PNG, DOCX and PDF artifacts",
			},
			"email_subject": map[string]any{"type": "string", "description": "Email subject line"},
			"email_body":    map[string]any{"type": "string", "description": "Email body text"},
			"send_email": map[string]any{
				"type":        "boolean",
				"description": "Send the PDF by email (default true)",
				"default":     true,
			},
		},
	},
}

var recentRunsTool = &mcp.Tool{
	Name:        ToolRecentRuns,
	Description: "List recently executed report runs, newest first.",
	Annotations: &mcp.ToolAnnotations{Title: "Recent ASX reports", ReadOnlyHint: true},
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Maximum entries (default 20, max 100)"},
			"ticker": map[string]any{"type": "string", "description": "Only runs for this ASX code"},
		},
	},
}

// Register 注册全部工具
func (h *Handler) Register(s *mcp.Server) {
	s.AddTool(createReportTool, h.CreateReport)
	s.AddTool(recentRunsTool, h.RecentRuns)
}

// parseCreateArgs 缺省的 send_email 视为 true
func parseCreateArgs(args json.RawMessage) (model.RawRequest, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(args) {
		return model.RawRequest{}, fmt.Errorf("arguments are not valid JSON")
	}
	a := gjson.ParseBytes(args)
	raw := model.RawRequest{
		Code:      a.Get("asx_code").String(),
		Recipient: a.Get("recipient").String(),
		OutputDir: a.Get("output_dir").String(),
		Subject:   a.Get("email_subject").String(),
		Body:      a.Get("email_body").String(),
		SendEmail: true,
	}
	if v := a.Get("send_email"); v.Exists() && v.Type != gjson.Null {
		raw.SendEmail = v.Bool()
	}
	return raw, nil
}

// CreateReport create_asx_report
func (h *Handler) CreateReport(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	raw, err := parseCreateArgs(req.Params.Arguments)
	if err != nil {
		return h.result(&model.ToolResponse{Status: model.StatusInvalid, ErrorKind: model.KindValidation, Error: err.Error()})
	}
	resp := h.svc.CreateReport(ctx, raw)
	h.log.Info("工具调用完成", "tool", ToolCreateReport, "status", resp.Status, "elapsed", time.Since(start).String())
	return h.result(resp)
}

// RecentRuns list_recent_reports
func (h *Handler) RecentRuns(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := gjson.ParseBytes(req.Params.Arguments)
	limit := int(a.Get("limit").Int())
	ticker := strings.ToUpper(strings.TrimSpace(a.Get("ticker").String()))

	runs, err := h.svc.RecentRuns(ctx, limit, ticker)
	if err != nil {
		h.log.Err(err, "读取运行记录失败")
		return errorResult(fmt.Sprintf("read run journal: %v", err)), nil
	}
	return jsonResult(map[string]any{"runs": runs}, false)
}

func (h *Handler) result(resp *model.ToolResponse) (*mcp.CallToolResult, error) {
	switch resp.Status {
	case model.StatusFailed, model.StatusInvalid, model.StatusBusy:
		return jsonResult(resp, true)
	default:
		return jsonResult(resp, false)
	}
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
		IsError: isError,
	}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
