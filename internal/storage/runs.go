package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"

	"asxreport/pkg/model"
)

// RunRecord 运行日志表
type RunRecord struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"uniqueIndex;size:64"`
	Ticker      string `gorm:"index;size:16"`
	Recipient   string `gorm:"size:320"`
	Status      string `gorm:"index;size:16"`
	FailedStage string `gorm:"size:16"`
	ErrorKind   string `gorm:"size:32"`
	PDFPath     string
	EngineUsed  string `gorm:"size:32"`
	EmailSent   bool
	Detail      string `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

// RunStore 运行日志读写
type RunStore struct {
	db *gorm.DB
}

// NewRunStore 创建运行日志存储
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// detailJSON 不适合单独建列的字段
func detailJSON(res *model.PipelineResult) (string, error) {
	detail := "{}"
	sets := []struct {
		path  string
		value any
	}{
		{"sourceUrl", res.SourceURL},
		{"finalUrl", res.FinalURL},
		{"imagePath", res.ImagePath},
		{"docxPath", res.DocumentPath},
		{"capture.selector", res.CaptureSelector},
		{"capture.polls", res.CapturePolls},
		{"capture.ms", res.CaptureMS},
		{"engineAttempts", res.EngineAttempts},
		{"completedStages", res.CompletedStages},
		{"emailRequested", res.EmailRequested},
		{"emailError", res.EmailError},
		{"error", res.Error},
		{"startedAt", res.StartedAt},
		{"finishedAt", res.FinishedAt},
	}
	var err error
	for _, s := range sets {
		if detail, err = sjson.Set(detail, s.path, s.value); err != nil {
			return "", fmt.Errorf("encode %s: %w", s.path, err)
		}
	}
	return detail, nil
}

// Save 写入一次执行结果
func (s *RunStore) Save(ctx context.Context, res *model.PipelineResult) error {
	detail, err := detailJSON(res)
	if err != nil {
		return err
	}
	rec := RunRecord{
		RunID:       string(res.RunID),
		Ticker:      res.Ticker,
		Recipient:   res.Recipient,
		Status:      string(res.Status),
		FailedStage: string(res.FailedStage),
		ErrorKind:   string(res.ErrorKind),
		PDFPath:     res.PDFPath,
		EngineUsed:  res.EngineUsed,
		EmailSent:   res.EmailSent,
		Detail:      detail,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	return nil
}

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// clampLimit 未指定取默认值，超出上限截到上限
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return min(limit, maxRecentLimit)
}

// Recent 按时间倒序返回最近的运行，ticker 为空时不过滤
func (s *RunStore) Recent(ctx context.Context, limit int, ticker string) ([]model.RunSummary, error) {
	q := s.db.WithContext(ctx).Order("created_at desc").Order("id desc").Limit(clampLimit(limit))
	if t := strings.ToUpper(strings.TrimSpace(ticker)); t != "" {
		q = q.Where("ticker = ?", t)
	}
	var recs []RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]model.RunSummary, 0, len(recs))
	for _, r := range recs {
		d := gjson.Parse(r.Detail)
		out = append(out, model.RunSummary{
			RunID:       model.RunID(r.RunID),
			Ticker:      r.Ticker,
			Recipient:   r.Recipient,
			Status:      model.Status(r.Status),
			FailedStage: model.Stage(r.FailedStage),
			PDFPath:     r.PDFPath,
			EngineUsed:  r.EngineUsed,
			EmailSent:   r.EmailSent,
			CaptureMS:   d.Get("capture.ms").Int(),
			Error:       d.Get("error").String(),
			CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// Detail 返回某次运行的详细 JSON
func (s *RunStore) Detail(ctx context.Context, runID model.RunID) (string, error) {
	var rec RunRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", string(runID)).First(&rec).Error; err != nil {
		return "", err
	}
	return rec.Detail, nil
}
