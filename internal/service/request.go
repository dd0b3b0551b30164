package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"asxreport/internal/ticker"
	"asxreport/pkg/model"
)

// newValidator 注册 ticker 标签
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return ticker.Valid(fl.Field().String())
	})
	return v
}

// Defaults 请求缺省值
type Defaults struct {
	Ticker    string
	Recipient string
	OutputDir string
}

// NewReportRequest 规范化原始参数，无法识别代码或收件人无效时返回 ValidationError
func NewReportRequest(v *validator.Validate, raw model.RawRequest, d Defaults) (model.ReportRequest, error) {
	code := strings.TrimSpace(raw.Code)
	var t string
	if code == "" {
		t = strings.ToUpper(strings.TrimSpace(d.Ticker))
	} else if t = ticker.Normalize(code); t == "" {
		return model.ReportRequest{}, model.NewError(model.KindValidation, model.StageValidate, nil,
			"could not determine an ASX code from %q", code)
	}

	recipient := strings.ToLower(strings.TrimSpace(raw.Recipient))
	if recipient == "" {
		recipient = strings.ToLower(strings.TrimSpace(d.Recipient))
	}
	outDir := strings.TrimSpace(raw.OutputDir)
	if outDir == "" {
		outDir = d.OutputDir
	}

	req := model.ReportRequest{
		Ticker:    t,
		Recipient: recipient,
		OutputDir: outDir,
		Subject:   strings.TrimSpace(raw.Subject),
		Body:      raw.Body,
		SendEmail: raw.SendEmail,
	}
	if err := v.Struct(req); err != nil {
		return model.ReportRequest{}, model.NewError(model.KindValidation, model.StageValidate, nil, "%s", describe(err))
	}
	return req, nil
}

func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "email":
			parts = append(parts, fmt.Sprintf("recipient %q is not a valid email address", fe.Value()))
		case "ticker":
			parts = append(parts, fmt.Sprintf("ticker %q is not a valid ASX code", fe.Value()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
