package model

import (
	"errors"
	"fmt"
)

// Kind 错误分类，取值对调用方稳定
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindNavigation  Kind = "NavigationFailed"
	KindCapture     Kind = "CaptureTimeout"
	KindDocument    Kind = "DocumentFailed"
	KindConversion  Kind = "ConversionFailed"
	KindMail        Kind = "MailDispatchFailed"
	KindDuplicate   Kind = "DuplicateSuppressed"
	KindBusy        Kind = "Busy"
	KindUnavailable Kind = "Unavailable"
)

// Error 流水线结构化错误
type Error struct {
	Kind  Kind
	Stage Stage
	Msg   string
	Err   error
}

// NewError 创建结构化错误
func NewError(kind Kind, stage Stage, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按 Kind 匹配，便于 errors.Is(err, &Error{Kind: KindCapture})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// KindOf 提取错误分类，非结构化错误返回空
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf 提取失败阶段
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
