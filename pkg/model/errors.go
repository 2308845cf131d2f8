package model

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	ErrInvalidDestination ErrorKind = "InvalidDestination"
	ErrHTTPStatus         ErrorKind = "HttpStatusError"
	ErrNetwork            ErrorKind = "NetworkError"
	ErrWrite              ErrorKind = "WriteError"

	ErrLoad          ErrorKind = "LoadError"
	ErrReplayNetwork ErrorKind = "ReplayNetworkError"
	ErrParse         ErrorKind = "ParseError"

	// ErrHeaderSet 单个请求头设置失败，仅记录不终止会话
	ErrHeaderSet ErrorKind = "HeaderSetError"
)

// SessionError 会话错误
type SessionError struct {
	Kind      ErrorKind
	Code      int
	Message   string
	RawPrefix string
	Err       error
}

func (e *SessionError) Error() string { return e.Message }

func (e *SessionError) Unwrap() error { return e.Err }

// NewError 创建会话错误
func NewError(kind ErrorKind, err error, format string, args ...any) *SessionError {
	return &SessionError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// HTTPStatusError 非 200 响应
func HTTPStatusError(code int) *SessionError {
	return &SessionError{Kind: ErrHTTPStatus, Code: code, Message: fmt.Sprintf("HTTP错误: %d", code)}
}

// KindOf 返回错误分类，非会话错误返回空
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
