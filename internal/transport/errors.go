package transport

import (
	"errors"
	"fmt"
)

// AppError 后端返回 code != 1 的业务错误，Msg 为后端原始消息
type AppError struct {
	Op   string
	Code int
	Msg  string
}

func (e *AppError) Error() string {
	return e.Msg
}

// NewAppError 从响应构建业务错误，后端未给出 msg 时使用 fallback
func NewAppError(op string, env *Envelope, fallback string) *AppError {
	appErr := &AppError{Op: op, Msg: fallback}
	if env != nil {
		appErr.Code = env.Code
		if env.Msg != "" {
			appErr.Msg = env.Msg
		}
	}
	return appErr
}

// TransportError 网络或 HTTP 层失败
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: http status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StateError 成功响应但缺少预期字段
type StateError struct {
	Op    string
	Field string
	Err   error
}

func (e *StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response field %q: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: malformed response, missing %q", e.Op, e.Field)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

func IsStateError(err error) bool {
	var sErr *StateError
	return errors.As(err, &sErr)
}
