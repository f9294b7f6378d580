package svc

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码
type ErrorCode string

const (
	// CodeNotLoaded 模型或协作组件尚未加载
	CodeNotLoaded ErrorCode = "NOT_LOADED"
	// CodePrecondition 通用前置条件不满足
	CodePrecondition ErrorCode = "PRECONDITION"
	// CodeGTSpecRequired 设置了 k_step 但缺少真实频谱
	CodeGTSpecRequired ErrorCode = "GT_SPEC_REQUIRED"
	// CodeKStepRange k_step 超出 (0, 1000]
	CodeKStepRange ErrorCode = "K_STEP_RANGE"
	// CodeSampleRateMismatch 采样率不匹配
	CodeSampleRateMismatch ErrorCode = "SAMPLE_RATE_MISMATCH"
	// CodeMissingEmbedding 声纹字典中找不到说话人
	CodeMissingEmbedding ErrorCode = "MISSING_EMBEDDING"
	// CodeIncompatibleCondition 说话人条件与模型不兼容
	CodeIncompatibleCondition ErrorCode = "INCOMPATIBLE_CONDITION"
	// CodeUnsupportedMethod 未知采样方法
	CodeUnsupportedMethod ErrorCode = "UNSUPPORTED_METHOD"
	// CodeLoadFailed 加载失败
	CodeLoadFailed ErrorCode = "LOAD_FAILED"
	// CodeInferenceFailed 推理失败
	CodeInferenceFailed ErrorCode = "INFERENCE_FAILED"
)

var (
	ErrNotLoaded             = &Error{Code: CodeNotLoaded}
	ErrPrecondition          = &Error{Code: CodePrecondition}
	ErrGTSpecRequired        = &Error{Code: CodeGTSpecRequired}
	ErrKStepRange            = &Error{Code: CodeKStepRange}
	ErrSampleRateMismatch    = &Error{Code: CodeSampleRateMismatch}
	ErrMissingEmbedding      = &Error{Code: CodeMissingEmbedding}
	ErrIncompatibleCondition = &Error{Code: CodeIncompatibleCondition}
	ErrUnsupportedMethod     = &Error{Code: CodeUnsupportedMethod}
	ErrLoadFailed            = &Error{Code: CodeLoadFailed}
	ErrInferenceFailed       = &Error{Code: CodeInferenceFailed}
)

// Error 带错误码的结构化错误
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// NewError 创建错误
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause 设置底层原因
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Cause == nil:
		return fmt.Sprintf("[%s]", e.Code)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, ErrXxx) 可用
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// GetErrorCode 提取错误码
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
