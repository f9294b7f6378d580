package svc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := NewError(CodeKStepRange, "k_step=%d", 2000)
	assert.ErrorIs(t, err, ErrKStepRange)
	assert.NotErrorIs(t, err, ErrGTSpecRequired)

	wrapped := fmt.Errorf("外层: %w", err)
	assert.ErrorIs(t, wrapped, ErrKStepRange)
	assert.Equal(t, CodeKStepRange, GetErrorCode(wrapped))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_Cause(t *testing.T) {
	cause := errors.New("onnx failed")
	err := NewError(CodeInferenceFailed, "去噪失败").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrInferenceFailed)
	assert.Equal(t, "[INFERENCE_FAILED] 去噪失败: onnx failed", err.Error())
	assert.Equal(t, "[NOT_LOADED]", ErrNotLoaded.Error())
	assert.Equal(t, "[PRECONDITION] x", NewError(CodePrecondition, "x").Error())
}
