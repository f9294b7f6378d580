package svc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_DefaultSilent(t *testing.T) {
	prev := logger.Swap(nil)
	defer logger.Store(prev)

	l := Logger()
	assert.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
	assert.Same(t, l, Logger())
}

func TestSetLogger(t *testing.T) {
	prev := logger.Load()
	defer logger.Store(prev)

	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	Logger().Info("加载模型")
	assert.Equal(t, 1, logs.Len())

	SetLogger(nil)
	assert.False(t, Logger().Core().Enabled(zapcore.ErrorLevel))
}
