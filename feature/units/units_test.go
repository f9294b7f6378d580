package units

import (
	"errors"
	"testing"

	"github.com/getcharzp/go-svc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel 每 320 个采样输出一帧，帧值为帧序号
type fakeModel struct {
	lastInput int
	err       error
}

func (m *fakeModel) Forward(samples []float32) (*svc.Sequence, error) {
	m.lastInput = len(samples)
	if m.err != nil {
		return nil, m.err
	}
	seq := svc.NewSequence(len(samples)/320, 2)
	for i := 0; i < seq.Len(); i++ {
		seq.Frame(i)[0] = float32(i)
		seq.Frame(i)[1] = float32(i)
	}
	return seq, nil
}

func (m *fakeModel) Destroy() error { return nil }

func testConfig(mode string) Config {
	return Config{SampleRate: 16000, HopSize: 320, Channels: 2, ForcedMode: mode}
}

func TestNewEncoder_Invalid(t *testing.T) {
	_, err := NewEncoder(Config{})
	assert.Error(t, err)
	_, err = NewEncoder(Config{ModelPath: "hubert.onnx"})
	assert.Error(t, err)
	_, err = NewEncoderWithModel(testConfig("right"), &fakeModel{})
	assert.Error(t, err)
	_, err = NewEncoderWithModel(Config{ForcedMode: ModeLeft}, &fakeModel{})
	assert.Error(t, err)
}

func TestEncoder_Align(t *testing.T) {
	m := &fakeModel{}
	e, err := NewEncoderWithModel(testConfig(""), m)
	require.NoError(t, err)

	// 模型帧移 160 (16kHz)，编码器帧移 320：每两帧对应一个编码器帧
	u, err := e.Encode(make([]float32, 16000), 16000, 160)
	require.NoError(t, err)
	assert.Equal(t, 101, u.Len())
	assert.Equal(t, 2, u.Dim)
	assert.Equal(t, float32(0), u.Frame(0)[0])
	assert.Equal(t, float32(0), u.Frame(1)[0]) // 0.5 -> 0
	assert.Equal(t, float32(2), u.Frame(3)[0]) // 1.5 -> 2
	assert.Equal(t, float32(49), u.Frame(100)[0])

	left, err := NewEncoderWithModel(testConfig(ModeLeft), m)
	require.NoError(t, err)
	u, err = left.Encode(make([]float32, 16000), 16000, 160)
	require.NoError(t, err)
	assert.Equal(t, float32(1), u.Frame(3)[0])
}

func TestEncoder_ShortInput(t *testing.T) {
	m := &fakeModel{}
	e, err := NewEncoderWithModel(testConfig(ModeNearest), m)
	require.NoError(t, err)

	u, err := e.Encode(make([]float32, 100), 16000, 185.76)
	require.NoError(t, err)
	assert.Equal(t, minSamples, m.lastInput)
	assert.Equal(t, 1, u.Len())
}

func TestEncoder_Errors(t *testing.T) {
	e, err := NewEncoderWithModel(testConfig(""), &fakeModel{err: errors.New("boom")})
	require.NoError(t, err)
	_, err = e.Encode(make([]float32, 1600), 16000, 160)
	assert.Error(t, err)

	empty := &emptyModel{}
	e, err = NewEncoderWithModel(testConfig(""), empty)
	require.NoError(t, err)
	_, err = e.Encode(make([]float32, 1600), 16000, 160)
	assert.Error(t, err)
	assert.NoError(t, e.Destroy())
}

type emptyModel struct{}

func (emptyModel) Forward([]float32) (*svc.Sequence, error) { return svc.NewSequence(0, 2), nil }
func (emptyModel) Destroy() error                           { return nil }
