package volume

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_FrameCount(t *testing.T) {
	e := NewExtractor(512, 44100)
	assert.Equal(t, 512, e.BlockSize())
	assert.Len(t, e.Extract(make([]float32, 44100), 44100), 87)
	assert.Len(t, e.Extract(make([]float32, 16000), 16000), 87)
	assert.Len(t, e.Extract(nil, 44100), 1)
}

func TestExtractor_RMS(t *testing.T) {
	e := NewExtractor(512, 44100)
	samples := make([]float32, 512*20)
	for i := range samples {
		samples[i] = 0.5
	}
	vol := e.Extract(samples, 44100)
	for i, v := range vol {
		assert.InDelta(t, 0.5, float64(v), 1e-6, "frame %d", i)
	}

	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 441 * float64(i) / 44100))
	}
	vol = e.Extract(samples, 44100)
	assert.InDelta(t, 1/math.Sqrt2, float64(vol[10]), 0.02)
}

func TestExtractor_Mask(t *testing.T) {
	e := NewExtractor(4, 44100)
	vol := make([]float32, 20)
	vol[10] = 0.5

	mask := e.Mask(vol, -60)
	require.Len(t, mask, 20*4)
	// 第 10 帧左右各扩张 4 帧
	assert.Equal(t, float32(0), mask[5*4])
	assert.Equal(t, float32(1), mask[6*4])
	assert.Equal(t, float32(1), mask[14*4])
	assert.Equal(t, float32(0), mask[15*4])
	// 上升沿线性过渡
	assert.Equal(t, float32(0.5), mask[5*4+2])

	assert.Nil(t, e.Mask(nil, -60))
	for _, v := range e.Mask(vol, 0) {
		assert.Zero(t, v)
	}
}

func TestUpsample(t *testing.T) {
	assert.Equal(t, []float32{0, 0.5, 1, 1}, Upsample([]float32{0, 1}, 2))
	assert.Equal(t, []float32{2, 2, 2}, Upsample([]float32{2}, 3))
	assert.Empty(t, Upsample(nil, 4))
}
