package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResampler_Invalid(t *testing.T) {
	_, err := NewResampler(0, 16000)
	assert.Error(t, err)
	_, err = Resample([]float32{1}, 16000, -1)
	assert.Error(t, err)
}

func TestResampler_SameRate(t *testing.T) {
	r, err := NewResampler(16000, 16000)
	require.NoError(t, err)
	in := []float32{1, 2, 3}
	out, err := r.Resample(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	out[0] = 9
	assert.Equal(t, float32(1), in[0])
}

func TestResampler_Length(t *testing.T) {
	out, err := Resample(make([]float32, 4410), 44100, 16000)
	require.NoError(t, err)
	assert.Len(t, out, 1600)

	out, err = Resample([]float32{}, 44100, 16000)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCache(t *testing.T) {
	c := NewCache(16000)
	var hits, misses int
	c.OnLookup = func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}

	in := []float32{1, 2, 3}
	out, err := c.Resample(in, 16000)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	r1, err := c.Get(44100)
	require.NoError(t, err)
	r2, err := c.Get(44100)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.Equal(t, 44100, r1.From())
	assert.Equal(t, 16000, r1.To())

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, misses)
	assert.Equal(t, 16000, c.Target())

	_, err = c.Get(0)
	assert.Error(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestResampler_Reuse(t *testing.T) {
	r, err := NewResampler(44100, 16000)
	require.NoError(t, err)
	engine := r.engine
	require.NotNil(t, engine)

	in := make([]float32, 4410)
	for i := range in {
		in[i] = float32(i%100) / 100
	}
	first, err := r.Resample(in)
	require.NoError(t, err)
	second, err := r.Resample(in)
	require.NoError(t, err)

	// 复用同一个底层实例，且调用之间不残留流式状态
	assert.True(t, engine == r.engine)
	assert.Equal(t, first, second)
	assert.Len(t, second, 1600)
}

func TestCache_SharesEngine(t *testing.T) {
	c := NewCache(16000)
	r1, err := c.Get(44100)
	require.NoError(t, err)
	r2, err := c.Get(44100)
	require.NoError(t, err)
	require.NotNil(t, r1.engine)
	assert.True(t, r1.engine == r2.engine)

	same, err := c.Get(16000)
	require.NoError(t, err)
	assert.Nil(t, same.engine)
}
