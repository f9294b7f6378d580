package f0

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYin_Sine(t *testing.T) {
	for _, hz := range []float64{110, 220, 440} {
		samples := make([]float32, SampleRate/2)
		for i := range samples {
			samples[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/SampleRate))
		}
		f0, err := NewYin(65, 800).Estimate(samples)
		require.NoError(t, err)
		require.Len(t, f0, len(samples)/HopSize+1)

		// 去掉首尾受边界影响的帧
		for i := 10; i < len(f0)-10; i++ {
			assert.InDelta(t, hz, float64(f0[i]), hz*0.01, "hz=%v frame=%d", hz, i)
		}
	}
}

func TestYin_Silence(t *testing.T) {
	f0, err := NewYin(65, 800).Estimate(make([]float32, 3200))
	require.NoError(t, err)
	for _, v := range f0 {
		assert.Zero(t, v)
	}
}
