package f0

import "math"

const defaultYinThreshold = 0.15

// Yin 基于累积均值归一化差分函数的基频估计
type Yin struct {
	tauMin    int
	tauMax    int
	threshold float64
}

// NewYin 创建 YIN 后端，搜索范围为 [f0Min, f0Max]
func NewYin(f0Min, f0Max float64) *Yin {
	return &Yin{
		tauMin:    max(int(SampleRate/f0Max), 2),
		tauMax:    int(math.Ceil(SampleRate / f0Min)),
		threshold: defaultYinThreshold,
	}
}

// Estimate 逐帧估计，帧中心位于 i*HopSize
func (y *Yin) Estimate(samples []float32) ([]float32, error) {
	nFrames := len(samples)/HopSize + 1
	w := y.tauMax
	span := w + y.tauMax + 1
	buf := make([]float64, span)
	diff := make([]float64, y.tauMax+2)
	f0 := make([]float32, nFrames)

	for i := 0; i < nFrames; i++ {
		start := i*HopSize - span/2
		var energy float64
		for j := range buf {
			k := start + j
			if k >= 0 && k < len(samples) {
				buf[j] = float64(samples[k])
			} else {
				buf[j] = 0
			}
			if j < w {
				energy += buf[j] * buf[j]
			}
		}
		if math.Sqrt(energy/float64(w)) < 1e-4 {
			continue
		}
		f0[i] = float32(y.frame(buf, diff, w))
	}
	return f0, nil
}

// frame 单帧估计，无可靠周期时返回 0
func (y *Yin) frame(buf, diff []float64, w int) float64 {
	diff[0] = 1
	var running float64
	for tau := 1; tau < len(diff); tau++ {
		var d float64
		for j := 0; j < w; j++ {
			delta := buf[j] - buf[j+tau]
			d += delta * delta
		}
		running += d
		if running == 0 {
			diff[tau] = 1
			continue
		}
		diff[tau] = d * float64(tau) / running
	}

	for tau := y.tauMin; tau < y.tauMax; tau++ {
		if diff[tau] >= y.threshold {
			continue
		}
		for tau+1 < y.tauMax && diff[tau+1] < diff[tau] {
			tau++
		}
		return SampleRate / parabolic(diff, tau)
	}
	return 0
}

// parabolic 抛物线插值细化极小值位置
func parabolic(d []float64, t int) float64 {
	if t <= 0 || t+1 >= len(d) {
		return float64(t)
	}
	a, b, c := d[t-1], d[t], d[t+1]
	den := a - 2*b + c
	if den == 0 {
		return float64(t)
	}
	return float64(t) + (a-c)/(2*den)
}

// Destroy 无资源
func (y *Yin) Destroy() error { return nil }
