// Package slicer 按静音切分长音频
package slicer

import (
	"math"
)

// Options 切分参数，时长单位均为毫秒
type Options struct {
	ThresholdDB float64 // 静音阈值
	MinLength   int     // 最短片段
	MinInterval int     // 最短静音间隔
	HopSize     int     // RMS 帧移
	MaxSilKept  int     // 片段两侧最多保留的静音
}

// DefaultOptions 默认切分参数
func DefaultOptions() Options {
	return Options{
		ThresholdDB: -40,
		MinLength:   5000,
		MinInterval: 300,
		HopSize:     20,
		MaxSilKept:  5000,
	}
}

// Chunk 切分结果，[Begin, End) 为采样点区间
type Chunk struct {
	Begin, End int
	// Silent 为 true 表示该区间为切掉的静音
	Silent bool
}

// Slicer 静音切分器
type Slicer struct {
	threshold   float64
	hopSize     int
	winSize     int
	minLength   int
	minInterval int
	maxSilKept  int
}

// New 创建 sr 采样率下的切分器
func New(sr int, opts Options) *Slicer {
	minInterval := float64(sr) * float64(opts.MinInterval) / 1000
	hop := max(int(math.Round(float64(sr)*float64(opts.HopSize)/1000)), 1)
	return &Slicer{
		threshold:   math.Pow(10, opts.ThresholdDB/20),
		hopSize:     hop,
		winSize:     max(min(int(math.Round(minInterval)), 4*hop), 1),
		minLength:   int(math.Round(float64(sr) * float64(opts.MinLength) / 1000 / float64(hop))),
		minInterval: int(math.Round(minInterval / float64(hop))),
		maxSilKept:  int(math.Round(float64(sr) * float64(opts.MaxSilKept) / 1000 / float64(hop))),
	}
}

// Slice 切分，返回覆盖整段音频、按起点升序的区间
func (s *Slicer) Slice(wave []float32) []Chunk {
	n := len(wave)
	whole := []Chunk{{Begin: 0, End: n}}
	if (n+s.hopSize-1)/s.hopSize <= s.minLength {
		return whole
	}

	rms := s.rms(wave)
	type tag struct{ l, r int }
	var tags []tag
	silenceStart := -1
	clipStart := 0
	for i, v := range rms {
		if v < s.threshold {
			if silenceStart < 0 {
				silenceStart = i
			}
			continue
		}
		if silenceStart < 0 {
			continue
		}
		leading := silenceStart == 0 && i > s.maxSilKept
		middle := i-silenceStart >= s.minInterval && i-clipStart >= s.minLength
		if !leading && !middle {
			silenceStart = -1
			continue
		}

		switch {
		case i-silenceStart <= s.maxSilKept:
			pos := argmin(rms, silenceStart, i+1)
			if silenceStart == 0 {
				tags = append(tags, tag{0, pos})
			} else {
				tags = append(tags, tag{pos, pos})
			}
			clipStart = pos
		case i-silenceStart <= s.maxSilKept*2:
			pos := argmin(rms, i-s.maxSilKept, silenceStart+s.maxSilKept+1)
			posL := argmin(rms, silenceStart, silenceStart+s.maxSilKept+1)
			posR := argmin(rms, i-s.maxSilKept, i+1)
			if silenceStart == 0 {
				tags = append(tags, tag{0, posR})
				clipStart = posR
			} else {
				tags = append(tags, tag{min(posL, pos), max(posR, pos)})
				clipStart = max(posR, pos)
			}
		default:
			posL := argmin(rms, silenceStart, silenceStart+s.maxSilKept+1)
			posR := argmin(rms, i-s.maxSilKept, i+1)
			if silenceStart == 0 {
				tags = append(tags, tag{0, posR})
			} else {
				tags = append(tags, tag{posL, posR})
			}
			clipStart = posR
		}
		silenceStart = -1
	}

	total := len(rms)
	if silenceStart >= 0 && total-silenceStart >= s.minInterval {
		end := min(total, silenceStart+s.maxSilKept)
		pos := argmin(rms, silenceStart, end+1)
		tags = append(tags, tag{pos, total + 1})
	}
	if len(tags) == 0 {
		return whole
	}

	hop := s.hopSize
	var chunks []Chunk
	if tags[0].l > 0 {
		chunks = append(chunks, Chunk{Begin: 0, End: min(n, tags[0].l*hop)})
	}
	for i, t := range tags {
		if i > 0 {
			chunks = append(chunks, Chunk{Begin: tags[i-1].r * hop, End: min(n, t.l*hop)})
		}
		chunks = append(chunks, Chunk{Begin: t.l * hop, End: min(n, t.r*hop), Silent: true})
	}
	if last := tags[len(tags)-1].r * hop; last < n {
		chunks = append(chunks, Chunk{Begin: last, End: n})
	}
	return chunks
}

// rms 居中、零填充的逐帧均方根，帧数为 len/hop + 1
func (s *Slicer) rms(wave []float32) []float64 {
	nFrames := len(wave)/s.hopSize + 1
	half := s.winSize / 2
	out := make([]float64, nFrames)
	for i := range out {
		start := i*s.hopSize - half
		var sum float64
		for j := start; j < start+s.winSize; j++ {
			if j >= 0 && j < len(wave) {
				v := float64(wave[j])
				sum += v * v
			}
		}
		out[i] = math.Sqrt(sum / float64(s.winSize))
	}
	return out
}

// argmin 返回 [from, to) 内的最小值下标，区间按切片语义截断
func argmin(v []float64, from, to int) int {
	from = min(max(from, 0), len(v))
	to = min(max(to, from), len(v))
	if from == to {
		return from
	}
	best := from
	for i := from + 1; i < to; i++ {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}
