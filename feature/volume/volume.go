// Package volume 提取逐帧响度并生成采样级静音掩码
package volume

import (
	"math"

	"github.com/getcharzp/go-svc/internal/audio"
)

const (
	// DefaultThresholdDB 默认静音阈值
	DefaultThresholdDB = -60.0
	// maskDilate 掩码左右扩张的帧数
	maskDilate = 4
)

// Extractor 响度提取器
//
// 帧移随输入采样率变化: hop = blockSize * sr / modelSampleRate，
// 使得任意输入采样率下的帧都与模型帧对齐。
type Extractor struct {
	blockSize       int
	modelSampleRate int
}

// NewExtractor 创建响度提取器
//
// # Params:
//
//	blockSize: 模型帧移 (模型采样率下的采样点数)
//	modelSampleRate: 模型采样率
func NewExtractor(blockSize, modelSampleRate int) *Extractor {
	return &Extractor{blockSize: blockSize, modelSampleRate: modelSampleRate}
}

// BlockSize 模型帧移
func (e *Extractor) BlockSize() int { return e.blockSize }

// Extract 计算逐帧 RMS 响度，帧数为 len(audio)/hop + 1
func (e *Extractor) Extract(samples []float32, sr int) []float32 {
	hop := float64(e.blockSize) * float64(sr) / float64(e.modelSampleRate)
	nFrames := audio.FrameCount(len(samples), hop)

	squared := make([]float32, len(samples))
	for i, v := range samples {
		squared[i] = v * v
	}
	padded := audio.ReflectPad(squared, int(hop/2), int((hop+1)/2))

	vol := make([]float32, nFrames)
	for n := 0; n < nFrames; n++ {
		start := min(int(float64(n)*hop), len(padded))
		end := min(int(float64(n+1)*hop), len(padded))
		if end <= start {
			continue
		}
		var sum float64
		for _, v := range padded[start:end] {
			sum += float64(v)
		}
		vol[n] = float32(math.Sqrt(sum / float64(end-start)))
	}
	return vol
}

// Mask 由响度生成静音掩码 (模型采样率下的采样级)
//
// 响度超过阈值的帧记为 1，左右各扩张 4 帧后按 blockSize 线性上采样。
func (e *Extractor) Mask(vol []float32, thresholdDB float64) []float32 {
	if len(vol) == 0 {
		return nil
	}
	thr := math.Pow(10, thresholdDB/20)
	frames := make([]float32, len(vol))
	for i, v := range vol {
		if float64(v) > thr {
			frames[i] = 1
		}
	}

	// 边界用首尾值填充后做宽度为 9 的最大值滤波
	dilated := make([]float32, len(frames))
	for n := range frames {
		var m float32
		for k := n - maskDilate; k <= n+maskDilate; k++ {
			j := min(max(k, 0), len(frames)-1)
			m = max(m, frames[j])
		}
		dilated[n] = m
	}
	return Upsample(dilated, e.blockSize)
}

// Upsample 帧级信号线性上采样 factor 倍 (align_corners，末帧重复一次)
func Upsample(frames []float32, factor int) []float32 {
	n := len(frames)
	out := make([]float32, n*factor)
	for k := 0; k < n; k++ {
		cur := frames[k]
		next := cur
		if k+1 < n {
			next = frames[k+1]
		}
		for j := 0; j < factor; j++ {
			out[k*factor+j] = cur + (next-cur)*float32(j)/float32(factor)
		}
	}
	return out
}
