package diffusion

import (
	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/internal/audio"
)

// fitFrames 截断或重复末帧，使序列恰好 n 帧
func fitFrames(s *svc.Sequence, n int) *svc.Sequence {
	if s.Len() >= n {
		return s.Slice(0, n)
	}
	out := svc.NewSequence(n, s.Dim)
	copy(out.Data, s.Data)
	if s.Len() > 0 {
		last := s.Frame(s.Len() - 1)
		for i := s.Len(); i < n; i++ {
			copy(out.Frame(i), last)
		}
	}
	return out
}

// fitScalars 标量版本的 fitFrames
func fitScalars(v []float32, n int) []float32 {
	return fitFrames(svc.ScalarSequence(v), n).Data
}

// applyMask 原地逐采样相乘，超出掩码长度的部分不变
func applyMask(wav, mask []float32) {
	for i := range min(len(wav), len(mask)) {
		wav[i] *= mask[i]
	}
}

// sliceClamp 按切片语义截断的 s[from:to]
func sliceClamp(s []float32, from, to int) []float32 {
	from = min(max(from, 0), len(s))
	to = min(max(to, from), len(s))
	return s[from:to]
}

// gtSpec 浅扩散的真实频谱：重采样到模型采样率后提取，末帧重复到至少 frames 帧
func gtSpec(ctx *Context, samples []float32, sr, frames int) (*svc.Sequence, error) {
	modelSR := ctx.args.Data.SamplingRate
	in := samples
	if sr != modelSR {
		var err error
		if in, err = audio.Resample(samples, sr, modelSR); err != nil {
			return nil, svc.NewError(svc.CodeInferenceFailed, "真实频谱重采样失败").WithCause(err)
		}
	}
	mel, err := ctx.vocoder.Extract(in, modelSR)
	if err != nil {
		return nil, err
	}
	mel = mel.AppendLast()
	if mel.Len() < frames {
		mel = fitFrames(mel, frames)
	}
	return mel, nil
}

// crossFade 在 idx 处把 b 叠到 a 的尾部，结果长度为 idx+len(b)
//
// 重叠区 [idx, len(a)) 内 a 线性淡出、b 线性淡入；b 比重叠区短时只在 b 的长度内混合。
func crossFade(a, b []float32, idx int) []float32 {
	idx = min(max(idx, 0), len(a))
	out := make([]float32, idx+len(b))
	copy(out, a[:idx])

	fadeLen := min(len(a)-idx, len(b))
	for i := 0; i < fadeLen; i++ {
		var k float32
		if fadeLen > 1 {
			k = float32(i) / float32(fadeLen-1)
		}
		out[idx+i] = (1-k)*a[idx+i] + k*b[i]
	}
	copy(out[idx+fadeLen:], b[fadeLen:])
	return out
}

// stitcher 按起点升序拼接片段，空隙补零、重叠处交叉淡化
type stitcher struct {
	result []float32
	cursor int
}

// add 放置起点为 start (采样点) 的片段，返回本次的 silent 长度
func (s *stitcher) add(start int, seg []float32) int {
	silent := start - s.cursor
	if silent >= 0 {
		s.result = append(s.result, make([]float32, silent)...)
		s.result = append(s.result, seg...)
	} else {
		s.result = crossFade(s.result, seg, s.cursor+silent)
	}
	s.cursor += silent + len(seg)
	return silent
}
