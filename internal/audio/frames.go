// Package audio 提供与模型无关的音频/帧序列工具：重采样、帧对齐、插值。
package audio

import (
	"math"

	"github.com/getcharzp/go-svc"
)

// FrameCount 按 hop 计算帧数: len / hop + 1
func FrameCount(numSamples int, hop float64) int {
	return int(float64(numSamples)/hop) + 1
}

// AlignIndex 计算 n 个目标帧在源序列中的索引
//
// ratio 为目标帧长与源帧长之比；round 为 false 时向下取整。
// 结果被截断到 [0, srcFrames-1]。
func AlignIndex(srcFrames, n int, ratio float64, round bool) []int {
	idx := make([]int, n)
	for i := range idx {
		pos := ratio * float64(i)
		var j int
		if round {
			j = int(math.RoundToEven(pos))
		} else {
			j = int(math.Floor(pos))
		}
		idx[i] = min(max(j, 0), srcFrames-1)
	}
	return idx
}

// Gather 按索引取帧
func Gather(seq *svc.Sequence, idx []int) *svc.Sequence {
	out := svc.NewSequence(len(idx), seq.Dim)
	for i, j := range idx {
		copy(out.Frame(i), seq.Frame(j))
	}
	return out
}

// Interp 一维线性插值，语义同 numpy.interp
func Interp(x, xp, fp []float64) []float64 {
	out := make([]float64, len(x))
	if len(xp) == 0 {
		return out
	}
	last := len(xp) - 1
	j := 0
	for i, v := range x {
		switch {
		case v <= xp[0]:
			out[i] = fp[0]
		case v >= xp[last]:
			out[i] = fp[last]
		default:
			for j > 0 && xp[j] > v {
				j--
			}
			for j < last && xp[j+1] < v {
				j++
			}
			x0, x1 := xp[j], xp[j+1]
			if x1 == x0 {
				out[i] = fp[j]
				continue
			}
			t := (v - x0) / (x1 - x0)
			out[i] = fp[j] + t*(fp[j+1]-fp[j])
		}
	}
	return out
}

// ReflectPad 反射填充，语义同 numpy.pad(mode="reflect")
func ReflectPad(s []float32, left, right int) []float32 {
	n := len(s)
	out := make([]float32, n+left+right)
	copy(out[left:], s)
	if n < 2 {
		return out
	}
	for i := 0; i < left; i++ {
		out[left-1-i] = s[reflectIndex(i+1, n)]
	}
	for i := 0; i < right; i++ {
		out[left+n+i] = s[reflectIndex(n-2-i, n)]
	}
	return out
}

func reflectIndex(i, n int) int {
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
