// Package f0 基频提取
//
// 后端 (yin / rmvpe) 统一工作在 16kHz、10ms 帧移上，
// Extractor 负责重采样、静音前沿跳过、清音插值以及到模型帧的对齐。
package f0

import (
	"fmt"
	"math"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/internal/audio"
)

const (
	// SampleRate 后端输入采样率
	SampleRate = 16000
	// HopSize 后端帧移 (10ms)
	HopSize = 160

	// ModelYin 原生 YIN
	ModelYin = "yin"
	// ModelRmvpe RMVPE (ONNX)
	ModelRmvpe = "rmvpe"
)

// Backend F0 估计后端
type Backend interface {
	// Estimate 输入 16kHz 音频，返回 10ms 帧移的 F0，0 表示清音
	Estimate(samples []float32) ([]float32, error)
	// Destroy 释放资源
	Destroy() error
}

// Config F0 提取器配置
type Config struct {
	Model           string  // yin 或 rmvpe
	F0Min           float64 // 最低基频
	F0Max           float64 // 最高基频
	BlockSize       int     // 模型帧移
	ModelSampleRate int     // 模型采样率

	RmvpePath string          // rmvpe.onnx 路径 (Model 为 rmvpe 时必填)
	Onnx      *svc.OnnxConfig // 已初始化的 ONNX 配置 (Model 为 rmvpe 时必填)
}

// Extractor F0 提取器
type Extractor struct {
	config  Config
	backend Backend
	cache   *audio.Cache
}

// NewExtractor 根据配置创建提取器
func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.F0Min <= 0 || cfg.F0Max <= cfg.F0Min {
		return nil, fmt.Errorf("非法的 F0 范围 [%v, %v]", cfg.F0Min, cfg.F0Max)
	}

	var backend Backend
	switch cfg.Model {
	case ModelYin:
		backend = NewYin(cfg.F0Min, cfg.F0Max)
	case ModelRmvpe:
		if cfg.Onnx == nil {
			return nil, fmt.Errorf("rmvpe 需要 ONNX 配置")
		}
		r, err := NewRmvpe(cfg.RmvpePath, cfg.Onnx)
		if err != nil {
			return nil, err
		}
		backend = r
	default:
		return nil, fmt.Errorf("未知的 F0 模型: %q", cfg.Model)
	}
	return NewExtractorWithBackend(cfg, backend), nil
}

// NewExtractorWithBackend 使用自定义后端创建提取器
func NewExtractorWithBackend(cfg Config, backend Backend) *Extractor {
	return &Extractor{config: cfg, backend: backend, cache: audio.NewCache(SampleRate)}
}

// Extract 提取与模型帧对齐的 F0
//
// # Params:
//
//	samples: 单声道音频
//	sr: 音频采样率
//	silenceFront: 跳过的前沿静音时长 (秒)，对应帧填 0
//	uvInterp: 是否对清音帧插值并截断到 [F0Min, F0Max]
func (e *Extractor) Extract(samples []float32, sr int, silenceFront float64, uvInterp bool) ([]float32, error) {
	hop := float64(e.config.BlockSize) * float64(sr) / float64(e.config.ModelSampleRate)
	nFrames := audio.FrameCount(len(samples), hop)
	startFrame := int(silenceFront * float64(sr) / hop)
	startFrame = min(startFrame, nFrames)

	skip := int(math.Round(float64(startFrame) * hop))
	skip = min(skip, len(samples))

	f0 := make([]float32, nFrames)
	if n := nFrames - startFrame; n > 0 {
		in, err := e.cache.Resample(samples[skip:], sr)
		if err != nil {
			return nil, fmt.Errorf("F0 重采样失败: %w", err)
		}
		raw, err := e.backend.Estimate(in)
		if err != nil {
			return nil, fmt.Errorf("F0 估计失败: %w", err)
		}
		copy(f0[startFrame:], resampleTrack(raw, float64(HopSize)/SampleRate, hop/float64(sr), n))
	}

	if uvInterp {
		interpolateUnvoiced(f0)
		lo, hi := float32(e.config.F0Min), float32(e.config.F0Max)
		for i, v := range f0 {
			f0[i] = min(max(v, lo), hi)
		}
	}
	return f0, nil
}

// Destroy 释放后端
func (e *Extractor) Destroy() error {
	if e.backend != nil {
		return e.backend.Destroy()
	}
	return nil
}

// resampleTrack 将 srcStep 秒帧移的轨迹插值到 dstStep 秒帧移的 n 帧
//
// 清音标记单独插值，插值后 >0.5 的帧重新置 0。
func resampleTrack(raw []float32, srcStep, dstStep float64, n int) []float32 {
	out := make([]float32, n)
	if len(raw) == 0 {
		return out
	}
	f0 := make([]float32, len(raw))
	copy(f0, raw)
	uv := make([]float64, len(raw))
	for i, v := range f0 {
		if v <= 0 {
			uv[i] = 1
		}
	}
	interpolateUnvoiced(f0)

	xp := make([]float64, len(raw))
	fp := make([]float64, len(raw))
	for i := range raw {
		xp[i] = srcStep * float64(i)
		fp[i] = float64(f0[i])
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = dstStep * float64(i)
	}
	values := audio.Interp(x, xp, fp)
	uvs := audio.Interp(x, xp, uv)
	for i := range out {
		if uvs[i] > 0.5 {
			continue
		}
		out[i] = float32(values[i])
	}
	return out
}

// interpolateUnvoiced 用相邻浊音帧线性插值填补清音帧 (原地)，全为清音时不变
func interpolateUnvoiced(f0 []float32) {
	var xp, fp []float64
	var holes []float64
	for i, v := range f0 {
		if v > 0 {
			xp = append(xp, float64(i))
			fp = append(fp, float64(v))
		} else {
			holes = append(holes, float64(i))
		}
	}
	if len(xp) == 0 || len(holes) == 0 {
		return
	}
	for i, v := range audio.Interp(holes, xp, fp) {
		f0[int(holes[i])] = float32(v)
	}
}
