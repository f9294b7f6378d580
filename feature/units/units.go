// Package units 内容单元编码 (ContentVec / HuBERT 类自监督编码器)
package units

import (
	"fmt"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/internal/audio"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// ModeNearest 四舍五入对齐
	ModeNearest = "nearest"
	// ModeLeft 向下取整对齐
	ModeLeft = "left"

	// minSamples 编码器的最短输入
	minSamples = 400
)

// Model 编码器网络，输入为编码器采样率下的音频
type Model interface {
	Forward(samples []float32) (*svc.Sequence, error)
	Destroy() error
}

// Config 编码器配置
type Config struct {
	ModelPath  string // ONNX 模型路径
	SampleRate int    // 编码器采样率
	HopSize    int    // 编码器帧移
	Channels   int    // 输出通道数
	ForcedMode string // 对齐方式: nearest / left

	Onnx *svc.OnnxConfig
}

// Encoder 内容单元编码器
type Encoder struct {
	config Config
	model  Model
	cache  *audio.Cache
}

// NewEncoder 加载 ONNX 编码器
func NewEncoder(cfg Config) (*Encoder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("编码器模型路径不能为空")
	}
	if cfg.Onnx == nil {
		return nil, fmt.Errorf("编码器需要 ONNX 配置")
	}
	session, err := cfg.Onnx.NewSession(cfg.ModelPath, []string{"source"}, []string{"units"})
	if err != nil {
		return nil, err
	}
	return NewEncoderWithModel(cfg, &onnxModel{session: session, channels: cfg.Channels})
}

// NewEncoderWithModel 使用自定义网络创建编码器
func NewEncoderWithModel(cfg Config, model Model) (*Encoder, error) {
	switch cfg.ForcedMode {
	case "", ModeNearest:
		cfg.ForcedMode = ModeNearest
	case ModeLeft:
	default:
		return nil, fmt.Errorf("不支持的对齐方式: %q", cfg.ForcedMode)
	}
	if cfg.SampleRate <= 0 || cfg.HopSize <= 0 {
		return nil, fmt.Errorf("非法的编码器参数: sr=%d hop=%d", cfg.SampleRate, cfg.HopSize)
	}
	return &Encoder{config: cfg, model: model, cache: audio.NewCache(cfg.SampleRate)}, nil
}

// Encode 编码并对齐到 hop 帧移，帧数为 len(samples)/hop + 1
//
// # Params:
//
//	samples: 单声道音频
//	sr: 音频采样率
//	hop: 目标帧移 (sr 下的采样点数，可为小数)
func (e *Encoder) Encode(samples []float32, sr int, hop float64) (*svc.Sequence, error) {
	in, err := e.cache.Resample(samples, sr)
	if err != nil {
		return nil, fmt.Errorf("编码器重采样失败: %w", err)
	}
	if len(in) < minSamples {
		padded := make([]float32, minSamples)
		copy(padded, in)
		in = padded
	}

	raw, err := e.model.Forward(in)
	if err != nil {
		return nil, fmt.Errorf("内容编码失败: %w", err)
	}
	if raw.Len() == 0 {
		return nil, fmt.Errorf("编码器输出为空")
	}

	nFrames := audio.FrameCount(len(samples), hop)
	ratio := (hop / float64(sr)) / (float64(e.config.HopSize) / float64(e.config.SampleRate))
	idx := audio.AlignIndex(raw.Len(), nFrames, ratio, e.config.ForcedMode == ModeNearest)
	return audio.Gather(raw, idx), nil
}

// Destroy 释放编码器
func (e *Encoder) Destroy() error {
	if e.model != nil {
		return e.model.Destroy()
	}
	return nil
}

type onnxModel struct {
	session  *ort.DynamicAdvancedSession
	channels int
}

// Forward 输入 source [1, N]，输出 units [1, T, C]
func (m *onnxModel) Forward(samples []float32) (*svc.Sequence, error) {
	tSrc, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, fmt.Errorf("创建 source tensor 失败: %w", err)
	}
	defer tSrc.Destroy()

	outputs, err := svc.Run(m.session, []ort.Value{tSrc}, 1)
	if err != nil {
		return nil, err
	}
	out := outputs[0]
	dim := m.channels
	if len(out.Shape) == 3 {
		dim = int(out.Shape[2])
	}
	if dim <= 0 {
		return nil, fmt.Errorf("无法确定编码器输出维度: %v", out.Shape)
	}
	return &svc.Sequence{Data: out.Data, Dim: dim}, nil
}

func (m *onnxModel) Destroy() error {
	return m.session.Destroy()
}
