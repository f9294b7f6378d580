// Package nsfhifigan NSF-HiFiGAN 声码器
package nsfhifigan

import (
	"fmt"

	"github.com/getcharzp/go-svc"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// SampleRate 声码器采样率
	SampleRate = 44100
	// HopSize 声码器帧移
	HopSize = 512
	// NumMels 梅尔通道数
	NumMels = 128
)

// Model 声码器网络
type Model interface {
	// Forward mel [T, NumMels] 与逐帧 f0 合成波形
	Forward(mel *svc.Sequence, f0 []float32) ([]float32, error)
	Destroy() error
}

// Vocoder 声码器
type Vocoder struct {
	model Model
}

// NewVocoder 加载 ONNX 声码器
func NewVocoder(modelPath string, oc *svc.OnnxConfig) (*Vocoder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("声码器模型路径不能为空")
	}
	session, err := oc.NewSession(modelPath, []string{"mel", "f0"}, []string{"waveform"})
	if err != nil {
		return nil, err
	}
	return NewVocoderWithModel(&onnxModel{session: session}), nil
}

// NewVocoderWithModel 使用自定义网络创建声码器
func NewVocoderWithModel(model Model) *Vocoder {
	return &Vocoder{model: model}
}

// HopSize 帧移
func (v *Vocoder) HopSize() int { return HopSize }

// SampleRate 采样率
func (v *Vocoder) SampleRate() int { return SampleRate }

// Extract 提取声码器梅尔频谱，帧数为 len(samples)/HopSize
//
// sr 必须等于声码器采样率。
func (v *Vocoder) Extract(samples []float32, sr int) (*svc.Sequence, error) {
	if sr != SampleRate {
		return nil, svc.NewError(svc.CodeSampleRateMismatch, "声码器采样率为 %d, 输入为 %d", SampleRate, sr)
	}
	return extractMel(samples), nil
}

// Infer 由梅尔频谱与 f0 合成波形
//
// # Params:
//
//	mel: [T, NumMels]
//	f0: 长度为 T 的基频
func (v *Vocoder) Infer(mel *svc.Sequence, f0 []float32) ([]float32, error) {
	if mel.Dim != NumMels {
		return nil, fmt.Errorf("梅尔维度应为 %d, 实际为 %d", NumMels, mel.Dim)
	}
	if mel.Len() != len(f0) {
		return nil, fmt.Errorf("梅尔帧数 %d 与 f0 帧数 %d 不一致", mel.Len(), len(f0))
	}
	if mel.Len() == 0 {
		return []float32{}, nil
	}
	return v.model.Forward(mel, f0)
}

// Destroy 释放资源
func (v *Vocoder) Destroy() error {
	if v.model != nil {
		return v.model.Destroy()
	}
	return nil
}

type onnxModel struct {
	session *ort.DynamicAdvancedSession
}

// Forward 输入 mel [1, T, 128]、f0 [1, T]，输出 waveform [1, T*512]
func (m *onnxModel) Forward(mel *svc.Sequence, f0 []float32) ([]float32, error) {
	frames := int64(mel.Len())
	tMel, err := ort.NewTensor(ort.NewShape(1, frames, int64(mel.Dim)), mel.Data)
	if err != nil {
		return nil, fmt.Errorf("创建 mel tensor 失败: %w", err)
	}
	defer tMel.Destroy()
	tF0, err := ort.NewTensor(ort.NewShape(1, frames), f0)
	if err != nil {
		return nil, fmt.Errorf("创建 f0 tensor 失败: %w", err)
	}
	defer tF0.Destroy()

	outputs, err := svc.Run(m.session, []ort.Value{tMel, tF0}, 1)
	if err != nil {
		return nil, err
	}
	return outputs[0].Data, nil
}

func (m *onnxModel) Destroy() error {
	return m.session.Destroy()
}
