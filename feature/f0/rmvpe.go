package f0

import (
	"fmt"

	"github.com/getcharzp/go-svc"
	ort "github.com/yalue/onnxruntime_go"
)

// rmvpeThreshold 浊音判决阈值
const rmvpeThreshold = 0.03

// Rmvpe RMVPE 基频模型 (波形输入的 ONNX 导出)
//
// 输入 waveform [1, N] 与 threshold [1]，输出 f0 [1, T]，清音帧为 0。
type Rmvpe struct {
	session *ort.DynamicAdvancedSession
}

// NewRmvpe 加载 RMVPE 模型
func NewRmvpe(modelPath string, oc *svc.OnnxConfig) (*Rmvpe, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("rmvpe 模型路径不能为空")
	}
	session, err := oc.NewSession(modelPath, []string{"waveform", "threshold"}, []string{"f0"})
	if err != nil {
		return nil, err
	}
	return &Rmvpe{session: session}, nil
}

// Estimate 执行推理
func (r *Rmvpe) Estimate(samples []float32) ([]float32, error) {
	if len(samples) == 0 {
		return []float32{}, nil
	}
	tWave, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, fmt.Errorf("创建 waveform tensor 失败: %w", err)
	}
	defer tWave.Destroy()
	tThr, err := ort.NewTensor(ort.NewShape(1), []float32{rmvpeThreshold})
	if err != nil {
		return nil, fmt.Errorf("创建 threshold tensor 失败: %w", err)
	}
	defer tThr.Destroy()

	outputs, err := svc.Run(r.session, []ort.Value{tWave, tThr}, 1)
	if err != nil {
		return nil, err
	}
	return outputs[0].Data, nil
}

// Destroy 释放会话
func (r *Rmvpe) Destroy() error {
	if r.session != nil {
		return r.session.Destroy()
	}
	return nil
}
