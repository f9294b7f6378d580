package unit2mel

import (
	"fmt"

	"github.com/getcharzp/go-svc"
	ort "github.com/yalue/onnxruntime_go"
)

// onnxNetwork 条件编码器与去噪网络两个会话
//
// encoder: units [1,T,C] f0 [1,T] volume [1,T] spk_mix [1,N] | spk_embed [1,T,D] aug_shift [1,1] -> cond [1,H,T]
// denoiser: x [1,1,M,T] time [1] (int64) cond [1,H,T] -> noise_pred [1,1,M,T]
type onnxNetwork struct {
	encoder  *ort.DynamicAdvancedSession
	denoiser *ort.DynamicAdvancedSession
	config   Config
}

func newOnnxNetwork(cfg Config) (*onnxNetwork, error) {
	spkInput := "spk_mix"
	if cfg.UseSpeakerEncoder {
		spkInput = "spk_embed"
	}
	encoder, err := cfg.Onnx.NewSession(cfg.EncoderPath,
		[]string{"units", "f0", "volume", spkInput, "aug_shift"}, []string{"cond"})
	if err != nil {
		return nil, err
	}
	denoiser, err := cfg.Onnx.NewSession(cfg.DenoiserPath,
		[]string{"x", "time", "cond"}, []string{"noise_pred"})
	if err != nil {
		encoder.Destroy()
		return nil, err
	}
	return &onnxNetwork{encoder: encoder, denoiser: denoiser, config: cfg}, nil
}

func (n *onnxNetwork) Encode(req *Request) (*svc.Sequence, error) {
	frames := int64(req.Units.Len())
	tUnits, err := ort.NewTensor(ort.NewShape(1, frames, int64(req.Units.Dim)), req.Units.Data)
	if err != nil {
		return nil, fmt.Errorf("创建 units tensor 失败: %w", err)
	}
	defer tUnits.Destroy()
	tF0, err := ort.NewTensor(ort.NewShape(1, frames), req.F0)
	if err != nil {
		return nil, fmt.Errorf("创建 f0 tensor 失败: %w", err)
	}
	defer tF0.Destroy()
	tVol, err := ort.NewTensor(ort.NewShape(1, frames), req.Volume)
	if err != nil {
		return nil, fmt.Errorf("创建 volume tensor 失败: %w", err)
	}
	defer tVol.Destroy()

	var tSpk *ort.Tensor[float32]
	if n.config.UseSpeakerEncoder {
		emb := req.Cond.Embedding
		if emb == nil || emb.Len() != int(frames) {
			return nil, fmt.Errorf("声纹条件帧数与 units 不一致")
		}
		tSpk, err = ort.NewTensor(ort.NewShape(1, frames, int64(emb.Dim)), emb.Data)
	} else {
		if len(req.Cond.SpeakerMix) == 0 {
			return nil, fmt.Errorf("缺少说话人权重")
		}
		tSpk, err = ort.NewTensor(ort.NewShape(1, int64(len(req.Cond.SpeakerMix))), req.Cond.SpeakerMix)
	}
	if err != nil {
		return nil, fmt.Errorf("创建说话人 tensor 失败: %w", err)
	}
	defer tSpk.Destroy()
	tAug, err := ort.NewTensor(ort.NewShape(1, 1), []float32{req.AugShift})
	if err != nil {
		return nil, fmt.Errorf("创建 aug_shift tensor 失败: %w", err)
	}
	defer tAug.Destroy()

	outputs, err := svc.Run(n.encoder, []ort.Value{tUnits, tF0, tVol, tSpk, tAug}, 1)
	if err != nil {
		return nil, err
	}
	out := outputs[0]
	if len(out.Shape) != 3 {
		return nil, fmt.Errorf("cond 形状异常: %v", out.Shape)
	}
	// 保持 [H, T] 布局，Dim 记为帧数
	return &svc.Sequence{Data: out.Data, Dim: int(out.Shape[2])}, nil
}

func (n *onnxNetwork) Denoise(x []float32, numMels, frames, t int, cond *svc.Sequence) ([]float32, error) {
	tX, err := ort.NewTensor(ort.NewShape(1, 1, int64(numMels), int64(frames)), x)
	if err != nil {
		return nil, fmt.Errorf("创建 x tensor 失败: %w", err)
	}
	defer tX.Destroy()
	tTime, err := ort.NewTensor(ort.NewShape(1), []int64{int64(t)})
	if err != nil {
		return nil, fmt.Errorf("创建 time tensor 失败: %w", err)
	}
	defer tTime.Destroy()
	hidden := int64(len(cond.Data) / cond.Dim)
	tCond, err := ort.NewTensor(ort.NewShape(1, hidden, int64(cond.Dim)), cond.Data)
	if err != nil {
		return nil, fmt.Errorf("创建 cond tensor 失败: %w", err)
	}
	defer tCond.Destroy()

	outputs, err := svc.Run(n.denoiser, []ort.Value{tX, tTime, tCond}, 1)
	if err != nil {
		return nil, err
	}
	return outputs[0].Data, nil
}

func (n *onnxNetwork) Destroy() error {
	var firstErr error
	for _, s := range []*ort.DynamicAdvancedSession{n.encoder, n.denoiser} {
		if s == nil {
			continue
		}
		if err := s.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
