package diffusion

import (
	"math"
	"time"

	"github.com/getcharzp/go-svc"
	"go.uber.org/zap"
)

// startFrame 前沿静音对应的声码器帧数
func startFrame(ctx *Context, silenceFront float64) int {
	return int(silenceFront * float64(ctx.vocoder.SampleRate()) / float64(ctx.vocoder.HopSize()))
}

// InferForRealtime 面向实时的推理，可跳过前沿静音
//
// jump 为 true 时在扩散前截掉前 startFrame 帧，输出不含前沿 (更短)；
// 为 false 时完整扩散，声码器只合成 startFrame 之后的帧并在左侧补零。
//
// # Params:
//
//	units, f0, volume: 对齐的特征
//	audioT: 模型采样率下的原始音频，opt.KStep 非 0 时必填，用于提取真实频谱
//	opt: 推理参数
//	silenceFront: 前沿静音时长 (秒)
//	jump: 是否跳过前沿的扩散计算
func (e *Engine) InferForRealtime(units *svc.Sequence, f0, volume, audioT []float32, opt InferOption,
	silenceFront float64, jump bool) (wav []float32, err error) {
	defer e.observe("realtime", time.Now(), &err)
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	return e.inferForRealtime(ctx, units, f0, volume, audioT, opt.normalized(), silenceFront, jump)
}

func (e *Engine) inferForRealtime(ctx *Context, units *svc.Sequence, f0, volume, audioT []float32, opt InferOption,
	silenceFront float64, jump bool) ([]float32, error) {
	if err := checkKStep(opt.KStep); err != nil {
		return nil, err
	}
	start := startFrame(ctx, silenceFront)
	if jump {
		if audioT != nil {
			audioT = sliceClamp(audioT, start*ctx.vocoder.HopSize(), len(audioT))
		}
		f0 = sliceClamp(f0, start, len(f0))
		units = units.Slice(start, units.Len())
		volume = sliceClamp(volume, start, len(volume))
	}

	opt.GTSpec = nil
	if opt.KStep != 0 {
		if audioT == nil {
			return nil, svc.NewError(svc.CodeGTSpecRequired, "k_step=%d 需要原始音频以提取真实频谱", opt.KStep)
		}
		gt, err := gtSpec(ctx, audioT, ctx.args.Data.SamplingRate, units.Len())
		if err != nil {
			return nil, err
		}
		opt.GTSpec = gt
	}

	mel, err := e.call(ctx, units, f0, volume, opt)
	if err != nil {
		return nil, err
	}
	if jump {
		return mel2wav(ctx, mel, f0, 0)
	}
	return mel2wav(ctx, mel, f0, start)
}

// InferFromAudioForRealtime 从原始音频进行面向实时的推理
//
// 内容编码器输入经引擎的重采样缓存转换到 16kHz；
// jump 为 false 时输出乘以静音掩码，为 true 时不乘。
// 返回波形与其采样率。
func (e *Engine) InferFromAudioForRealtime(samples []float32, sr int, opt InferOption,
	silenceFront float64, jump bool) (wav []float32, outSR int, err error) {
	defer e.observe("audio_realtime", time.Now(), &err)
	ctx, err := e.current()
	if err != nil {
		return nil, 0, err
	}
	opt = opt.normalized()
	if err := checkKStep(opt.KStep); err != nil {
		return nil, 0, err
	}
	log := e.callLogger("infer_from_audio_for_realtime")

	audio16k, err := e.resampler.Resample(samples, sr)
	if err != nil {
		return nil, 0, svc.NewError(svc.CodeInferenceFailed, "重采样到 16kHz 失败").WithCause(err)
	}
	units, err := encodeUnits(ctx, audio16k, unitsSampleRate)
	if err != nil {
		return nil, 0, err
	}
	if units, err = e.applyIndex(ctx, units, opt.Condition, opt.IndexRatio, log); err != nil {
		return nil, 0, err
	}
	f0, err := extractF0(ctx, samples, opt.Key, sr, silenceFront)
	if err != nil {
		return nil, 0, err
	}
	volume, mask := extractVolumeAndMask(ctx, samples, sr, opt.ThresholdDB)
	units = fitFrames(units, len(f0))
	log.Debug("特征提取完成", zap.Int("frames", len(f0)), zap.Int("sr", sr))

	start := startFrame(ctx, silenceFront)
	audioT := samples
	if jump {
		// samples 仍是输入采样率，按输入采样率下的帧移截取
		audioT = sliceClamp(samples, int(math.Round(float64(start)*ctx.hop(sr))), len(samples))
		f0 = sliceClamp(f0, start, len(f0))
		units = units.Slice(start, units.Len())
		volume = sliceClamp(volume, start, len(volume))
	}

	opt.GTSpec = nil
	if opt.KStep != 0 {
		gt, err := gtSpec(ctx, audioT, sr, units.Len())
		if err != nil {
			return nil, 0, err
		}
		opt.GTSpec = gt
	}

	mel, err := e.call(ctx, units, f0, volume, opt)
	if err != nil {
		return nil, 0, err
	}
	if jump {
		wav, err = mel2wav(ctx, mel, f0, 0)
		if err != nil {
			return nil, 0, err
		}
	} else {
		wav, err = mel2wav(ctx, mel, f0, start)
		if err != nil {
			return nil, 0, err
		}
		applyMask(wav, mask)
	}
	return wav, ctx.args.Data.SamplingRate, nil
}
