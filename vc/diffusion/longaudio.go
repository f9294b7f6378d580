package diffusion

import (
	"time"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/internal/audio"
	"github.com/getcharzp/go-svc/slicer"
	"go.uber.org/zap"
)

// checkKStep k_step 为 0 (不做浅扩散) 或在 (0, 1000] 内
func checkKStep(k int) error {
	if k < 0 || k > maxKStep {
		return svc.NewError(svc.CodeKStepRange, "k_step=%d 超出 (0, %d]", k, maxKStep)
	}
	return nil
}

// InferFromAudio 不切片，整段音频推理
//
// 返回模型采样率下的波形 (已乘以静音掩码) 与采样率。
func (e *Engine) InferFromAudio(samples []float32, sr int, opt InferOption) (wav []float32, outSR int, err error) {
	defer e.observe("audio", time.Now(), &err)
	ctx, err := e.current()
	if err != nil {
		return nil, 0, err
	}
	opt = opt.normalized()
	if err := checkKStep(opt.KStep); err != nil {
		return nil, 0, err
	}
	log := e.callLogger("infer_from_audio")

	units, err := encodeUnits(ctx, samples, sr)
	if err != nil {
		return nil, 0, err
	}
	if units, err = e.applyIndex(ctx, units, opt.Condition, opt.IndexRatio, log); err != nil {
		return nil, 0, err
	}
	f0, err := extractF0(ctx, samples, opt.Key, sr, 0)
	if err != nil {
		return nil, 0, err
	}
	volume, mask := extractVolumeAndMask(ctx, samples, sr, opt.ThresholdDB)
	units = fitFrames(units, len(f0))

	opt.GTSpec = nil
	if opt.KStep != 0 {
		if opt.GTSpec, err = gtSpec(ctx, samples, sr, len(f0)); err != nil {
			return nil, 0, err
		}
	}

	wav, err = e.infer(ctx, units, f0, volume, opt)
	if err != nil {
		return nil, 0, err
	}
	applyMask(wav, mask)
	log.Debug("推理完成", zap.Int("frames", len(f0)), zap.Int("samples", len(wav)))
	return wav, ctx.args.Data.SamplingRate, nil
}

// InferFromLongAudio 按静音切片的长音频推理
//
// F0、响度、掩码与真实频谱在整段上只计算一次；内容单元按片段重新编码。
// 片段按起点升序拼接：空隙补零，重叠处交叉淡化。
//
// # Params:
//
//	samples: 输入音频
//	sr: 输入采样率
//	opt: 推理参数
//	split: 切分参数
func (e *Engine) InferFromLongAudio(samples []float32, sr int, opt InferOption, split SplitOption) (wav []float32, outSR int, err error) {
	defer e.observe("long_audio", time.Now(), &err)
	ctx, err := e.current()
	if err != nil {
		return nil, 0, err
	}
	opt = opt.normalized()
	split = split.normalized()
	if err := checkKStep(opt.KStep); err != nil {
		return nil, 0, err
	}
	log := e.callLogger("infer_from_long_audio")

	hop := ctx.hop(sr)
	segments := slicer.Split(samples, sr, hop, split.ThresholdDB, split.MinLen)

	f0, err := extractF0(ctx, samples, opt.Key, sr, 0)
	if err != nil {
		return nil, 0, err
	}
	volume, mask := extractVolumeAndMask(ctx, samples, sr, opt.ThresholdDB)

	var gt *svc.Sequence
	if opt.KStep != 0 {
		if gt, err = gtSpec(ctx, samples, sr, len(f0)); err != nil {
			return nil, 0, err
		}
	}
	log.Info("开始长音频推理", zap.Int("segments", len(segments)), zap.Int("frames", len(f0)))

	block := ctx.args.Data.BlockSize
	var st stitcher
	for i, seg := range segments {
		segOut, n, err := e.inferSegment(ctx, seg, sr, hop, f0, volume, gt, opt, log)
		if err != nil {
			return nil, 0, err
		}
		applyMask(segOut, sliceClamp(mask, seg.StartFrame*block, (seg.StartFrame+n)*block))
		silent := st.add(seg.StartFrame*block, segOut)
		log.Debug("片段完成",
			zap.Int("index", i),
			zap.Int("start_frame", seg.StartFrame),
			zap.Int("frames", n),
			zap.Int("silent", silent),
		)
	}
	e.metrics.RecordSegments(len(segments))

	if st.result == nil {
		st.result = []float32{}
	}
	return st.result, ctx.args.Data.SamplingRate, nil
}

// inferSegment 单个片段：重新编码内容单元，其余特征从整段结果中切出
func (e *Engine) inferSegment(ctx *Context, seg slicer.Segment, sr int, hop float64, f0, volume []float32,
	gt *svc.Sequence, opt InferOption, log *zap.Logger) ([]float32, int, error) {
	units, err := ctx.units.Encode(seg.Audio, sr, hop)
	if err != nil {
		return nil, 0, svc.NewError(svc.CodeInferenceFailed, "片段内容编码失败").WithCause(err)
	}
	if units, err = e.applyIndex(ctx, units, opt.Condition, opt.IndexRatio, log); err != nil {
		return nil, 0, err
	}

	from := seg.StartFrame
	segF0 := sliceClamp(f0, from, from+units.Len())
	n := len(segF0)
	units = units.Slice(0, n)
	segVolume := sliceClamp(volume, from, from+n)
	opt.GTSpec = nil
	if gt != nil {
		opt.GTSpec = gt.Slice(from, from+n)
	}

	out, err := e.infer(ctx, units, segF0, segVolume, opt)
	if err != nil {
		return nil, 0, err
	}
	return out, n, nil
}

// ConvertWav WAV 字节流转换，输出为模型采样率的 16bit 单声道 WAV
//
// 输入先重采样到模型采样率，再按长音频流程推理。
func (e *Engine) ConvertWav(wavBytes []byte, opt InferOption, split SplitOption) ([]byte, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	sr := ctx.args.Data.SamplingRate
	samples, err := audio.DecodeWav(wavBytes, sr)
	if err != nil {
		return nil, svc.NewError(svc.CodePrecondition, "解析输入音频失败").WithCause(err)
	}
	wav, outSR, err := e.InferFromLongAudio(samples, sr, opt, split)
	if err != nil {
		return nil, err
	}
	return audio.EncodeWav(wav, outSR)
}
