package diffusion

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/acoustic/unit2mel"
	"github.com/getcharzp/go-svc/feature/f0"
	"github.com/getcharzp/go-svc/feature/spkenc"
	"github.com/getcharzp/go-svc/feature/units"
	"github.com/getcharzp/go-svc/feature/volume"
	"github.com/getcharzp/go-svc/unitsindex"
	"github.com/getcharzp/go-svc/vocoder/nsfhifigan"
)

// UnitsEncoder 内容单元编码
type UnitsEncoder interface {
	Encode(samples []float32, sr int, hop float64) (*svc.Sequence, error)
}

// F0Extractor 基频提取
type F0Extractor interface {
	Extract(samples []float32, sr int, silenceFront float64, uvInterp bool) ([]float32, error)
}

// VolumeExtractor 响度与静音掩码
type VolumeExtractor interface {
	Extract(samples []float32, sr int) []float32
	Mask(vol []float32, thresholdDB float64) []float32
}

// SpeakerEncoder 声纹编码
type SpeakerEncoder interface {
	Encode(samples []float32, sr int) ([]float32, error)
	EncodeFromPath(path string) ([]float32, error)
}

// Vocoder 声码器
type Vocoder interface {
	Extract(samples []float32, sr int) (*svc.Sequence, error)
	Infer(mel *svc.Sequence, f0 []float32) ([]float32, error)
	HopSize() int
	SampleRate() int
}

// AcousticModel 扩散声学模型
type AcousticModel interface {
	Infer(req *unit2mel.Request) (*svc.Sequence, error)
}

// UnitsIndexer 检索增强
type UnitsIndexer interface {
	Blend(units *svc.Sequence, spkID int, ratio float64) (*svc.Sequence, error)
}

// loadKey 决定是否需要重新加载的参数 (按调用方请求值比较)
type loadKey struct {
	modelPath string
	f0Model   string
	f0Min     float64
	f0Max     float64
}

// Context 一次完整加载的产物，加载后不可变
type Context struct {
	key  loadKey
	args *ModelArgs

	units      UnitsEncoder
	f0         F0Extractor
	volume     VolumeExtractor
	speaker    SpeakerEncoder
	spkEmbDict map[string][]float32
	model      AcousticModel
	vocoder    Vocoder
	indexer    UnitsIndexer

	closers []func() error
}

// Args 模型配置
func (c *Context) Args() *ModelArgs { return c.args }

// hop 输入采样率下的模型帧移
func (c *Context) hop(sr int) float64 {
	return float64(c.args.Data.BlockSize) * float64(sr) / float64(c.args.Data.SamplingRate)
}

// withSpeakerDict 返回替换了声纹字典的副本，资源归属不变
func (c *Context) withSpeakerDict(dict map[string][]float32) *Context {
	cp := *c
	cp.spkEmbDict = dict
	return &cp
}

// destroy 逆序释放资源
func (c *Context) destroy() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// loadContext 按 key 加载全部组件，任一步失败都会释放已创建的资源
func (e *Engine) loadContext(key loadKey) (_ *Context, err error) {
	args, err := LoadModelArgs(key.modelPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(key.modelPath)
	ctx := &Context{key: key, args: args}
	defer func() {
		if err != nil {
			ctx.destroy()
		}
	}()

	f0Model, f0Min, f0Max := key.f0Model, key.f0Min, key.f0Max
	if f0Model == "" {
		f0Model = args.Data.F0Extractor
	}
	if f0Min == 0 {
		f0Min = args.Data.F0Min
	}
	if f0Max == 0 {
		f0Max = args.Data.F0Max
	}

	unitsEncoder, err := units.NewEncoder(units.Config{
		ModelPath:  resolve(dir, args.Onnx.UnitsEncoder),
		SampleRate: args.Data.EncoderSampleRate,
		HopSize:    args.Data.EncoderHopSize,
		Channels:   args.Data.EncoderOutChannels,
		ForcedMode: args.Data.UnitsForcedMode,
		Onnx:       e.onnxConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("加载内容编码器失败: %w", err)
	}
	ctx.units = unitsEncoder
	ctx.closers = append(ctx.closers, unitsEncoder.Destroy)

	ctx.volume = volume.NewExtractor(args.Data.BlockSize, args.Data.SamplingRate)

	f0Extractor, err := f0.NewExtractor(f0.Config{
		Model:           f0Model,
		F0Min:           f0Min,
		F0Max:           f0Max,
		BlockSize:       args.Data.BlockSize,
		ModelSampleRate: args.Data.SamplingRate,
		RmvpePath:       resolve(dir, args.Onnx.Rmvpe),
		Onnx:            e.onnxConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("加载 F0 提取器失败: %w", err)
	}
	ctx.f0 = f0Extractor
	ctx.closers = append(ctx.closers, f0Extractor.Destroy)

	if args.Model.UseSpeakerEncoder {
		speaker, err := spkenc.NewEncoder(spkenc.Config{
			ModelPath:  resolve(dir, args.Onnx.SpeakerEncoder),
			SampleRate: args.Data.SpeakerEncoderSampleRate,
			Onnx:       e.onnxConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("加载声纹编码器失败: %w", err)
		}
		ctx.speaker = speaker
		ctx.closers = append(ctx.closers, speaker.Destroy)

		dict, err := spkenc.LoadDict(filepath.Join(dir, spkEmbDictFile))
		if err != nil {
			return nil, err
		}
		ctx.spkEmbDict = dict
	}

	mcfg := unit2mel.DefaultConfig()
	mcfg.EncoderPath = resolve(dir, args.Onnx.Encoder)
	mcfg.DenoiserPath = resolve(dir, args.Onnx.Denoiser)
	mcfg.NumMels = args.Model.NumMels
	mcfg.Timesteps = args.Model.Timesteps
	mcfg.KStepMax = args.Model.KStepMax
	mcfg.MaxBeta = args.Model.MaxBeta
	mcfg.SpecMin, mcfg.SpecMax = args.Model.SpecMin, args.Model.SpecMax
	mcfg.UseSpeakerEncoder = args.Model.UseSpeakerEncoder
	mcfg.NumSpeakers = args.Model.NSpk
	mcfg.Onnx = e.onnxConfig
	model, err := unit2mel.NewModel(mcfg)
	if err != nil {
		return nil, fmt.Errorf("加载声学模型失败: %w", err)
	}
	ctx.model = model
	ctx.closers = append(ctx.closers, model.Destroy)

	voc, err := nsfhifigan.NewVocoder(resolve(dir, args.Onnx.Vocoder), e.onnxConfig)
	if err != nil {
		return nil, fmt.Errorf("加载声码器失败: %w", err)
	}
	ctx.vocoder = voc
	ctx.closers = append(ctx.closers, voc.Destroy)
	if voc.SampleRate() != args.Data.SamplingRate || voc.HopSize() != args.Data.BlockSize {
		return nil, fmt.Errorf("声码器 (%d Hz, hop %d) 与模型 (%d Hz, hop %d) 不匹配",
			voc.SampleRate(), voc.HopSize(), args.Data.SamplingRate, args.Data.BlockSize)
	}

	indexer, err := unitsindex.Load(filepath.Join(dir, unitsindex.FileName))
	if err != nil {
		return nil, err
	}
	ctx.indexer = indexer
	return ctx, nil
}
