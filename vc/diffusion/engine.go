// Package diffusion 基于扩散声学模型的歌声/语音转换推理
package diffusion

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/acoustic/unit2mel"
	"github.com/getcharzp/go-svc/internal/audio"
	"github.com/getcharzp/go-svc/internal/metrics"
	"github.com/google/uuid"
	"github.com/up-zero/gotool/convertutil"
	"go.uber.org/zap"
)

// Engine 封装了模型上下文、重采样缓存与指标
//
// 推理调用可以并发，Flush 与推理之间需由调用方串行化。
type Engine struct {
	config     Config
	onnxConfig *svc.OnnxConfig

	ctx    atomic.Pointer[Context]
	loadMu sync.Mutex
	load   func(key loadKey) (*Context, error)

	resampler *audio.Cache
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewEngine 初始化引擎，cfg.ModelPath 非空时立即加载模型
func NewEngine(cfg Config) (*Engine, error) {
	onnxConfig := new(svc.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, onnxConfig); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	// 初始化 ONNX
	if err := onnxConfig.New(); err != nil {
		return nil, err
	}

	e := newEngine(cfg)
	e.onnxConfig = onnxConfig
	e.load = e.loadContext
	e.logger.Info("引擎初始化完成", zap.String("device", onnxConfig.Device))

	if cfg.ModelPath != "" {
		if err := e.Flush(cfg.ModelPath, cfg.F0Model, cfg.F0Min, cfg.F0Max); err != nil {
			onnxConfig.Destroy()
			return nil, err
		}
	}
	return e, nil
}

// newEngine 不含 ONNX 初始化的引擎骨架
func newEngine(cfg Config) *Engine {
	logger := svc.Logger().With(zap.String("component", "diffusion"))
	e := &Engine{
		config:    cfg,
		resampler: audio.NewCache(unitsSampleRate),
		metrics:   metrics.NewCollector(cfg.MetricsNamespace, cfg.Registerer, logger),
		logger:    logger,
	}
	e.resampler.OnLookup = e.metrics.RecordCacheLookup
	return e
}

// Flush 按需 (重新) 加载模型
//
// 仅当四个参数中任一与当前加载的不同时才会重新加载；零值表示使用模型配置中的值。
// 新上下文完整加载成功后才会替换旧上下文，失败时旧上下文保持可用。
//
// # Params:
//
//	modelPath: 模型目录下 config.yaml 的路径
//	f0Model: F0 提取器 (yin / rmvpe)
//	f0Min: 最低基频
//	f0Max: 最高基频
func (e *Engine) Flush(modelPath, f0Model string, f0Min, f0Max float64) error {
	if modelPath == "" {
		return svc.NewError(svc.CodePrecondition, "模型路径不能为空")
	}
	key := loadKey{modelPath: modelPath, f0Model: f0Model, f0Min: f0Min, f0Max: f0Max}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if cur := e.ctx.Load(); cur != nil && cur.key == key {
		return nil
	}

	start := time.Now()
	ctx, err := e.load(key)
	e.metrics.RecordModelLoad(err)
	if err != nil {
		e.logger.Error("模型加载失败", zap.String("model", modelPath), zap.Error(err))
		return svc.NewError(svc.CodeLoadFailed, "加载模型 %s 失败", modelPath).WithCause(err)
	}

	old := e.ctx.Swap(ctx)
	if old != nil {
		if err := old.destroy(); err != nil {
			e.logger.Warn("释放旧模型失败", zap.Error(err))
		}
	}
	e.logger.Info("模型加载完成",
		zap.String("model", modelPath),
		zap.String("f0_model", f0Model),
		zap.Float64("f0_min", f0Min),
		zap.Float64("f0_max", f0Max),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Context 当前加载的上下文，未加载时为 nil
func (e *Engine) Context() *Context {
	return e.ctx.Load()
}

// current 当前上下文，未加载时返回 ErrNotLoaded
func (e *Engine) current() (*Context, error) {
	ctx := e.ctx.Load()
	if ctx == nil {
		return nil, svc.ErrNotLoaded
	}
	return ctx, nil
}

// SetSpeakerEmbeddingDict 替换声纹字典 (说话人 id 字符串 -> 声纹)
func (e *Engine) SetSpeakerEmbeddingDict(dict map[string][]float32) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	ctx, err := e.current()
	if err != nil {
		return err
	}
	e.ctx.Store(ctx.withSpeakerDict(dict))
	e.logger.Info("声纹字典已替换", zap.Int("speakers", len(dict)))
	return nil
}

// Destroy 释放相关资源
func (e *Engine) Destroy() error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	var err error
	if ctx := e.ctx.Swap(nil); ctx != nil {
		err = ctx.destroy()
	}
	if e.onnxConfig != nil {
		e.onnxConfig.Destroy()
	}
	return err
}

// observe 记录一次推理的耗时与结果，err 在 defer 执行时读取
func (e *Engine) observe(variant string, start time.Time, err *error) {
	e.metrics.RecordInference(variant, start, *err)
}

// callLogger 为单次调用附加唯一 id
func (e *Engine) callLogger(op string) *zap.Logger {
	return e.logger.With(zap.String("op", op), zap.String("call_id", uuid.NewString()))
}

// EncodeUnits 提取与模型帧对齐的内容单元
func (e *Engine) EncodeUnits(samples []float32, sr int) (*svc.Sequence, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	return encodeUnits(ctx, samples, sr)
}

func encodeUnits(ctx *Context, samples []float32, sr int) (*svc.Sequence, error) {
	u, err := ctx.units.Encode(samples, sr, ctx.hop(sr))
	if err != nil {
		return nil, svc.NewError(svc.CodeInferenceFailed, "内容编码失败").WithCause(err)
	}
	return u, nil
}

// ExtractF0 提取基频并按 key 个半音缩放 (乘以 2^(key/12))
func (e *Engine) ExtractF0(samples []float32, key float64, sr int, silenceFront float64) ([]float32, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	return extractF0(ctx, samples, key, sr, silenceFront)
}

func extractF0(ctx *Context, samples []float32, key float64, sr int, silenceFront float64) ([]float32, error) {
	f0, err := ctx.f0.Extract(samples, sr, silenceFront, true)
	if err != nil {
		return nil, svc.NewError(svc.CodeInferenceFailed, "F0 提取失败").WithCause(err)
	}
	scale := float32(math.Pow(2, key/12))
	for i := range f0 {
		f0[i] *= scale
	}
	return f0, nil
}

// ExtractVolumeAndMask 提取响度与采样级静音掩码
func (e *Engine) ExtractVolumeAndMask(samples []float32, sr int, thresholdDB float64) ([]float32, []float32, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, nil, err
	}
	vol, mask := extractVolumeAndMask(ctx, samples, sr, thresholdDB)
	return vol, mask, nil
}

func extractVolumeAndMask(ctx *Context, samples []float32, sr int, thresholdDB float64) ([]float32, []float32) {
	vol := ctx.volume.Extract(samples, sr)
	return vol, ctx.volume.Mask(vol, thresholdDB)
}

// ExtractMel 提取声码器梅尔频谱，sr 必须等于模型采样率
func (e *Engine) ExtractMel(samples []float32, sr int) (*svc.Sequence, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	if sr != ctx.args.Data.SamplingRate {
		return nil, svc.NewError(svc.CodeSampleRateMismatch, "模型采样率为 %d, 输入为 %d", ctx.args.Data.SamplingRate, sr)
	}
	return ctx.vocoder.Extract(samples, sr)
}

// EncodeSpeaker 从音频提取声纹
func (e *Engine) EncodeSpeaker(samples []float32, sr int) ([]float32, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	if ctx.speaker == nil {
		return nil, svc.NewError(svc.CodePrecondition, "模型未使用声纹编码器")
	}
	return ctx.speaker.Encode(samples, sr)
}

// EncodeSpeakerFromPath 从 .msgpack 声纹文件、单个 WAV 或 WAV 目录获取声纹
func (e *Engine) EncodeSpeakerFromPath(path string) ([]float32, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	if ctx.speaker == nil {
		return nil, svc.NewError(svc.CodePrecondition, "模型未使用声纹编码器")
	}
	return ctx.speaker.EncodeFromPath(path)
}

// Call 只运行声学模型，返回 [T, n_mels] 的梅尔频谱
//
// opt.KStep 非 0 时必须提供 opt.GTSpec。
func (e *Engine) Call(units *svc.Sequence, f0, volume []float32, opt InferOption) (*svc.Sequence, error) {
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	return e.call(ctx, units, f0, volume, opt.normalized())
}

func (e *Engine) call(ctx *Context, units *svc.Sequence, f0, volume []float32, opt InferOption) (*svc.Sequence, error) {
	if err := checkKStep(opt.KStep); err != nil {
		return nil, err
	}
	if opt.KStep != 0 && opt.GTSpec == nil {
		return nil, svc.ErrGTSpecRequired
	}
	cond, err := resolveCondition(ctx, opt.Condition, units.Len())
	if err != nil {
		return nil, err
	}
	req := &unit2mel.Request{
		Units:        units,
		F0:           f0,
		Volume:       volume,
		Cond:         cond,
		AugShift:     opt.AugShift,
		KStep:        opt.KStep,
		InferSpeedup: opt.InferSpeedup,
		Method:       opt.Method,
		Seed:         opt.Seed,
		Progress:     opt.Progress,
	}
	if opt.KStep != 0 {
		req.GTSpec = opt.GTSpec
	}
	return ctx.model.Infer(req)
}

// Infer 声学模型 + 声码器，返回模型采样率下的波形
//
// # Params:
//
//	units: 内容单元 [T, C]
//	f0: 基频 (已变调)
//	volume: 响度
//	opt: 推理参数，KStep 非 0 时必须提供 GTSpec
func (e *Engine) Infer(units *svc.Sequence, f0, volume []float32, opt InferOption) (wav []float32, err error) {
	defer e.observe("infer", time.Now(), &err)
	ctx, err := e.current()
	if err != nil {
		return nil, err
	}
	return e.infer(ctx, units, f0, volume, opt.normalized())
}

func (e *Engine) infer(ctx *Context, units *svc.Sequence, f0, volume []float32, opt InferOption) ([]float32, error) {
	mel, err := e.call(ctx, units, f0, volume, opt)
	if err != nil {
		return nil, err
	}
	return mel2wav(ctx, mel, f0, 0)
}

// mel2wav 合成 [startFrame:] 的帧，并在左侧补 startFrame*hop 个零
func mel2wav(ctx *Context, mel *svc.Sequence, f0 []float32, startFrame int) ([]float32, error) {
	if startFrame <= 0 {
		wav, err := ctx.vocoder.Infer(mel, f0)
		if err != nil {
			return nil, svc.NewError(svc.CodeInferenceFailed, "声码器推理失败").WithCause(err)
		}
		return wav, nil
	}
	from := min(startFrame, len(f0))
	wav, err := ctx.vocoder.Infer(mel.Slice(from, mel.Len()), f0[from:])
	if err != nil {
		return nil, svc.NewError(svc.CodeInferenceFailed, "声码器推理失败").WithCause(err)
	}
	out := make([]float32, startFrame*ctx.vocoder.HopSize()+len(wav))
	copy(out[startFrame*ctx.vocoder.HopSize():], wav)
	return out, nil
}
