package diffusion

import (
	"github.com/getcharzp/go-svc"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// unitsSampleRate 实时管线中编码器输入的固定采样率
	unitsSampleRate = 16000

	defaultInferSpeedup = 10
	defaultMethod       = "dpm-solver"
	defaultThresholdDB  = -60.0
	defaultSplitDB      = -40.0
	defaultMinLen       = 5000
	maxKStep            = 1000

	spkEmbDictFile = "spk_emb_dict.msgpack"
)

// Config 定义 Diffusion-SVC 引擎的配置参数
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	ModelPath          string // 模型目录下 config.yaml 的路径，为空时需稍后调用 Flush

	// 可选参数
	F0Model           string  // (可选) F0 提取器, 为空时使用模型配置
	F0Min             float64 // (可选) 最低基频, 0 表示使用模型配置
	F0Max             float64 // (可选) 最高基频, 0 表示使用模型配置
	UseCuda           bool    // (可选) 是否启用 CUDA
	NumThreads        int     // (可选) ONNX 线程数, 默认由CPU核心数决定
	EnableCpuMemArena bool    // (可选) 是否启用内存池

	MetricsNamespace string                // (可选) 指标命名空间
	Registerer       prometheus.Registerer // (可选) 指标注册表, 为空时使用独立注册表
}

// DefaultConfig 返回一套默认的配置 (基于常见的目录结构)
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: svc.DefaultLibraryPath(),
		ModelPath:          "./diffsvc_weights/config.yaml",
		MetricsNamespace:   "diffsvc",
	}
}

// InferOption 推理参数
//
// 零值字段取默认值: InferSpeedup 10, Method dpm-solver, ThresholdDB -60。
type InferOption struct {
	Key        float64   // 变调 (半音)
	Condition  Condition // 说话人条件，零值为说话人 1
	IndexRatio float64   // 检索增强比例 [0, 1]
	AugShift   float32

	InferSpeedup int           // 跳步倍数
	Method       string        // ddim / dpm-solver
	KStep        int           // 浅扩散步数，0 表示完整扩散
	GTSpec       *svc.Sequence // 浅扩散起点 (仅 Infer / Call 使用)
	Seed         uint64        // 采样随机种子
	ThresholdDB  float64       // 静音掩码阈值

	Progress svc.ProgressSink // (可选) 采样进度
}

// SplitOption 长音频切分参数，零值取默认值 (-40 dB, 5000 ms)
type SplitOption struct {
	ThresholdDB float64
	MinLen      int // 毫秒
}

func (o InferOption) normalized() InferOption {
	if o.InferSpeedup <= 0 {
		o.InferSpeedup = defaultInferSpeedup
	}
	if o.Method == "" {
		o.Method = defaultMethod
	}
	if o.ThresholdDB == 0 {
		o.ThresholdDB = defaultThresholdDB
	}
	return o
}

func (o SplitOption) normalized() SplitOption {
	if o.ThresholdDB == 0 {
		o.ThresholdDB = defaultSplitDB
	}
	if o.MinLen <= 0 {
		o.MinLen = defaultMinLen
	}
	return o
}
