// Package unit2mel 扩散声学模型：条件编码器 + 去噪网络 + 采样器
package unit2mel

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/getcharzp/go-svc"
)

const (
	// MethodDDIM DDIM 采样
	MethodDDIM = "ddim"
	// MethodDPMSolver DPM-Solver++ (2M)
	MethodDPMSolver = "dpm-solver"
)

// Config 声学模型配置
type Config struct {
	EncoderPath  string // 条件编码器 ONNX 路径
	DenoiserPath string // 去噪网络 ONNX 路径

	NumMels           int     // 梅尔通道数
	Timesteps         int     // 训练时的扩散步数
	KStepMax          int     // 未指定 k_step 时使用的步数
	MaxBeta           float64 // 线性 beta 调度的最大值
	SpecMin           float32 // 频谱归一化下界
	SpecMax           float32 // 频谱归一化上界
	UseSpeakerEncoder bool    // 是否使用声纹条件
	NumSpeakers       int     // 说话人数量 (不使用声纹时)

	Onnx *svc.OnnxConfig
}

// DefaultConfig 返回常见 44.1kHz 模型的默认参数
func DefaultConfig() Config {
	return Config{
		NumMels:     128,
		Timesteps:   1000,
		KStepMax:    1000,
		MaxBeta:     0.02,
		SpecMin:     -12,
		SpecMax:     2,
		NumSpeakers: 1,
	}
}

// Conditioning 已解析的说话人条件，二者恰有其一
type Conditioning struct {
	// SpeakerMix 长度为 NumSpeakers 的权重 (单一说话人为 one-hot)
	SpeakerMix []float32
	// Embedding 逐帧声纹 [T, D]
	Embedding *svc.Sequence
}

// Request 一次声学推理的输入
type Request struct {
	Units  *svc.Sequence
	F0     []float32
	Volume []float32
	Cond   Conditioning

	AugShift     float32
	GTSpec       *svc.Sequence // 浅扩散起点，可为空
	KStep        int           // 0 表示使用 KStepMax
	InferSpeedup int
	Method       string
	Seed         uint64
	Progress     svc.ProgressSink
}

// Network 声学网络
type Network interface {
	// Encode 计算条件，布局由网络自行约定，采样时原样传回 Denoise
	Encode(req *Request) (*svc.Sequence, error)
	// Denoise 预测噪声，x 与返回值均为 [M, T] 布局
	Denoise(x []float32, numMels, frames, t int, cond *svc.Sequence) ([]float32, error)
	Destroy() error
}

// Model 扩散声学模型
type Model struct {
	config   Config
	net      Network
	schedule *schedule
}

// NewModel 加载 ONNX 声学模型
func NewModel(cfg Config) (*Model, error) {
	if cfg.EncoderPath == "" || cfg.DenoiserPath == "" {
		return nil, fmt.Errorf("编码器和去噪网络路径不能为空")
	}
	if cfg.Onnx == nil {
		return nil, fmt.Errorf("声学模型需要 ONNX 配置")
	}
	net, err := newOnnxNetwork(cfg)
	if err != nil {
		return nil, err
	}
	return NewModelWithNetwork(cfg, net)
}

// NewModelWithNetwork 使用自定义网络创建模型
func NewModelWithNetwork(cfg Config, net Network) (*Model, error) {
	if cfg.Timesteps <= 0 || cfg.NumMels <= 0 {
		return nil, fmt.Errorf("非法的模型参数: timesteps=%d mels=%d", cfg.Timesteps, cfg.NumMels)
	}
	if cfg.KStepMax <= 0 || cfg.KStepMax > cfg.Timesteps {
		cfg.KStepMax = cfg.Timesteps
	}
	if cfg.SpecMax <= cfg.SpecMin {
		return nil, fmt.Errorf("非法的频谱范围 [%v, %v]", cfg.SpecMin, cfg.SpecMax)
	}
	return &Model{config: cfg, net: net, schedule: newSchedule(cfg.Timesteps, cfg.MaxBeta)}, nil
}

// Config 返回模型配置
func (m *Model) Config() Config { return m.config }

// Infer 执行扩散采样，返回 [T, NumMels] 的梅尔频谱
func (m *Model) Infer(req *Request) (*svc.Sequence, error) {
	frames := req.Units.Len()
	if len(req.F0) != frames || len(req.Volume) != frames {
		return nil, svc.NewError(svc.CodePrecondition, "特征帧数不一致: units=%d f0=%d volume=%d",
			frames, len(req.F0), len(req.Volume))
	}
	if frames == 0 {
		return svc.NewSequence(0, m.config.NumMels), nil
	}

	kStep := req.KStep
	if kStep == 0 {
		kStep = m.config.KStepMax
	}
	if kStep < 0 || kStep > m.config.Timesteps {
		return nil, svc.NewError(svc.CodeKStepRange, "k_step=%d 超出 (0, %d]", kStep, m.config.Timesteps)
	}
	if req.KStep > 0 && req.GTSpec == nil {
		return nil, svc.ErrGTSpecRequired
	}
	step := func(s *sampler) error { return s.ddim() }
	switch req.Method {
	case MethodDDIM:
	case MethodDPMSolver:
		step = func(s *sampler) error { return s.dpmSolver() }
	default:
		return nil, svc.NewError(svc.CodeUnsupportedMethod, "未知的采样方法: %q", req.Method)
	}

	cond, err := m.net.Encode(req)
	if err != nil {
		return nil, svc.NewError(svc.CodeInferenceFailed, "条件编码失败").WithCause(err)
	}

	rng := rand.New(rand.NewPCG(req.Seed, req.Seed^0x9e3779b97f4a7c15))
	s := &sampler{
		net:      m.net,
		schedule: m.schedule,
		cond:     cond,
		numMels:  m.config.NumMels,
		frames:   frames,
		kStep:    kStep,
		speedup:  max(req.InferSpeedup, 1),
		progress: req.Progress,
	}
	if s.progress == nil {
		s.progress = svc.NopProgress{}
	}

	noise := gaussian(rng, m.config.NumMels*frames)
	if req.KStep > 0 {
		if req.GTSpec.Dim != m.config.NumMels || req.GTSpec.Len() < frames {
			return nil, svc.NewError(svc.CodePrecondition, "真实频谱形状不匹配: dim=%d frames=%d, 需要 dim=%d frames>=%d",
				req.GTSpec.Dim, req.GTSpec.Len(), m.config.NumMels, frames)
		}
		x0 := transpose(m.normSpec(req.GTSpec.Slice(0, frames)), frames, m.config.NumMels)
		s.x = m.schedule.qSample(x0, noise, kStep-1)
	} else {
		s.x = noise
	}

	if err := step(s); err != nil {
		return nil, svc.NewError(svc.CodeInferenceFailed, "去噪失败").WithCause(err)
	}
	return m.denormSpec(transpose(s.x, m.config.NumMels, frames)), nil
}

// Destroy 释放网络
func (m *Model) Destroy() error {
	if m.net != nil {
		return m.net.Destroy()
	}
	return nil
}

// normSpec 将 [T, M] 频谱线性映射到 [-1, 1]
func (m *Model) normSpec(spec *svc.Sequence) []float32 {
	lo, hi := m.config.SpecMin, m.config.SpecMax
	out := make([]float32, len(spec.Data))
	for i, v := range spec.Data {
		out[i] = (v-lo)/(hi-lo)*2 - 1
	}
	return out
}

func (m *Model) denormSpec(data []float32) *svc.Sequence {
	lo, hi := m.config.SpecMin, m.config.SpecMax
	for i, v := range data {
		data[i] = (v+1)/2*(hi-lo) + lo
	}
	return &svc.Sequence{Data: data, Dim: m.config.NumMels}
}

// transpose 行优先 [rows, cols] -> [cols, rows]
func transpose(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = data[r*cols+c]
		}
	}
	return out
}

func gaussian(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64())
	}
	return out
}

// schedule 线性 beta 调度
type schedule struct {
	alphasCumprod []float64
}

func newSchedule(timesteps int, maxBeta float64) *schedule {
	if maxBeta <= 0 {
		maxBeta = 0.02
	}
	const minBeta = 1e-4
	ac := make([]float64, timesteps)
	prod := 1.0
	for i := range ac {
		beta := minBeta
		if timesteps > 1 {
			beta = minBeta + (maxBeta-minBeta)*float64(i)/float64(timesteps-1)
		}
		prod *= 1 - beta
		ac[i] = prod
	}
	return &schedule{alphasCumprod: ac}
}

// alphaBar t<0 时为 1 (无噪声)
func (s *schedule) alphaBar(t int) float64 {
	if t < 0 {
		return 1
	}
	return s.alphasCumprod[t]
}

// qSample 前向加噪到第 t 步
func (s *schedule) qSample(x0, noise []float32, t int) []float32 {
	a := s.alphaBar(t)
	sa, sn := math.Sqrt(a), math.Sqrt(1-a)
	out := make([]float32, len(x0))
	for i := range x0 {
		out[i] = float32(sa*float64(x0[i]) + sn*float64(noise[i]))
	}
	return out
}
