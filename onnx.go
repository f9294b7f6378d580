package svc

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	// DeviceCPU 通用计算设备
	DeviceCPU = "cpu"
	// DeviceCUDA CUDA 加速设备
	DeviceCUDA = "cuda"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// OnnxConfig ONNX Runtime 的公共配置，由各引擎的 Config 复制而来
type OnnxConfig struct {
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	UseCuda            bool   // 是否启用 CUDA
	NumThreads         int    // ONNX 线程数, 0 表示由 CPU 核心数决定
	EnableCpuMemArena  bool   // 是否启用内存池

	SessionOptions *ort.SessionOptions
	Device         string
}

// DefaultLibraryPath 返回当前平台下 onnxruntime 动态库的默认路径
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./lib/onnxruntime.dll"
	case "darwin":
		return "./lib/libonnxruntime.dylib"
	default:
		return "./lib/libonnxruntime.so"
	}
}

// New 初始化 ONNX 环境 (进程内仅一次) 并创建会话参数
//
// 设备在此处一次性确定：请求 CUDA 但不可用时回退到 CPU。
func (oc *OnnxConfig) New() error {
	ortOnce.Do(func() {
		if oc.OnnxRuntimeLibPath != "" {
			ort.SetSharedLibraryPath(oc.OnnxRuntimeLibPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	if ortErr != nil {
		return fmt.Errorf("初始化 ONNX Runtime 失败: %w", ortErr)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("创建会话参数失败: %w", err)
	}
	if oc.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(oc.NumThreads); err != nil {
			opts.Destroy()
			return fmt.Errorf("设置线程数失败: %w", err)
		}
	}
	if err := opts.SetCpuMemArena(oc.EnableCpuMemArena); err != nil {
		opts.Destroy()
		return fmt.Errorf("设置内存池失败: %w", err)
	}

	oc.Device = DeviceCPU
	if oc.UseCuda {
		if err := appendCuda(opts); err != nil {
			Logger().Warn("CUDA 不可用, 回退到 CPU", zap.Error(err))
		} else {
			oc.Device = DeviceCUDA
		}
	}
	oc.SessionOptions = opts
	return nil
}

func appendCuda(opts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()
	return opts.AppendExecutionProviderCUDA(cudaOpts)
}

// NewSession 创建动态输入输出的会话
func (oc *OnnxConfig) NewSession(modelPath string, inputNames, outputNames []string) (*ort.DynamicAdvancedSession, error) {
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建 ONNX 会话失败 (%s): %w", modelPath, err)
	}
	return session, nil
}

// Destroy 释放会话参数
func (oc *OnnxConfig) Destroy() {
	if oc.SessionOptions != nil {
		oc.SessionOptions.Destroy()
		oc.SessionOptions = nil
	}
}

// Output 拷贝出的 float32 推理结果
type Output struct {
	Data  []float32
	Shape []int64
}

// Run 执行推理，拷贝全部 float32 输出后释放输出张量
func Run(session *ort.DynamicAdvancedSession, inputs []ort.Value, numOutputs int) ([]Output, error) {
	outputs := make([]ort.Value, numOutputs)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("推理运行失败: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	results := make([]Output, numOutputs)
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("第 %d 个输出类型断言失败，期望 *Tensor[float32]", i)
		}
		raw := t.GetData()
		data := make([]float32, len(raw))
		copy(data, raw)
		results[i] = Output{Data: data, Shape: t.GetShape()}
	}
	return results, nil
}
