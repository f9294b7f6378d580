// Package spkenc 声纹编码器
package spkenc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/internal/audio"
	"github.com/up-zero/gotool/fileutil"
	"github.com/vmihailenco/msgpack/v5"
	ort "github.com/yalue/onnxruntime_go"
)

// EmbeddingExt 预提取声纹文件的扩展名
const EmbeddingExt = ".msgpack"

// Model 声纹网络，输入为编码器采样率下的音频，输出单个声纹向量
type Model interface {
	Forward(samples []float32) ([]float32, error)
	Destroy() error
}

// Config 声纹编码器配置
type Config struct {
	ModelPath  string // ONNX 模型路径
	SampleRate int    // 编码器采样率

	Onnx *svc.OnnxConfig
}

// Encoder 声纹编码器
type Encoder struct {
	config Config
	model  Model
	cache  *audio.Cache
}

// NewEncoder 加载 ONNX 声纹编码器
func NewEncoder(cfg Config) (*Encoder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("声纹编码器模型路径不能为空")
	}
	if cfg.Onnx == nil {
		return nil, fmt.Errorf("声纹编码器需要 ONNX 配置")
	}
	session, err := cfg.Onnx.NewSession(cfg.ModelPath, []string{"audio"}, []string{"embedding"})
	if err != nil {
		return nil, err
	}
	return NewEncoderWithModel(cfg, &onnxModel{session: session}), nil
}

// NewEncoderWithModel 使用自定义网络创建编码器
func NewEncoderWithModel(cfg Config, model Model) *Encoder {
	return &Encoder{config: cfg, model: model, cache: audio.NewCache(cfg.SampleRate)}
}

// Encode 从音频提取声纹
func (e *Encoder) Encode(samples []float32, sr int) ([]float32, error) {
	in, err := e.cache.Resample(samples, sr)
	if err != nil {
		return nil, fmt.Errorf("声纹重采样失败: %w", err)
	}
	emb, err := e.model.Forward(in)
	if err != nil {
		return nil, fmt.Errorf("声纹编码失败: %w", err)
	}
	return emb, nil
}

// MeanEmbedding 对多个 WAV 文件的声纹取平均
func (e *Encoder) MeanEmbedding(paths []string) ([]float32, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("音频列表为空")
	}
	var sum []float32
	for _, p := range paths {
		samples, err := audio.ReadWav(p, e.config.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		emb, err := e.Encode(samples, e.config.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if sum == nil {
			sum = make([]float32, len(emb))
		}
		if len(emb) != len(sum) {
			return nil, fmt.Errorf("%s: 声纹维度不一致 %d != %d", p, len(emb), len(sum))
		}
		for i, v := range emb {
			sum[i] += v
		}
	}
	for i := range sum {
		sum[i] /= float32(len(paths))
	}
	return sum, nil
}

// EncodeFromPath 从路径获取声纹
//
// .msgpack 文件直接读取预提取的声纹；其它文件视为单个 WAV；
// 目录则对其中所有文件取平均。
func (e *Encoder) EncodeFromPath(path string) ([]float32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("读取声纹路径失败: %w", err)
	}
	if !info.IsDir() {
		if strings.HasSuffix(path, EmbeddingExt) {
			return LoadEmbedding(path)
		}
		return e.MeanEmbedding([]string{path})
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			paths = append(paths, filepath.Join(path, entry.Name()))
		}
	}
	return e.MeanEmbedding(paths)
}

// Destroy 释放编码器
func (e *Encoder) Destroy() error {
	if e.model != nil {
		return e.model.Destroy()
	}
	return nil
}

// LoadEmbedding 读取 msgpack 格式的单个声纹
func LoadEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取声纹文件失败: %w", err)
	}
	var emb []float32
	if err := msgpack.Unmarshal(data, &emb); err != nil {
		return nil, fmt.Errorf("解析声纹文件失败: %w", err)
	}
	return emb, nil
}

// SaveEmbedding 以 msgpack 格式保存声纹
func SaveEmbedding(path string, emb []float32) error {
	data, err := msgpack.Marshal(emb)
	if err != nil {
		return fmt.Errorf("序列化声纹失败: %w", err)
	}
	return fileutil.FileSave(path, data)
}

// LoadDict 读取声纹字典 (说话人 id 字符串 -> 声纹)
func LoadDict(path string) (map[string][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取声纹字典失败: %w", err)
	}
	dict := make(map[string][]float32)
	if err := msgpack.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("解析声纹字典失败: %w", err)
	}
	return dict, nil
}

type onnxModel struct {
	session *ort.DynamicAdvancedSession
}

// Forward 输入 audio [1, N]，输出 embedding [1, D]
func (m *onnxModel) Forward(samples []float32) ([]float32, error) {
	tAudio, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, fmt.Errorf("创建 audio tensor 失败: %w", err)
	}
	defer tAudio.Destroy()

	outputs, err := svc.Run(m.session, []ort.Value{tAudio}, 1)
	if err != nil {
		return nil, err
	}
	return outputs[0].Data, nil
}

func (m *onnxModel) Destroy() error {
	return m.session.Destroy()
}
