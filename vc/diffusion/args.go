package diffusion

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ModelArgs 模型目录下 config.yaml 中推理所需的字段
type ModelArgs struct {
	Data struct {
		SamplingRate             int     `yaml:"sampling_rate"`
		BlockSize                int     `yaml:"block_size"`
		EncoderSampleRate        int     `yaml:"encoder_sample_rate"`
		EncoderHopSize           int     `yaml:"encoder_hop_size"`
		EncoderOutChannels       int     `yaml:"encoder_out_channels"`
		UnitsForcedMode          string  `yaml:"units_forced_mode"`
		F0Extractor              string  `yaml:"f0_extractor"`
		F0Min                    float64 `yaml:"f0_min"`
		F0Max                    float64 `yaml:"f0_max"`
		SpeakerEncoderSampleRate int     `yaml:"speaker_encoder_sample_rate"`
	} `yaml:"data"`
	Model struct {
		NSpk              int     `yaml:"n_spk"`
		UseSpeakerEncoder bool    `yaml:"use_speaker_encoder"`
		Timesteps         int     `yaml:"timesteps"`
		KStepMax          int     `yaml:"k_step_max"`
		MaxBeta           float64 `yaml:"max_beta"`
		SpecMin           float32 `yaml:"spec_min"`
		SpecMax           float32 `yaml:"spec_max"`
		NumMels           int     `yaml:"n_mels"`
	} `yaml:"model"`
	// Onnx 各子模型路径，相对 config.yaml 所在目录
	Onnx struct {
		Encoder        string `yaml:"encoder"`
		Denoiser       string `yaml:"denoiser"`
		UnitsEncoder   string `yaml:"units_encoder"`
		Rmvpe          string `yaml:"rmvpe"`
		SpeakerEncoder string `yaml:"speaker_encoder"`
		Vocoder        string `yaml:"vocoder"`
	} `yaml:"onnx"`
}

// LoadModelArgs 读取并校验 config.yaml，缺省字段填充默认值
func LoadModelArgs(path string) (*ModelArgs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取模型配置失败: %w", err)
	}
	return ParseModelArgs(data)
}

// ParseModelArgs 解析 config.yaml 内容
func ParseModelArgs(data []byte) (*ModelArgs, error) {
	args := new(ModelArgs)
	if err := yaml.Unmarshal(data, args); err != nil {
		return nil, fmt.Errorf("解析模型配置失败: %w", err)
	}

	d, m := &args.Data, &args.Model
	if d.SamplingRate <= 0 || d.BlockSize <= 0 {
		return nil, fmt.Errorf("sampling_rate 与 block_size 必须为正数")
	}
	if d.EncoderSampleRate == 0 {
		d.EncoderSampleRate = 16000
	}
	if d.EncoderHopSize == 0 {
		d.EncoderHopSize = 320
	}
	if d.EncoderOutChannels == 0 {
		d.EncoderOutChannels = 768
	}
	if d.UnitsForcedMode == "" {
		d.UnitsForcedMode = "nearest"
	}
	if d.F0Extractor == "" {
		d.F0Extractor = "rmvpe"
	}
	if d.F0Min == 0 {
		d.F0Min = 65
	}
	if d.F0Max == 0 {
		d.F0Max = 800
	}
	if d.SpeakerEncoderSampleRate == 0 {
		d.SpeakerEncoderSampleRate = 16000
	}
	if m.NSpk <= 0 {
		m.NSpk = 1
	}
	if m.Timesteps == 0 {
		m.Timesteps = 1000
	}
	if m.KStepMax <= 0 {
		m.KStepMax = m.Timesteps
	}
	if m.MaxBeta == 0 {
		m.MaxBeta = 0.02
	}
	if m.SpecMin == 0 && m.SpecMax == 0 {
		m.SpecMin, m.SpecMax = -12, 2
	}
	if m.NumMels == 0 {
		m.NumMels = 128
	}
	return args, nil
}

// resolve 把相对路径解析到模型目录
func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
