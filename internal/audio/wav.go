package audio

import (
	"fmt"
	"os"

	"github.com/up-zero/gotool/mediautil"
)

const (
	channels      = 1
	bitsPerSample = 16
	wavHeaderSize = 44
)

// DecodeWav 将任意 WAV 字节流转换为 sr 采样率的单声道 float32 PCM
func DecodeWav(wavBytes []byte, sr int) ([]float32, error) {
	targetBytes, err := mediautil.ReformatWavBytes(wavBytes, sr, channels, bitsPerSample)
	if err != nil {
		return nil, fmt.Errorf("无法格式化 WAV 文件: %w", err)
	}
	if len(targetBytes) < wavHeaderSize {
		return nil, fmt.Errorf("WAV 数据过短: %d 字节", len(targetBytes))
	}
	return mediautil.PcmBytesToFloat32(targetBytes[wavHeaderSize:], bitsPerSample)
}

// ReadWav 读取 WAV 文件并转换为 sr 采样率的单声道 PCM
func ReadWav(path string, sr int) ([]float32, error) {
	wavBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取音频文件失败: %w", err)
	}
	return DecodeWav(wavBytes, sr)
}

// EncodeWav 将单声道 float32 PCM 编码为 16bit WAV
func EncodeWav(pcm []float32, sr int) ([]byte, error) {
	return mediautil.Float32ToWavBytes(pcm, sr, channels, bitsPerSample)
}
