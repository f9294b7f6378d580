package nsfhifigan

import (
	"math"
	"sync"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/internal/audio"
	"github.com/up-zero/gotool/mediautil"
)

const (
	nFFT    = 2048
	winLen  = 2048
	melFmin = 40
	melFmax = 16000
	clampV  = 1e-5
)

var (
	window     []float32
	melFilters [][]float32
	specOnce   sync.Once
)

// extractMel 对数梅尔频谱 (两侧反射填充 (nFFT-HopSize)/2，不居中)
func extractMel(samples []float32) *svc.Sequence {
	specOnce.Do(func() {
		window = mediautil.HannWindow(winLen)
		melFilters = mediautil.MelFilters(SampleRate, nFFT, NumMels, melFmin, melFmax)
	})

	pad := (nFFT - HopSize) / 2
	ref := audio.ReflectPad(samples, pad, pad)
	nFrames := 0
	if len(ref) >= nFFT {
		nFrames = (len(ref)-nFFT)/HopSize + 1
	}
	mel := svc.NewSequence(nFrames, NumMels)
	fftBuffer := make([]complex128, nFFT)
	mag := make([]float64, nFFT/2+1)

	for i := 0; i < nFrames; i++ {
		start := i * HopSize
		for j := 0; j < nFFT; j++ {
			fftBuffer[j] = complex(float64(ref[start+j]*window[j]), 0)
		}
		spectrum := mediautil.FFT(fftBuffer)
		for j := range mag {
			r := real(spectrum[j])
			im := imag(spectrum[j])
			mag[j] = math.Sqrt(r*r + im*im + 1e-9)
		}

		frame := mel.Frame(i)
		for k := 0; k < NumMels; k++ {
			sum := 0.0
			for j, m := range mag {
				if w := melFilters[k][j]; w > 0 {
					sum += m * float64(w)
				}
			}
			frame[k] = float32(math.Log(max(sum, clampV)))
		}
	}
	return mel
}
