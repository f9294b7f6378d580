package unit2mel

import (
	"errors"
	"math"
	"testing"

	"github.com/getcharzp/go-svc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMels   = 3
	testFrames = 5
)

// scaleNet 噪声预测为输入的固定倍数
type scaleNet struct {
	scale    float32
	err      error
	denoised int
}

func (n *scaleNet) Encode(req *Request) (*svc.Sequence, error) {
	return svc.NewSequence(req.Units.Len(), 1), nil
}

func (n *scaleNet) Denoise(x []float32, numMels, frames, t int, cond *svc.Sequence) ([]float32, error) {
	n.denoised++
	if n.err != nil {
		return nil, n.err
	}
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = n.scale * v
	}
	return out, nil
}

func (n *scaleNet) Destroy() error { return nil }

// oracleNet 已知 x0 时给出精确的噪声预测
type oracleNet struct {
	x0       []float32
	alphaBar func(int) float64
}

func (n *oracleNet) Encode(req *Request) (*svc.Sequence, error) {
	return svc.NewSequence(req.Units.Len(), 1), nil
}

func (n *oracleNet) Denoise(x []float32, numMels, frames, t int, cond *svc.Sequence) ([]float32, error) {
	a := n.alphaBar(t)
	sa, sn := math.Sqrt(a), math.Sqrt(1-a)
	out := make([]float32, len(x))
	for i := range x {
		out[i] = float32((float64(x[i]) - sa*float64(n.x0[i])) / sn)
	}
	return out, nil
}

func (n *oracleNet) Destroy() error { return nil }

type countingProgress struct {
	total, steps, ends int
}

func (p *countingProgress) Begin(total int) { p.total = total }
func (p *countingProgress) Advance()        { p.steps++ }
func (p *countingProgress) End()            { p.ends++ }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumMels = testMels
	cfg.Timesteps = 100
	cfg.KStepMax = 100
	cfg.NumSpeakers = 2
	return cfg
}

func newTestModel(t *testing.T, net Network) *Model {
	t.Helper()
	m, err := NewModelWithNetwork(testConfig(), net)
	require.NoError(t, err)
	return m
}

func newRequest(frames int) *Request {
	f0 := make([]float32, frames)
	vol := make([]float32, frames)
	for i := range f0 {
		f0[i] = 220
		vol[i] = 0.1
	}
	return &Request{
		Units:        svc.NewSequence(frames, 4),
		F0:           f0,
		Volume:       vol,
		Cond:         Conditioning{SpeakerMix: []float32{1, 0}},
		InferSpeedup: 10,
		Method:       MethodDPMSolver,
	}
}

// targetSpec 取值在 [SpecMin, SpecMax] 内的 [T, M] 频谱
func targetSpec(frames int) *svc.Sequence {
	spec := svc.NewSequence(frames, testMels)
	for i := range spec.Data {
		spec.Data[i] = -10 + float32(i%7)
	}
	return spec
}

func TestNewModelWithNetwork_Invalid(t *testing.T) {
	cfg := testConfig()
	cfg.Timesteps = 0
	_, err := NewModelWithNetwork(cfg, &scaleNet{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.SpecMin, cfg.SpecMax = 2, -12
	_, err = NewModelWithNetwork(cfg, &scaleNet{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.KStepMax = 5000
	m, err := NewModelWithNetwork(cfg, &scaleNet{})
	require.NoError(t, err)
	assert.Equal(t, 100, m.Config().KStepMax)

	_, err = NewModel(Config{})
	assert.Error(t, err)
	_, err = NewModel(Config{EncoderPath: "encoder.onnx", DenoiserPath: "denoiser.onnx"})
	assert.Error(t, err)
}

func TestSampler_Timesteps(t *testing.T) {
	tests := []struct {
		kStep, speedup int
		want           []int
	}{
		{100, 10, []int{90, 80, 70, 60, 50, 40, 30, 20, 10, 0}},
		{25, 10, []int{20, 10, 0}},
		{3, 1, []int{2, 1, 0}},
		{5, 20, []int{0}},
	}
	for _, tt := range tests {
		s := &sampler{kStep: tt.kStep, speedup: tt.speedup}
		assert.Equal(t, tt.want, s.timesteps())
	}
}

func TestSchedule(t *testing.T) {
	s := newSchedule(100, 0.02)
	assert.Equal(t, 1.0, s.alphaBar(-1))
	assert.InDelta(t, 1-1e-4, s.alphaBar(0), 1e-12)
	for i := 1; i < 100; i++ {
		require.Less(t, s.alphaBar(i), s.alphaBar(i-1))
	}

	x0 := []float32{0, 0}
	noise := []float32{1, -1}
	out := s.qSample(x0, noise, 50)
	sn := math.Sqrt(1 - s.alphaBar(50))
	assert.InDelta(t, sn, float64(out[0]), 1e-6)
	assert.InDelta(t, -sn, float64(out[1]), 1e-6)
}

func TestModel_InferErrors(t *testing.T) {
	m := newTestModel(t, &scaleNet{scale: 0.1})

	req := newRequest(testFrames)
	req.F0 = req.F0[1:]
	_, err := m.Infer(req)
	assert.ErrorIs(t, err, svc.ErrPrecondition)

	for _, k := range []int{-1, 101} {
		req = newRequest(testFrames)
		req.KStep = k
		req.GTSpec = targetSpec(testFrames)
		_, err = m.Infer(req)
		assert.ErrorIs(t, err, svc.ErrKStepRange, "k_step=%d", k)
	}

	req = newRequest(testFrames)
	req.KStep = 10
	_, err = m.Infer(req)
	assert.ErrorIs(t, err, svc.ErrGTSpecRequired)

	req = newRequest(testFrames)
	req.Method = "pndm"
	_, err = m.Infer(req)
	assert.ErrorIs(t, err, svc.ErrUnsupportedMethod)

	req = newRequest(testFrames)
	req.KStep = 10
	req.GTSpec = targetSpec(testFrames - 1)
	_, err = m.Infer(req)
	assert.ErrorIs(t, err, svc.ErrPrecondition)
}

func TestModel_InferEmpty(t *testing.T) {
	net := &scaleNet{}
	m := newTestModel(t, net)
	mel, err := m.Infer(newRequest(0))
	require.NoError(t, err)
	assert.Equal(t, 0, mel.Len())
	assert.Equal(t, 0, net.denoised)
}

func TestModel_InferDeterministic(t *testing.T) {
	m := newTestModel(t, &scaleNet{scale: 0.1})

	for _, method := range []string{MethodDDIM, MethodDPMSolver} {
		req := newRequest(testFrames)
		req.Method = method
		req.Seed = 1234
		a, err := m.Infer(req)
		require.NoError(t, err)
		b, err := m.Infer(req)
		require.NoError(t, err)
		assert.Equal(t, a.Data, b.Data, method)
		assert.Equal(t, testFrames, a.Len())
		assert.Equal(t, testMels, a.Dim)

		req.Seed = 4321
		c, err := m.Infer(req)
		require.NoError(t, err)
		assert.NotEqual(t, a.Data, c.Data, method)
	}
}

func TestModel_InferOracle(t *testing.T) {
	gt := targetSpec(testFrames)

	for _, method := range []string{MethodDDIM, MethodDPMSolver} {
		for _, kStep := range []int{0, 30, 100} {
			net := &oracleNet{}
			m := newTestModel(t, net)
			net.alphaBar = m.schedule.alphaBar
			net.x0 = transpose(m.normSpec(gt), testFrames, testMels)

			req := newRequest(testFrames)
			req.Method = method
			req.KStep = kStep
			if kStep > 0 {
				req.GTSpec = gt
			}
			mel, err := m.Infer(req)
			require.NoError(t, err)
			for i := range gt.Data {
				assert.InDelta(t, gt.Data[i], mel.Data[i], 1e-2, "%s k_step=%d i=%d", method, kStep, i)
			}
		}
	}
}

func TestModel_Progress(t *testing.T) {
	for _, method := range []string{MethodDDIM, MethodDPMSolver} {
		m := newTestModel(t, &scaleNet{scale: 0.1})
		p := &countingProgress{}
		req := newRequest(testFrames)
		req.Method = method
		req.Progress = p
		_, err := m.Infer(req)
		require.NoError(t, err)
		assert.Equal(t, 10, p.total, method)
		assert.Equal(t, 10, p.steps, method)
		assert.Equal(t, 1, p.ends, method)
	}

	net := &scaleNet{err: errors.New("boom")}
	m := newTestModel(t, net)
	p := &countingProgress{}
	req := newRequest(testFrames)
	req.Progress = p
	_, err := m.Infer(req)
	assert.ErrorIs(t, err, svc.ErrInferenceFailed)
	assert.Equal(t, 1, p.ends)
	assert.Equal(t, 0, p.steps)
}

func TestModel_SpeedupOne(t *testing.T) {
	net := &scaleNet{scale: 0.1}
	m := newTestModel(t, net)
	req := newRequest(testFrames)
	req.InferSpeedup = 0
	req.KStep = 7
	req.GTSpec = targetSpec(testFrames + 3)
	_, err := m.Infer(req)
	require.NoError(t, err)
	assert.Equal(t, 7, net.denoised)
}

func TestTranspose(t *testing.T) {
	in := []float32{1, 2, 3, 4, 5, 6}
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, transpose(in, 2, 3))
	assert.Equal(t, in, transpose(transpose(in, 2, 3), 3, 2))
}
