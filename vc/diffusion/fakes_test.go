package diffusion

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/acoustic/unit2mel"
	"github.com/getcharzp/go-svc/feature/volume"
	"github.com/getcharzp/go-svc/internal/audio"
	"github.com/stretchr/testify/require"
)

const (
	testSR       = 44100
	testBlock    = 512
	testMels     = 4
	testUnitsDim = 3
	testNumSpk   = 2
)

// fakeUnits 每帧的值为帧序号
type fakeUnits struct {
	calls atomic.Int32
	err   error
}

func (u *fakeUnits) Encode(samples []float32, sr int, hop float64) (*svc.Sequence, error) {
	u.calls.Add(1)
	if u.err != nil {
		return nil, u.err
	}
	n := audio.FrameCount(len(samples), hop)
	seq := svc.NewSequence(n, testUnitsDim)
	for i := 0; i < n; i++ {
		for c := range seq.Frame(i) {
			seq.Frame(i)[c] = float32(i)
		}
	}
	return seq, nil
}

// fakeF0 恒定基频，帧数按模型帧移计算
type fakeF0 struct {
	hz float32
}

func (f *fakeF0) Extract(samples []float32, sr int, silenceFront float64, uvInterp bool) ([]float32, error) {
	hop := float64(testBlock) * float64(sr) / float64(testSR)
	out := make([]float32, audio.FrameCount(len(samples), hop))
	for i := range out {
		out[i] = f.hz
	}
	return out, nil
}

// fakeVocoder 每帧输出 hop 个 1
type fakeVocoder struct{}

func (fakeVocoder) Extract(samples []float32, sr int) (*svc.Sequence, error) {
	if sr != testSR {
		return nil, svc.NewError(svc.CodeSampleRateMismatch, "sr=%d", sr)
	}
	seq := svc.NewSequence(len(samples)/testBlock, testMels)
	for i := range seq.Data {
		seq.Data[i] = -5
	}
	return seq, nil
}

func (fakeVocoder) Infer(mel *svc.Sequence, f0 []float32) ([]float32, error) {
	if mel.Len() != len(f0) {
		return nil, errors.New("mel 与 f0 帧数不一致")
	}
	out := make([]float32, mel.Len()*testBlock)
	for i := range out {
		out[i] = 1
	}
	return out, nil
}

func (fakeVocoder) HopSize() int    { return testBlock }
func (fakeVocoder) SampleRate() int { return testSR }

// recordingVocoder 记录每次提取频谱时的输入长度
type recordingVocoder struct {
	fakeVocoder
	extracted []int
}

func (v *recordingVocoder) Extract(samples []float32, sr int) (*svc.Sequence, error) {
	v.extracted = append(v.extracted, len(samples))
	return v.fakeVocoder.Extract(samples, sr)
}

// countingModel 只计数的声学模型
type countingModel struct {
	calls int
}

func (m *countingModel) Infer(req *unit2mel.Request) (*svc.Sequence, error) {
	m.calls++
	return svc.NewSequence(req.Units.Len(), testMels), nil
}

// fakeNet 去噪网络按比例缩小输入，输出依赖初始噪声
type fakeNet struct {
	lastCond unit2mel.Conditioning
}

func (n *fakeNet) Encode(req *unit2mel.Request) (*svc.Sequence, error) {
	n.lastCond = req.Cond
	return svc.NewSequence(req.Units.Len(), 1), nil
}

func (n *fakeNet) Denoise(x []float32, numMels, frames, t int, cond *svc.Sequence) ([]float32, error) {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = 0.1 * v
	}
	return out, nil
}

func (n *fakeNet) Destroy() error { return nil }

// fakeIndexer 记录调用，把每个值替换为说话人 id
type fakeIndexer struct {
	spk   int
	calls int
}

func (f *fakeIndexer) Blend(units *svc.Sequence, spk int, ratio float64) (*svc.Sequence, error) {
	f.calls++
	f.spk = spk
	out := units.Clone()
	for i := range out.Data {
		out.Data[i] = float32(spk)
	}
	return out, nil
}

func newTestArgs(useSpk bool) *ModelArgs {
	args := new(ModelArgs)
	args.Data.SamplingRate = testSR
	args.Data.BlockSize = testBlock
	args.Model.NSpk = testNumSpk
	args.Model.UseSpeakerEncoder = useSpk
	args.Model.NumMels = testMels
	args.Model.Timesteps = 100
	return args
}

type testContext struct {
	*Context
	units   *fakeUnits
	net     *fakeNet
	indexer *fakeIndexer
}

func newTestContext(t *testing.T, useSpk bool) *testContext {
	t.Helper()
	net := &fakeNet{}
	model, err := unit2mel.NewModelWithNetwork(unit2mel.Config{
		NumMels:           testMels,
		Timesteps:         100,
		KStepMax:          100,
		MaxBeta:           0.02,
		SpecMin:           -12,
		SpecMax:           2,
		UseSpeakerEncoder: useSpk,
		NumSpeakers:       testNumSpk,
	}, net)
	require.NoError(t, err)

	tc := &testContext{units: &fakeUnits{}, net: net, indexer: &fakeIndexer{}}
	tc.Context = &Context{
		args:    newTestArgs(useSpk),
		units:   tc.units,
		f0:      &fakeF0{hz: 220},
		volume:  volume.NewExtractor(testBlock, testSR),
		model:   model,
		vocoder: fakeVocoder{},
		indexer: tc.indexer,
	}
	if useSpk {
		tc.spkEmbDict = map[string][]float32{
			"1": {1, 0, 0},
			"2": {0, 1, 0},
		}
	}
	return tc
}

func newTestEngine(t *testing.T, ctx *Context) *Engine {
	t.Helper()
	e := newEngine(Config{MetricsNamespace: "test"})
	e.load = func(loadKey) (*Context, error) { return ctx, nil }
	if ctx != nil {
		e.ctx.Store(ctx)
	}
	return e
}

// sine 振幅 0.5 的正弦波
func sine(n, sr int, hz float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
	}
	return out
}

// features 在 sr 下提取对齐的 units/f0/volume
func features(t *testing.T, e *Engine, samples []float32, sr int) (*svc.Sequence, []float32, []float32) {
	t.Helper()
	u, err := e.EncodeUnits(samples, sr)
	require.NoError(t, err)
	f0, err := e.ExtractF0(samples, 0, sr, 0)
	require.NoError(t, err)
	vol, _, err := e.ExtractVolumeAndMask(samples, sr, -60)
	require.NoError(t, err)
	return u, f0, vol
}
