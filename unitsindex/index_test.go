package unitsindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getcharzp/go-svc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	ix, err := New(map[string]Entry{
		"1": {Dim: 2, Vectors: []float32{0, 0, 1, 0}},
		"2": {Dim: 2, Vectors: []float32{0, 1, 1, 1, 5, 5}},
	})
	require.NoError(t, err)
	return ix
}

func TestBlend_RatioZero(t *testing.T) {
	ix := newTestIndexer(t)
	u := &svc.Sequence{Data: []float32{0.3, 0.3}, Dim: 2}

	out, err := ix.Blend(u, 1, 0)
	require.NoError(t, err)
	assert.Same(t, u, out)
}

func TestBlend_MissingSpeaker(t *testing.T) {
	ix := newTestIndexer(t)
	u := &svc.Sequence{Data: []float32{0.3, 0.3}, Dim: 2}

	assert.False(t, ix.Has(3))
	out, err := ix.Blend(u, 3, 0.5)
	require.NoError(t, err)
	assert.Same(t, u, out)
}

func TestBlend_DimMismatch(t *testing.T) {
	ix := newTestIndexer(t)
	_, err := ix.Blend(svc.NewSequence(2, 3), 1, 0.5)
	assert.Error(t, err)
}

func TestBlend_ExactMatch(t *testing.T) {
	ix := newTestIndexer(t)
	u := &svc.Sequence{Data: []float32{1, 1, 5, 5}, Dim: 2}

	out, err := ix.Blend(u, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 5, 5}, out.Data)
}

func TestBlend_Weighted(t *testing.T) {
	ix := newTestIndexer(t)
	u := &svc.Sequence{Data: []float32{0.25, 0}, Dim: 2}

	// 平方距离 1/16 与 9/16，权重 81:1
	out, err := ix.Blend(u, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/82, float64(out.Data[0]), 1e-6)
	assert.InDelta(t, 0, float64(out.Data[1]), 1e-6)

	out, err = ix.Blend(u, 1, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5/82+0.125, float64(out.Data[0]), 1e-6)

	// ratio 大于 1 按 1 处理
	out, err = ix.Blend(u, 1, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/82, float64(out.Data[0]), 1e-6)
	assert.Equal(t, float32(0.25), u.Data[0])
}

func TestBlend_NearestK(t *testing.T) {
	vectors := make([]float32, 0, 20)
	for i := 0; i < 20; i++ {
		vectors = append(vectors, float32(i))
	}
	ix, err := New(map[string]Entry{"1": {Dim: 1, Vectors: vectors}})
	require.NoError(t, err)

	out, err := ix.Blend(&svc.Sequence{Data: []float32{0.5}, Dim: 1}, 1, 1)
	require.NoError(t, err)
	// 0 与 1 等距，其余近邻权重很小
	assert.InDelta(t, 0.5, float64(out.Data[0]), 0.05)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	ix, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.False(t, ix.Has(1))

	data, err := msgpack.Marshal(map[string]Entry{"1": {Dim: 2, Vectors: []float32{0, 0, 1, 0}}})
	require.NoError(t, err)
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ix, err = Load(path)
	require.NoError(t, err)
	assert.True(t, ix.Has(1))

	bad, err := msgpack.Marshal(map[string]Entry{"1": {Dim: 3, Vectors: []float32{0, 0}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bad, 0o644))
	_, err = Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not msgpack"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)

	_, err = New(map[string]Entry{"1": {Dim: 0}})
	assert.Error(t, err)
}
