package svc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence_Len(t *testing.T) {
	var nilSeq *Sequence
	assert.Equal(t, 0, nilSeq.Len())
	assert.Equal(t, 0, (&Sequence{}).Len())
	assert.Equal(t, 3, NewSequence(3, 2).Len())
	assert.Equal(t, 0, NewSequence(-1, 2).Len())
}

func TestSequence_Slice(t *testing.T) {
	s := &Sequence{Data: []float32{0, 1, 2, 3, 4, 5}, Dim: 2}

	assert.Equal(t, []float32{2, 3}, s.Slice(1, 2).Data)
	assert.Equal(t, []float32{2, 3, 4, 5}, s.Slice(1, 10).Data)
	assert.Equal(t, 0, s.Slice(2, 1).Len())
	assert.Equal(t, 3, s.Slice(-5, 3).Len())
	assert.Equal(t, 2, s.Slice(1, 3).Dim)
}

func TestSequence_AppendLast(t *testing.T) {
	s := &Sequence{Data: []float32{1, 2, 3, 4}, Dim: 2}
	out := s.AppendLast()
	assert.Equal(t, []float32{1, 2, 3, 4, 3, 4}, out.Data)
	assert.Equal(t, []float32{1, 2, 3, 4}, s.Data)

	empty := NewSequence(0, 2).AppendLast()
	assert.Equal(t, 0, empty.Len())
}

func TestSequence_Clone(t *testing.T) {
	s := &Sequence{Data: []float32{1, 2}, Dim: 1}
	c := s.Clone()
	c.Data[0] = 9
	assert.Equal(t, float32(1), s.Data[0])
}

func TestTile(t *testing.T) {
	s := Tile([]float32{1, 2}, 3)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []float32{1, 2, 1, 2, 1, 2}, s.Data)
}

func TestSequence_Scalars(t *testing.T) {
	assert.Equal(t, []float32{1, 2}, ScalarSequence([]float32{1, 2}).Scalars())
	s := &Sequence{Data: []float32{1, 2, 3, 4}, Dim: 2}
	assert.Equal(t, []float32{1, 3}, s.Scalars())
}
