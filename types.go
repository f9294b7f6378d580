package svc

// Sequence 按帧排列的特征序列 (行优先展平)
//
// 每帧 Dim 个 float32，帧数为 len(Data)/Dim。
// F0 与音量为 Dim=1 的序列，Units 与 Mel 的 Dim 为通道数。
type Sequence struct {
	Data []float32
	Dim  int
}

// NewSequence 创建 frames 帧、每帧 dim 维的全零序列
func NewSequence(frames, dim int) *Sequence {
	if frames < 0 {
		frames = 0
	}
	return &Sequence{Data: make([]float32, frames*dim), Dim: dim}
}

// ScalarSequence 将逐帧标量包装为 Dim=1 的序列
func ScalarSequence(values []float32) *Sequence {
	return &Sequence{Data: values, Dim: 1}
}

// Tile 将向量沿时间轴平铺 frames 次
func Tile(vec []float32, frames int) *Sequence {
	s := NewSequence(frames, len(vec))
	for i := 0; i < frames; i++ {
		copy(s.Data[i*len(vec):], vec)
	}
	return s
}

// Len 返回帧数
func (s *Sequence) Len() int {
	if s == nil || s.Dim == 0 {
		return 0
	}
	return len(s.Data) / s.Dim
}

// Frame 返回第 i 帧 (共享底层数据)
func (s *Sequence) Frame(i int) []float32 {
	return s.Data[i*s.Dim : (i+1)*s.Dim]
}

// Slice 返回 [from, to) 帧范围，越界部分按切片语义截断
func (s *Sequence) Slice(from, to int) *Sequence {
	n := s.Len()
	from = min(max(from, 0), n)
	to = min(max(to, from), n)
	return &Sequence{Data: s.Data[from*s.Dim : to*s.Dim], Dim: s.Dim}
}

// Clone 深拷贝
func (s *Sequence) Clone() *Sequence {
	data := make([]float32, len(s.Data))
	copy(data, s.Data)
	return &Sequence{Data: data, Dim: s.Dim}
}

// AppendLast 重复最后一帧，返回新序列
func (s *Sequence) AppendLast() *Sequence {
	n := s.Len()
	if n == 0 {
		return s.Clone()
	}
	data := make([]float32, len(s.Data)+s.Dim)
	copy(data, s.Data)
	copy(data[len(s.Data):], s.Frame(n-1))
	return &Sequence{Data: data, Dim: s.Dim}
}

// Scalars 返回 Dim=1 序列的逐帧数值
func (s *Sequence) Scalars() []float32 {
	if s.Dim == 1 {
		return s.Data
	}
	out := make([]float32, s.Len())
	for i := range out {
		out[i] = s.Data[i*s.Dim]
	}
	return out
}
