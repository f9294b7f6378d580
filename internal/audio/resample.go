package audio

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler 固定源/目标采样率的单声道重采样器
//
// 底层 resampling.Resampler 在创建时完成滤波器设计并被复用；
// 它带有流式状态，每次调用前 Reset，调用之间互斥。
type Resampler struct {
	from, to int

	mu     sync.Mutex
	engine resampling.Resampler
}

// NewResampler 创建 from -> to 的重采样器
func NewResampler(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("audio: 非法采样率 %d -> %d", from, to)
	}
	r := &Resampler{from: from, to: to}
	if from == to {
		return r, nil
	}
	engine, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: 创建重采样器失败: %w", err)
	}
	r.engine = engine
	return r, nil
}

// From 源采样率
func (r *Resampler) From() int { return r.from }

// To 目标采样率
func (r *Resampler) To() int { return r.to }

// Resample 重采样，输出长度固定为 ceil(len(in) * to / from)
func (r *Resampler) Resample(in []float32) ([]float32, error) {
	if r.engine == nil {
		out := make([]float32, len(in))
		copy(out, in)
		return out, nil
	}
	if len(in) == 0 {
		return []float32{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.engine.Reset()
	output, err := r.engine.ProcessFloat32(in)
	if err != nil {
		return nil, fmt.Errorf("audio: 重采样失败: %w", err)
	}
	tail, err := r.engine.Flush()
	if err != nil {
		return nil, fmt.Errorf("audio: 重采样 flush 失败: %w", err)
	}

	want := int(math.Ceil(float64(len(in)) * float64(r.to) / float64(r.from)))
	out := make([]float32, want)
	n := copy(out, output)
	for i := 0; n+i < want && i < len(tail); i++ {
		out[n+i] = float32(tail[i])
	}
	return out, nil
}

// Resample 一次性重采样
func Resample(in []float32, from, to int) ([]float32, error) {
	r, err := NewResampler(from, to)
	if err != nil {
		return nil, err
	}
	return r.Resample(in)
}

// Cache 以源采样率为键的重采样器缓存，惰性创建，不淘汰
//
// 可并发使用。
type Cache struct {
	target int

	mu    sync.Mutex
	items map[int]*Resampler

	// OnLookup 每次查找后回调 (命中与否)，可为空
	OnLookup func(hit bool)
}

// NewCache 创建目标采样率为 target 的缓存
func NewCache(target int) *Cache {
	return &Cache{target: target, items: make(map[int]*Resampler)}
}

// Target 目标采样率
func (c *Cache) Target() int { return c.target }

// Get 返回源采样率为 from 的重采样器，不存在时创建
func (c *Cache) Get(from int) (*Resampler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.items[from]
	if c.OnLookup != nil {
		c.OnLookup(ok)
	}
	if ok {
		return r, nil
	}
	r, err := NewResampler(from, c.target)
	if err != nil {
		return nil, err
	}
	c.items[from] = r
	return r, nil
}

// Len 已缓存的采样率数量
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Resample 将 from 采样率的音频转换到目标采样率，采样率相同时原样返回
func (c *Cache) Resample(in []float32, from int) ([]float32, error) {
	r, err := c.Get(from)
	if err != nil {
		return nil, err
	}
	if from == c.target {
		return in, nil
	}
	return r.Resample(in)
}
