package svc

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressSink 接收扩散采样的逐步进度，仅用于观测，不影响结果
type ProgressSink interface {
	// Begin 开始一次采样，total 为步数
	Begin(total int)
	// Advance 完成一步
	Advance()
	// End 采样结束 (含出错提前结束)
	End()
}

// NopProgress 丢弃所有进度
type NopProgress struct{}

func (NopProgress) Begin(int) {}
func (NopProgress) Advance()  {}
func (NopProgress) End()      {}

// BarProgress 终端进度条
type BarProgress struct {
	name     string
	progress *mpb.Progress
	bar      *mpb.Bar
}

// NewBarProgress 创建终端进度条，name 显示在进度条前
func NewBarProgress(name string) *BarProgress {
	return &BarProgress{name: name}
}

func (b *BarProgress) Begin(total int) {
	b.progress = mpb.New(mpb.WithWidth(64))
	b.bar = b.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(b.name+": "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)
}

func (b *BarProgress) Advance() {
	if b.bar != nil {
		b.bar.Increment()
	}
}

func (b *BarProgress) End() {
	if b.progress == nil {
		return
	}
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}
	b.progress.Wait()
	b.progress, b.bar = nil, nil
}
