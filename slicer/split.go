package slicer

// Segment 长音频中的一个片段
type Segment struct {
	// StartFrame 片段在整段特征序列中的起始帧
	StartFrame int
	// Audio 片段音频
	Audio []float32
}

// Split 切分并把区间对齐到帧边界 (hop 为输入采样率下的帧移)
//
// 静音与非静音区间都会保留，空区间被丢弃；结果按 StartFrame 升序。
//
// # Params:
//
//	audio: 输入音频
//	sr: 采样率
//	hop: 帧移 (采样点，可为小数)
//	dbThresh: 静音阈值
//	minLen: 最短片段 (毫秒)
func Split(audio []float32, sr int, hop float64, dbThresh float64, minLen int) []Segment {
	opts := DefaultOptions()
	opts.ThresholdDB = dbThresh
	opts.MinLength = minLen

	var segments []Segment
	for _, c := range New(sr, opts).Slice(audio) {
		if c.Begin == c.End {
			continue
		}
		startFrame := int(float64(c.Begin) / hop)
		endFrame := int(float64(c.End) / hop)
		if endFrame <= startFrame {
			continue
		}
		from := min(int(float64(startFrame)*hop), len(audio))
		to := min(int(float64(endFrame)*hop), len(audio))
		segments = append(segments, Segment{StartFrame: startFrame, Audio: audio[from:to]})
	}
	return segments
}
