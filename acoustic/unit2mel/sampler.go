package unit2mel

import (
	"fmt"
	"math"

	"github.com/getcharzp/go-svc"
)

// sampler 单次采样的状态，x 为 [M, T] 布局
type sampler struct {
	net      Network
	schedule *schedule
	cond     *svc.Sequence
	numMels  int
	frames   int
	kStep    int
	speedup  int
	progress svc.ProgressSink

	x []float32
}

// timesteps 从 kStep-1 开始按 speedup 递减的时间步 (降序)
func (s *sampler) timesteps() []int {
	var ts []int
	for t := 0; t < s.kStep; t += s.speedup {
		ts = append(ts, t)
	}
	for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
		ts[i], ts[j] = ts[j], ts[i]
	}
	return ts
}

// predictX0 由噪声预测还原 x0
func (s *sampler) predictX0(t int) ([]float32, []float32, error) {
	eps, err := s.net.Denoise(s.x, s.numMels, s.frames, t, s.cond)
	if err != nil {
		return nil, nil, fmt.Errorf("第 %d 步去噪失败: %w", t, err)
	}
	if len(eps) != len(s.x) {
		return nil, nil, fmt.Errorf("去噪输出长度 %d 与输入 %d 不一致", len(eps), len(s.x))
	}
	a := s.schedule.alphaBar(t)
	sa, sn := math.Sqrt(a), math.Sqrt(1-a)
	x0 := make([]float32, len(s.x))
	for i := range x0 {
		x0[i] = float32((float64(s.x[i]) - sn*float64(eps[i])) / sa)
	}
	return x0, eps, nil
}

// ddim 确定性 DDIM (eta = 0)
func (s *sampler) ddim() error {
	ts := s.timesteps()
	s.progress.Begin(len(ts))
	defer s.progress.End()

	for _, t := range ts {
		x0, eps, err := s.predictX0(t)
		if err != nil {
			return err
		}
		prev := s.schedule.alphaBar(t - s.speedup)
		sa, sn := math.Sqrt(prev), math.Sqrt(1-prev)
		for i := range s.x {
			s.x[i] = float32(sa*float64(x0[i]) + sn*float64(eps[i]))
		}
		s.progress.Advance()
	}
	return nil
}

// dpmSolver DPM-Solver++ 二阶多步，末步退化为一阶
func (s *sampler) dpmSolver() error {
	ts := s.timesteps()
	s.progress.Begin(len(ts))
	defer s.progress.End()

	var prevX0 []float32
	var prevH float64
	for i, t := range ts {
		x0, _, err := s.predictX0(t)
		if err != nil {
			return err
		}
		next := -1
		if i+1 < len(ts) {
			next = ts[i+1]
		}
		if next < 0 {
			// 终点 alpha=1, sigma=0
			copy(s.x, x0)
			s.progress.Advance()
			break
		}

		aS, aT := s.schedule.alphaBar(t), s.schedule.alphaBar(next)
		lambdaS, lambdaT := logSNR(aS), logSNR(aT)
		h := lambdaT - lambdaS
		ratio := math.Sqrt(1-aT) / math.Sqrt(1-aS)
		coef := math.Sqrt(aT) * (math.Exp(-h) - 1)

		d := x0
		if prevX0 != nil {
			r := prevH / h
			d = make([]float32, len(x0))
			for j := range d {
				d[j] = float32((1+1/(2*r))*float64(x0[j]) - 1/(2*r)*float64(prevX0[j]))
			}
		}
		for j := range s.x {
			s.x[j] = float32(ratio*float64(s.x[j]) - coef*float64(d[j]))
		}
		prevX0, prevH = x0, h
		s.progress.Advance()
	}
	return nil
}

// logSNR lambda = log(alpha / sigma)
func logSNR(alphaBar float64) float64 {
	return 0.5 * (math.Log(alphaBar) - math.Log(1-alphaBar))
}
