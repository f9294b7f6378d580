// Package unitsindex 按说话人组织的内容单元检索索引
//
// 索引文件为 msgpack 编码的 map[说话人 id 字符串]Entry，
// 与模型 config.yaml 放在同一目录。
package unitsindex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strconv"

	"github.com/getcharzp/go-svc"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

const (
	// FileName 索引文件名
	FileName = "units_index.msgpack"
	// K 近邻数
	K = 8
)

// Entry 单个说话人的索引，Vectors 为 [N, Dim] 行优先
type Entry struct {
	Dim     int       `msgpack:"dim"`
	Vectors []float32 `msgpack:"vectors"`
}

type speakerIndex struct {
	dim     int
	vectors [][]float64
}

// Indexer 检索索引，加载后只读，可并发使用
type Indexer struct {
	speakers map[string]*speakerIndex
	logger   *zap.Logger
}

// Load 读取索引文件，文件不存在时返回空索引
func Load(path string) (*Indexer, error) {
	ix := &Indexer{
		speakers: make(map[string]*speakerIndex),
		logger:   svc.Logger().With(zap.String("component", "units_index")),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		ix.logger.Warn("索引文件不存在, 检索增强不可用", zap.String("path", path))
		return ix, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取索引文件失败: %w", err)
	}

	var raw map[string]Entry
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析索引文件失败: %w", err)
	}
	for spk, e := range raw {
		if e.Dim <= 0 || len(e.Vectors)%e.Dim != 0 {
			return nil, fmt.Errorf("说话人 %s 的索引形状非法: dim=%d len=%d", spk, e.Dim, len(e.Vectors))
		}
		ix.speakers[spk] = newSpeakerIndex(e)
	}
	ix.logger.Info("索引加载完成", zap.String("path", path), zap.Int("speakers", len(ix.speakers)))
	return ix, nil
}

// New 由内存中的条目构建索引
func New(entries map[string]Entry) (*Indexer, error) {
	ix := &Indexer{
		speakers: make(map[string]*speakerIndex, len(entries)),
		logger:   svc.Logger().With(zap.String("component", "units_index")),
	}
	for spk, e := range entries {
		if e.Dim <= 0 || len(e.Vectors)%e.Dim != 0 {
			return nil, fmt.Errorf("说话人 %s 的索引形状非法: dim=%d len=%d", spk, e.Dim, len(e.Vectors))
		}
		ix.speakers[spk] = newSpeakerIndex(e)
	}
	return ix, nil
}

func newSpeakerIndex(e Entry) *speakerIndex {
	n := len(e.Vectors) / e.Dim
	vectors := make([][]float64, n)
	for i := range vectors {
		row := make([]float64, e.Dim)
		for j := range row {
			row[j] = float64(e.Vectors[i*e.Dim+j])
		}
		vectors[i] = row
	}
	return &speakerIndex{dim: e.Dim, vectors: vectors}
}

// Has 是否存在该说话人的索引
func (ix *Indexer) Has(spkID int) bool {
	_, ok := ix.speakers[strconv.Itoa(spkID)]
	return ok
}

// Blend 用近邻加权平均与原始单元混合: ratio*nn + (1-ratio)*u
//
// ratio <= 0 时原样返回输入；说话人没有索引时记录警告并原样返回。
// 近邻权重为 1/d^2 归一化，d 为平方欧氏距离。
func (ix *Indexer) Blend(units *svc.Sequence, spkID int, ratio float64) (*svc.Sequence, error) {
	if ratio <= 0 {
		return units, nil
	}
	si, ok := ix.speakers[strconv.Itoa(spkID)]
	if !ok || len(si.vectors) == 0 {
		ix.logger.Warn("说话人没有检索索引, 跳过", zap.Int("spk_id", spkID))
		return units, nil
	}
	if units.Dim != si.dim {
		return nil, fmt.Errorf("单元维度 %d 与索引维度 %d 不一致", units.Dim, si.dim)
	}
	ratio = min(ratio, 1)

	out := svc.NewSequence(units.Len(), units.Dim)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < units.Len(); i++ {
		g.Go(func() error {
			u := make([]float64, units.Dim)
			for j, v := range units.Frame(i) {
				u[j] = float64(v)
			}
			nn := si.search(u)
			floats.Scale(ratio, nn)
			floats.AddScaled(nn, 1-ratio, u)
			dst := out.Frame(i)
			for j, v := range nn {
				dst[j] = float32(v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ix.logger.Debug("检索增强完成", zap.Int("spk_id", spkID), zap.Float64("ratio", ratio))
	return out, nil
}

type neighbor struct {
	idx  int
	dist float64
}

// search 暴力 K 近邻，返回加权平均向量
func (si *speakerIndex) search(u []float64) []float64 {
	k := min(K, len(si.vectors))
	best := make([]neighbor, 0, k+1)
	diff := make([]float64, len(u))
	for i, v := range si.vectors {
		floats.SubTo(diff, u, v)
		d := floats.Dot(diff, diff)
		if len(best) == k && d >= best[k-1].dist {
			continue
		}
		pos := sort.Search(len(best), func(j int) bool { return best[j].dist > d })
		best = append(best, neighbor{})
		copy(best[pos+1:], best[pos:])
		best[pos] = neighbor{idx: i, dist: d}
		if len(best) > k {
			best = best[:k]
		}
	}

	out := make([]float64, len(u))
	// 完全命中时只取距离为 0 的近邻
	if best[0].dist == 0 {
		var n float64
		for _, nb := range best {
			if nb.dist == 0 {
				floats.Add(out, si.vectors[nb.idx])
				n++
			}
		}
		floats.Scale(1/n, out)
		return out
	}

	// (d0/d)^2 与 1/d^2 归一化后相同，避免极小距离溢出
	weights := make([]float64, len(best))
	for j, nb := range best {
		r := best[0].dist / nb.dist
		weights[j] = r * r
	}
	floats.Scale(1/floats.Sum(weights), weights)
	for j, nb := range best {
		floats.AddScaled(out, weights[j], si.vectors[nb.idx])
	}
	return out
}
