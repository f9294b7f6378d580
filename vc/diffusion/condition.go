package diffusion

import (
	"sort"
	"strconv"

	"github.com/getcharzp/go-svc"
	"github.com/getcharzp/go-svc/acoustic/unit2mel"
	"go.uber.org/zap"
)

// ConditionKind 说话人条件的种类
type ConditionKind int

const (
	// KindDefault 零值，等价于说话人 1
	KindDefault ConditionKind = iota
	// KindSpeakerID 单一说话人
	KindSpeakerID
	// KindSpeakerMix 多说话人加权混合
	KindSpeakerMix
	// KindSpeakerEmbedding 显式声纹
	KindSpeakerEmbedding
)

const defaultSpeakerID = 1

// Condition 说话人条件，使用 SpeakerID / SpeakerMix / SpeakerEmbedding 构造
type Condition struct {
	kind      ConditionKind
	id        int
	mix       map[int]float64
	embedding []float32
}

// SpeakerID 单一说话人 (从 1 开始)
func SpeakerID(id int) Condition {
	return Condition{kind: KindSpeakerID, id: id}
}

// SpeakerMix 说话人 id -> 权重
func SpeakerMix(mix map[int]float64) Condition {
	return Condition{kind: KindSpeakerMix, mix: mix}
}

// SpeakerEmbedding 显式声纹，推理时平铺到每一帧
func SpeakerEmbedding(vec []float32) Condition {
	return Condition{kind: KindSpeakerEmbedding, embedding: vec}
}

// Kind 条件种类
func (c Condition) Kind() ConditionKind { return c.kind }

func (c Condition) speakerID() int {
	if c.kind == KindDefault {
		return defaultSpeakerID
	}
	return c.id
}

// sortedMix 按 id 升序遍历混合权重，保证浮点累加顺序稳定
func (c Condition) sortedMix() []int {
	ids := make([]int, 0, len(c.mix))
	for id := range c.mix {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// indexSpeaker 检索增强使用的说话人；混合时取权重最大者，显式声纹无对应说话人
func (c Condition) indexSpeaker() (int, bool) {
	switch c.kind {
	case KindSpeakerMix:
		best, bestW := 0, 0.0
		found := false
		for _, id := range c.sortedMix() {
			if w := c.mix[id]; !found || w > bestW {
				best, bestW, found = id, w, true
			}
		}
		return best, found
	case KindSpeakerEmbedding:
		return 0, false
	default:
		return c.speakerID(), true
	}
}

// resolveCondition 将说话人条件解析为模型输入
func resolveCondition(ctx *Context, c Condition, frames int) (unit2mel.Conditioning, error) {
	if ctx == nil {
		return unit2mel.Conditioning{}, svc.ErrNotLoaded
	}
	if ctx.args.Model.UseSpeakerEncoder {
		emb, err := resolveEmbedding(ctx, c)
		if err != nil {
			return unit2mel.Conditioning{}, err
		}
		return unit2mel.Conditioning{Embedding: svc.Tile(emb, frames)}, nil
	}

	nSpk := ctx.args.Model.NSpk
	weights := make([]float32, nSpk)
	switch c.kind {
	case KindSpeakerEmbedding:
		return unit2mel.Conditioning{}, svc.NewError(svc.CodeIncompatibleCondition, "模型未使用声纹编码器, 不接受显式声纹")
	case KindSpeakerMix:
		if len(c.mix) == 0 {
			return unit2mel.Conditioning{}, svc.NewError(svc.CodePrecondition, "说话人混合权重为空")
		}
		for _, id := range c.sortedMix() {
			if id < 1 || id > nSpk {
				return unit2mel.Conditioning{}, svc.NewError(svc.CodePrecondition, "说话人 %d 超出 [1, %d]", id, nSpk)
			}
			weights[id-1] += float32(c.mix[id])
		}
	default:
		id := c.speakerID()
		if id < 1 || id > nSpk {
			return unit2mel.Conditioning{}, svc.NewError(svc.CodePrecondition, "说话人 %d 超出 [1, %d]", id, nSpk)
		}
		weights[id-1] = 1
	}
	return unit2mel.Conditioning{SpeakerMix: weights}, nil
}

// resolveEmbedding 声纹模型下的单个声纹向量
func resolveEmbedding(ctx *Context, c Condition) ([]float32, error) {
	switch c.kind {
	case KindSpeakerEmbedding:
		if len(c.embedding) == 0 {
			return nil, svc.NewError(svc.CodePrecondition, "显式声纹为空")
		}
		return c.embedding, nil
	case KindSpeakerMix:
		if ctx.spkEmbDict == nil {
			return nil, svc.NewError(svc.CodeMissingEmbedding, "说话人混合需要声纹字典")
		}
		if len(c.mix) == 0 {
			return nil, svc.NewError(svc.CodePrecondition, "说话人混合权重为空")
		}
		var sum []float32
		for _, id := range c.sortedMix() {
			emb, ok := ctx.spkEmbDict[strconv.Itoa(id)]
			if !ok {
				return nil, svc.NewError(svc.CodeMissingEmbedding, "声纹字典中没有说话人 %d", id)
			}
			if sum == nil {
				sum = make([]float32, len(emb))
			}
			if len(emb) != len(sum) {
				return nil, svc.NewError(svc.CodePrecondition, "说话人 %d 的声纹维度不一致", id)
			}
			w := float32(c.mix[id])
			for i, v := range emb {
				sum[i] += w * v
			}
		}
		return sum, nil
	default:
		id := c.speakerID()
		emb, ok := ctx.spkEmbDict[strconv.Itoa(id)]
		if !ok {
			return nil, svc.NewError(svc.CodeMissingEmbedding, "声纹字典中没有说话人 %d", id)
		}
		return emb, nil
	}
}

// applyIndex 检索增强，ratio 为 0 时原样返回
func (e *Engine) applyIndex(ctx *Context, u *svc.Sequence, c Condition, ratio float64, log *zap.Logger) (*svc.Sequence, error) {
	if ratio <= 0 {
		return u, nil
	}
	if ctx.indexer == nil {
		log.Warn("检索索引未加载, 跳过检索增强")
		return u, nil
	}
	spk, ok := c.indexSpeaker()
	if !ok {
		log.Warn("显式声纹没有对应的检索索引, 跳过检索增强")
		return u, nil
	}
	out, err := ctx.indexer.Blend(u, spk, ratio)
	if err != nil {
		return nil, svc.NewError(svc.CodeInferenceFailed, "检索增强失败").WithCause(err)
	}
	return out, nil
}
