package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// Embeddings sums word, position and token-type embeddings, then
// normalizes. All inputs are single segments, so token type is always 0.
type Embeddings struct {
	Word      *Embedding
	Position  *Embedding
	TokenType *Embedding
	Norm      *LayerNorm
	Dropout   Dropout
}

type embeddingCache struct {
	ids, posIDs, typeIDs *tensor.Tensor
	sum                  *tensor.Tensor
	mask                 []float32
}

// NewEmbeddings creates the embedding block.
func NewEmbeddings(cfg Config, rng *rand.Rand, device backend.Device) (*Embeddings, error) {
	word, err := NewEmbedding(cfg.VocabSize, cfg.HiddenSize, cfg.InitializerRange, rng, device)
	if err != nil {
		return nil, err
	}
	pos, err := NewEmbedding(cfg.MaxPositionEmbeddings, cfg.HiddenSize, cfg.InitializerRange, rng, device)
	if err != nil {
		return nil, err
	}
	typ, err := NewEmbedding(cfg.TypeVocabSize, cfg.HiddenSize, cfg.InitializerRange, rng, device)
	if err != nil {
		return nil, err
	}
	norm, err := NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps, device)
	if err != nil {
		return nil, err
	}
	return &Embeddings{Word: word, Position: pos, TokenType: typ, Norm: norm, Dropout: Dropout{P: cfg.HiddenDropoutProb}}, nil
}

func (e *Embeddings) forwardWithCache(ids *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, *embeddingCache, error) {
	shape := ids.Shape()
	batch, seqLen := shape[0], shape[1]
	if seqLen > e.Position.VocabSize {
		return nil, nil, fmt.Errorf("sequence length %d exceeds max_position_embeddings %d", seqLen, e.Position.VocabSize)
	}

	pos := make([]int64, batch*seqLen)
	for b := 0; b < batch; b++ {
		for s := 0; s < seqLen; s++ {
			pos[b*seqLen+s] = int64(s)
		}
	}
	posIDs := tensor.MustFromSlice(pos, shape)
	typeIDs := tensor.MustFromSlice(make([]int64, batch*seqLen), shape)

	sum, err := e.Word.Forward(ids)
	if err != nil {
		return nil, nil, err
	}
	for _, part := range []struct {
		emb *Embedding
		ids *tensor.Tensor
	}{{e.Position, posIDs}, {e.TokenType, typeIDs}} {
		x, err := part.emb.Forward(part.ids)
		if err != nil {
			return nil, nil, err
		}
		if sum, err = ops.Add(sum, x); err != nil {
			return nil, nil, err
		}
	}

	normed, err := e.Norm.Forward(sum)
	if err != nil {
		return nil, nil, err
	}
	out, mask, err := e.Dropout.Forward(normed, rng)
	if err != nil {
		return nil, nil, err
	}
	return out, &embeddingCache{ids: ids, posIDs: posIDs, typeIDs: typeIDs, sum: sum, mask: mask}, nil
}

func (e *Embeddings) backward(cache *embeddingCache, dout *tensor.Tensor) error {
	dSum, err := e.Norm.Backward(cache.sum, maskGrad(dout, cache.mask))
	if err != nil {
		return err
	}
	if err := e.Word.Backward(cache.ids, dSum); err != nil {
		return err
	}
	if err := e.Position.Backward(cache.posIDs, dSum); err != nil {
		return err
	}
	return e.TokenType.Backward(cache.typeIDs, dSum)
}

// NamedParameters returns the HF names under "bert.embeddings".
func (e *Embeddings) NamedParameters(prefix string) []Param {
	ps := []Param{
		{Name: prefix + ".word_embeddings.weight", Tensor: e.Word.Weight},
		{Name: prefix + ".position_embeddings.weight", Tensor: e.Position.Weight},
		{Name: prefix + ".token_type_embeddings.weight", Tensor: e.TokenType.Weight},
	}
	return append(ps, e.Norm.NamedParameters(prefix+".LayerNorm")...)
}

// Pooler maps the [CLS] hidden state through a dense layer and tanh.
type Pooler struct {
	Dense *Linear
}

type poolerCache struct {
	cls, pooled *tensor.Tensor
	seqLen      int
}

func (p *Pooler) forwardWithCache(hidden *tensor.Tensor) (*tensor.Tensor, *poolerCache, error) {
	shape := hidden.Shape()
	batch, seqLen, dim := shape[0], shape[1], shape[2]

	h := hidden.ToFloat32Slice()
	cls := make([]float32, batch*dim)
	for b := 0; b < batch; b++ {
		copy(cls[b*dim:(b+1)*dim], h[b*seqLen*dim:b*seqLen*dim+dim])
	}
	clsT := tensor.MustFromSlice(cls, tensor.Shape{batch, dim})

	pre, err := p.Dense.Forward(clsT)
	if err != nil {
		return nil, nil, err
	}
	pooled, err := ops.Tanh(pre)
	if err != nil {
		return nil, nil, err
	}
	return pooled, &poolerCache{cls: clsT, pooled: pooled, seqLen: seqLen}, nil
}

// backward returns the gradient w.r.t. the full hidden sequence; only the
// [CLS] rows are non-zero.
func (p *Pooler) backward(cache *poolerCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	dCls, err := p.Dense.Backward(cache.cls, tanhBackward(cache.pooled, dout))
	if err != nil {
		return nil, err
	}
	batch, dim := cache.cls.Shape()[0], cache.cls.Shape()[1]
	dHidden := make([]float32, batch*cache.seqLen*dim)
	src := dCls.ToFloat32Slice()
	for b := 0; b < batch; b++ {
		copy(dHidden[b*cache.seqLen*dim:], src[b*dim:(b+1)*dim])
	}
	return tensor.FromSlice(dHidden, tensor.Shape{batch, cache.seqLen, dim})
}
