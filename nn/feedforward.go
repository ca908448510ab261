package nn

import (
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// FeedForward implements BERT's position-wise FFN with its residual norm:
//
//	out = LayerNorm(x + Dropout(Output(GELU(Intermediate(x)))))
type FeedForward struct {
	Intermediate *Linear // [dim → intermediateSize]
	Output       *Linear // [intermediateSize → dim]
	OutputNorm   *LayerNorm
	Dropout      Dropout
}

// NewFeedForward creates a feed-forward block.
func NewFeedForward(cfg Config, rng *rand.Rand, device backend.Device) (*FeedForward, error) {
	inter, err := NewLinear(cfg.HiddenSize, cfg.IntermediateSize, true, cfg.InitializerRange, rng, device)
	if err != nil {
		return nil, err
	}
	out, err := NewLinear(cfg.IntermediateSize, cfg.HiddenSize, true, cfg.InitializerRange, rng, device)
	if err != nil {
		return nil, err
	}
	norm, err := NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps, device)
	if err != nil {
		return nil, err
	}
	return &FeedForward{
		Intermediate: inter,
		Output:       out,
		OutputNorm:   norm,
		Dropout:      Dropout{P: cfg.HiddenDropoutProb},
	}, nil
}

func (ff *FeedForward) forwardWithCache(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, *LayerCache, error) {
	inter, err := ff.Intermediate.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	act, err := ops.Gelu(inter)
	if err != nil {
		return nil, nil, err
	}
	proj, err := ff.Output.Forward(act)
	if err != nil {
		return nil, nil, err
	}
	proj, mask, err := ff.Dropout.Forward(proj, rng)
	if err != nil {
		return nil, nil, err
	}
	preNorm, err := residual(x, proj)
	if err != nil {
		return nil, nil, err
	}
	out, err := ff.OutputNorm.Forward(preNorm)
	if err != nil {
		return nil, nil, err
	}
	return out, &LayerCache{
		AttnOut:      x,
		Intermediate: inter,
		Activated:    act,
		OutMask:      mask,
		PreNorm:      preNorm,
	}, nil
}

func (ff *FeedForward) backward(cache *LayerCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	dPre, err := ff.OutputNorm.Backward(cache.PreNorm, dout)
	if err != nil {
		return nil, err
	}
	dAct, err := ff.Output.Backward(cache.Activated, maskGrad(dPre, cache.OutMask))
	if err != nil {
		return nil, err
	}
	dInter := geluBackward(cache.Intermediate, dAct)
	dx, err := ff.Intermediate.Backward(cache.AttnOut, dInter)
	if err != nil {
		return nil, err
	}
	return addTensors(dx, dPre), nil
}

// NamedParameters returns the HF names rooted at a layer prefix.
func (ff *FeedForward) NamedParameters(prefix string) []Param {
	var ps []Param
	ps = append(ps, ff.Intermediate.NamedParameters(prefix+".intermediate.dense")...)
	ps = append(ps, ff.Output.NamedParameters(prefix+".output.dense")...)
	ps = append(ps, ff.OutputNorm.NamedParameters(prefix+".output.LayerNorm")...)
	return ps
}
