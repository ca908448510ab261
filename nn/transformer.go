package nn

import (
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/tensor"
)

// EncoderLayer is one layer of the BERT encoder.
// Post-norm architecture:
//
//	x = LayerNorm(x + Attention(x))
//	x = LayerNorm(x + FFN(x))
type EncoderLayer struct {
	Attention *SelfAttention
	FFN       *FeedForward
}

// NewEncoderLayer creates one encoder layer.
func NewEncoderLayer(cfg Config, rng *rand.Rand, device backend.Device) (*EncoderLayer, error) {
	attn, err := NewSelfAttention(cfg, rng, device)
	if err != nil {
		return nil, err
	}
	ffn, err := NewFeedForward(cfg, rng, device)
	if err != nil {
		return nil, err
	}
	return &EncoderLayer{Attention: attn, FFN: ffn}, nil
}

// Forward runs one encoder layer.
// x: [batch, seqLen, dim] → [batch, seqLen, dim]
func (l *EncoderLayer) Forward(x *tensor.Tensor, mask []float32, rng *rand.Rand) (*tensor.Tensor, error) {
	out, _, err := l.ForwardWithCache(x, mask, rng)
	return out, err
}

// NamedParameters returns the HF names rooted at "bert.encoder.layer.N".
func (l *EncoderLayer) NamedParameters(prefix string) []Param {
	ps := l.Attention.NamedParameters(prefix + ".attention")
	return append(ps, l.FFN.NamedParameters(prefix)...)
}
