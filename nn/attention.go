package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// maskedScore is added to attention scores of padding keys.
const maskedScore = -1e9

// SelfAttention is BERT's attention sub-layer (post-norm):
//
//	ctx = softmax(Q K^T / sqrt(d) + mask) V
//	out = LayerNorm(x + Dropout(Output(ctx)))
type SelfAttention struct {
	Query, Key, Value *Linear
	Output            *Linear
	OutputNorm        *LayerNorm
	ProbsDropout      Dropout
	OutputDropout     Dropout

	Dim      int
	NumHeads int
	HeadDim  int
}

// NewSelfAttention creates one attention sub-layer.
func NewSelfAttention(cfg Config, rng *rand.Rand, device backend.Device) (*SelfAttention, error) {
	dim := cfg.HiddenSize
	if dim%cfg.NumAttentionHeads != 0 {
		return nil, fmt.Errorf("dim %d not divisible by numHeads %d", dim, cfg.NumAttentionHeads)
	}

	a := &SelfAttention{
		ProbsDropout:  Dropout{P: cfg.AttentionProbsDropoutProb},
		OutputDropout: Dropout{P: cfg.HiddenDropoutProb},
		Dim:           dim,
		NumHeads:      cfg.NumAttentionHeads,
		HeadDim:       cfg.HeadDim(),
	}
	var err error
	for _, l := range []**Linear{&a.Query, &a.Key, &a.Value, &a.Output} {
		if *l, err = NewLinear(dim, dim, true, cfg.InitializerRange, rng, device); err != nil {
			return nil, err
		}
	}
	if a.OutputNorm, err = NewLayerNorm(dim, cfg.LayerNormEps, device); err != nil {
		return nil, err
	}
	return a, nil
}

// Forward runs attention without keeping intermediates.
// x: [batch, seqLen, dim]; mask: additive key mask [batch*seqLen].
func (a *SelfAttention) Forward(x *tensor.Tensor, mask []float32, rng *rand.Rand) (*tensor.Tensor, error) {
	out, _, err := a.ForwardWithCache(x, mask, rng)
	return out, err
}

// NamedParameters returns the HF names rooted at prefix ("...attention").
func (a *SelfAttention) NamedParameters(prefix string) []Param {
	var ps []Param
	ps = append(ps, a.Query.NamedParameters(prefix+".self.query")...)
	ps = append(ps, a.Key.NamedParameters(prefix+".self.key")...)
	ps = append(ps, a.Value.NamedParameters(prefix+".self.value")...)
	ps = append(ps, a.Output.NamedParameters(prefix+".output.dense")...)
	ps = append(ps, a.OutputNorm.NamedParameters(prefix+".output.LayerNorm")...)
	return ps
}

// attentionProbs fills probs [batch, heads, seq, seq] with
// softmax(Q K^T / sqrt(d) + mask) for q, k laid out as [batch, heads, seq, headDim].
func (a *SelfAttention) attentionProbs(q, k, mask, probs []float32, batch, seqLen int) {
	scale := float32(1.0 / math.Sqrt(float64(a.HeadDim)))
	hd := a.HeadDim

	for b := 0; b < batch; b++ {
		for h := 0; h < a.NumHeads; h++ {
			bhOff := (b*a.NumHeads + h) * seqLen * hd
			scOff := (b*a.NumHeads + h) * seqLen * seqLen

			for i := 0; i < seqLen; i++ {
				row := probs[scOff+i*seqLen : scOff+(i+1)*seqLen]
				qi := q[bhOff+i*hd : bhOff+(i+1)*hd]
				maxVal := float32(-math.MaxFloat32)
				for j := 0; j < seqLen; j++ {
					kj := k[bhOff+j*hd : bhOff+(j+1)*hd]
					dot := float32(0)
					for d, qv := range qi {
						dot += qv * kj[d]
					}
					row[j] = dot*scale + mask[b*seqLen+j]
					maxVal = max(maxVal, row[j])
				}
				sumExp := float32(0)
				for j := range row {
					row[j] = float32(math.Exp(float64(row[j] - maxVal)))
					sumExp += row[j]
				}
				for j := range row {
					row[j] /= sumExp
				}
			}
		}
	}
}

// context computes weights @ V into a [batch, heads, seq, headDim] buffer.
func (a *SelfAttention) context(weights, v []float32, batch, seqLen int) []float32 {
	hd := a.HeadDim
	out := make([]float32, len(v))
	for bh := 0; bh < batch*a.NumHeads; bh++ {
		bhOff := bh * seqLen * hd
		scOff := bh * seqLen * seqLen
		for i := 0; i < seqLen; i++ {
			oi := out[bhOff+i*hd : bhOff+(i+1)*hd]
			for j := 0; j < seqLen; j++ {
				w := weights[scOff+i*seqLen+j]
				if w == 0 {
					continue
				}
				vj := v[bhOff+j*hd : bhOff+(j+1)*hd]
				for d := range oi {
					oi[d] += w * vj[d]
				}
			}
		}
	}
	return out
}

// projectHeads applies a projection and splits the result into heads.
func (a *SelfAttention) projectHeads(l *Linear, x *tensor.Tensor, batch, seqLen int) ([]float32, error) {
	p, err := l.Forward(x)
	if err != nil {
		return nil, err
	}
	return splitHeads(p.ToFloat32Slice(), batch, seqLen, a.NumHeads, a.HeadDim), nil
}

func residual(x, y *tensor.Tensor) (*tensor.Tensor, error) {
	return ops.Add(x, y)
}
