package nn

import (
	"math"
	"math/rand/v2"

	"github.com/djeday123/reviewtune/tensor"
)

// AttentionCache holds what SelfAttention.Backward needs from the forward
// pass.
type AttentionCache struct {
	X        *tensor.Tensor // input
	Q, K, V  []float32      // after projection, [batch, heads, seq, headDim]
	Probs    []float32      // softmax output, [batch, heads, seq, seq]
	Weights  []float32      // Probs after dropout (aliases Probs in eval)
	ProbMask []float32
	Ctx      *tensor.Tensor // merged heads, [batch, seq, dim]
	OutMask  []float32
	PreNorm  *tensor.Tensor // x + dropout(output(ctx))
}

// ForwardWithCache runs attention and saves intermediates for backward.
func (a *SelfAttention) ForwardWithCache(x *tensor.Tensor, mask []float32, rng *rand.Rand) (*tensor.Tensor, *AttentionCache, error) {
	shape := x.Shape()
	batch, seqLen := shape[0], shape[1]

	q, err := a.projectHeads(a.Query, x, batch, seqLen)
	if err != nil {
		return nil, nil, err
	}
	k, err := a.projectHeads(a.Key, x, batch, seqLen)
	if err != nil {
		return nil, nil, err
	}
	v, err := a.projectHeads(a.Value, x, batch, seqLen)
	if err != nil {
		return nil, nil, err
	}

	probs := make([]float32, batch*a.NumHeads*seqLen*seqLen)
	a.attentionProbs(q, k, mask, probs, batch, seqLen)

	weights := probs
	probMask := a.ProbsDropout.mask(len(probs), rng)
	if probMask != nil {
		weights = make([]float32, len(probs))
		for i, p := range probs {
			weights[i] = p * probMask[i]
		}
	}

	ctxArr := a.context(weights, v, batch, seqLen)
	ctx, err := tensor.FromSlice(mergeHeads(ctxArr, batch, seqLen, a.NumHeads, a.HeadDim), tensor.Shape{batch, seqLen, a.Dim})
	if err != nil {
		return nil, nil, err
	}

	proj, err := a.Output.Forward(ctx)
	if err != nil {
		return nil, nil, err
	}
	proj, outMask, err := a.OutputDropout.Forward(proj, rng)
	if err != nil {
		return nil, nil, err
	}
	preNorm, err := residual(x, proj)
	if err != nil {
		return nil, nil, err
	}
	out, err := a.OutputNorm.Forward(preNorm)
	if err != nil {
		return nil, nil, err
	}

	cache := &AttentionCache{
		X: x, Q: q, K: k, V: v,
		Probs: probs, Weights: weights, ProbMask: probMask,
		Ctx: ctx, OutMask: outMask, PreNorm: preNorm,
	}
	return out, cache, nil
}

// Backward accumulates parameter gradients and returns dx.
func (a *SelfAttention) Backward(cache *AttentionCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	shape := cache.X.Shape()
	batch, seqLen := shape[0], shape[1]
	hd := a.HeadDim

	// dPre feeds both the residual and the output projection.
	dPre, err := a.OutputNorm.Backward(cache.PreNorm, dout)
	if err != nil {
		return nil, err
	}
	dCtx, err := a.Output.Backward(cache.Ctx, maskGrad(dPre, cache.OutMask))
	if err != nil {
		return nil, err
	}

	dHeads := splitHeads(dCtx.ToFloat32Slice(), batch, seqLen, a.NumHeads, hd)
	dQs := make([]float32, len(cache.Q))
	dKs := make([]float32, len(cache.K))
	dVs := make([]float32, len(cache.V))
	hb := headBackward{
		seq:     seqLen,
		dim:     hd,
		scale:   float32(1 / math.Sqrt(float64(hd))),
		dScores: make([]float32, seqLen*seqLen),
	}
	for h := 0; h < batch*a.NumHeads; h++ {
		vec := h * seqLen * hd
		sq := h * seqLen * seqLen
		var dropMask []float32
		if cache.ProbMask != nil {
			dropMask = cache.ProbMask[sq : sq+seqLen*seqLen]
		}
		hb.run(
			span(cache.Q, vec, seqLen*hd), span(cache.K, vec, seqLen*hd), span(cache.V, vec, seqLen*hd),
			span(cache.Probs, sq, seqLen*seqLen), span(cache.Weights, sq, seqLen*seqLen), dropMask,
			span(dHeads, vec, seqLen*hd),
			span(dQs, vec, seqLen*hd), span(dKs, vec, seqLen*hd), span(dVs, vec, seqLen*hd),
		)
	}

	dQ := tensor.MustFromSlice(mergeHeads(dQs, batch, seqLen, a.NumHeads, hd), shape)
	dK := tensor.MustFromSlice(mergeHeads(dKs, batch, seqLen, a.NumHeads, hd), shape)
	dV := tensor.MustFromSlice(mergeHeads(dVs, batch, seqLen, a.NumHeads, hd), shape)

	dx1, err := a.Query.Backward(cache.X, dQ)
	if err != nil {
		return nil, err
	}
	dx2, err := a.Key.Backward(cache.X, dK)
	if err != nil {
		return nil, err
	}
	dx3, err := a.Value.Backward(cache.X, dV)
	if err != nil {
		return nil, err
	}

	return addTensors(dx1, dx2, dx3, dPre), nil
}

// LayerCache holds what EncoderLayer.Backward needs.
type LayerCache struct {
	Attn         *AttentionCache
	AttnOut      *tensor.Tensor // attention sub-layer output, FFN input
	Intermediate *tensor.Tensor // before GELU
	Activated    *tensor.Tensor // after GELU
	OutMask      []float32
	PreNorm      *tensor.Tensor // AttnOut + dropout(output)
}

// ForwardWithCache runs one encoder layer and saves intermediates.
func (l *EncoderLayer) ForwardWithCache(x *tensor.Tensor, mask []float32, rng *rand.Rand) (*tensor.Tensor, *LayerCache, error) {
	attnOut, attnCache, err := l.Attention.ForwardWithCache(x, mask, rng)
	if err != nil {
		return nil, nil, err
	}
	out, fc, err := l.FFN.forwardWithCache(attnOut, rng)
	if err != nil {
		return nil, nil, err
	}
	fc.Attn = attnCache
	return out, fc, nil
}

// Backward runs the FFN then the attention sub-layer backward.
func (l *EncoderLayer) Backward(cache *LayerCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	dAttnOut, err := l.FFN.backward(cache, dout)
	if err != nil {
		return nil, err
	}
	return l.Attention.Backward(cache.Attn, dAttnOut)
}

func span(s []float32, off, n int) []float32 { return s[off : off+n] }

// headBackward back-propagates through softmax(QK^T*scale)·V for one head.
type headBackward struct {
	seq, dim int
	scale    float32
	dScores  []float32 // scratch, seq*seq
}

// run accumulates into dq, dk and dv. weights are probs after dropout and
// drop is the dropout mask, nil in eval mode.
func (hb *headBackward) run(q, k, v, probs, weights, drop, dOut, dq, dk, dv []float32) {
	n, d := hb.seq, hb.dim
	ds := hb.dScores

	for i := 0; i < n; i++ {
		gi := dOut[i*d : (i+1)*d]
		for j := 0; j < n; j++ {
			// dV += w^T·dOut
			if w := weights[i*n+j]; w != 0 {
				for c, g := range gi {
					dv[j*d+c] += w * g
				}
			}
			// dWeights = dOut·V^T, through the dropout mask
			var dot float32
			for c, g := range gi {
				dot += g * v[j*d+c]
			}
			if drop != nil {
				dot *= drop[i*n+j]
			}
			ds[i*n+j] = dot
		}

		// softmax: dS = p * (dP - sum(dP*p))
		p, row := probs[i*n:(i+1)*n], ds[i*n:(i+1)*n]
		var sum float32
		for j := range row {
			sum += row[j] * p[j]
		}
		for j := range row {
			row[j] = p[j] * (row[j] - sum) * hb.scale
		}
	}

	// dQ = dS·K, dK = dS^T·Q
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			g := ds[i*n+j]
			if g == 0 {
				continue
			}
			for c := 0; c < d; c++ {
				dq[i*d+c] += g * k[j*d+c]
				dk[j*d+c] += g * q[i*d+c]
			}
		}
	}
}

// splitHeads turns [batch, seq, heads*dim] into [batch, heads, seq, dim].
func splitHeads(data []float32, batch, seq, heads, dim int) []float32 {
	return permuteHeads(data, batch, seq, heads, dim, true)
}

// mergeHeads is the inverse of splitHeads.
func mergeHeads(data []float32, batch, seq, heads, dim int) []float32 {
	return permuteHeads(data, batch, seq, heads, dim, false)
}

func permuteHeads(data []float32, batch, seq, heads, dim int, split bool) []float32 {
	out := make([]float32, len(data))
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			for h := 0; h < heads; h++ {
				tokenMajor := ((b*seq+s)*heads + h) * dim
				headMajor := ((b*heads+h)*seq + s) * dim
				if split {
					copy(out[headMajor:headMajor+dim], data[tokenMajor:tokenMajor+dim])
				} else {
					copy(out[tokenMajor:tokenMajor+dim], data[headMajor:headMajor+dim])
				}
			}
		}
	}
	return out
}
