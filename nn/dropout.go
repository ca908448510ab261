package nn

import (
	"math/rand/v2"

	"github.com/djeday123/reviewtune/tensor"
)

// Dropout zeroes activations with probability P during training and
// scales the survivors by 1/(1-P). It is the identity in eval mode,
// which callers signal with a nil rng.
type Dropout struct {
	P float64
}

// mask draws a scale mask of n entries, or nil when nothing is dropped.
func (d Dropout) mask(n int, rng *rand.Rand) []float32 {
	if rng == nil || d.P <= 0 {
		return nil
	}
	keep := float32(1 / (1 - d.P))
	m := make([]float32, n)
	for i := range m {
		if rng.Float64() >= d.P {
			m[i] = keep
		}
	}
	return m
}

// Forward returns the dropped tensor and the scale mask applied to it.
func (d Dropout) Forward(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, []float32, error) {
	m := d.mask(x.NumElements(), rng)
	if m == nil {
		return x, nil, nil
	}
	data := x.ToFloat32Slice()
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = v * m[i]
	}
	t, err := tensor.FromSlice(out, x.Shape())
	if err != nil {
		return nil, nil, err
	}
	return t, m, nil
}

// maskGrad returns dout scaled by a dropout mask. A nil mask returns dout.
func maskGrad(dout *tensor.Tensor, mask []float32) *tensor.Tensor {
	if mask == nil {
		return dout
	}
	data := dout.ToFloat32Slice()
	out := make([]float32, len(data))
	for i := range data {
		out[i] = data[i] * mask[i]
	}
	return tensor.MustFromSlice(out, dout.Shape())
}
