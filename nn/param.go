package nn

import (
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/tensor"
)

// Param is a trainable tensor with its checkpoint name.
type Param struct {
	Name   string
	Tensor *tensor.Tensor
}

// newRand returns the deterministic source used for weight init and dropout.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// normalParam allocates a trainable tensor drawn from N(0, std^2).
func normalParam(shape tensor.Shape, std float64, rng *rand.Rand, device backend.Device) (*tensor.Tensor, error) {
	t, err := tensor.Zeros(shape, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	data := t.ToFloat32Slice()
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
	return t.SetRequiresGrad(true), nil
}

// constParam allocates a trainable tensor filled with value.
func constParam(shape tensor.Shape, value float64, device backend.Device) (*tensor.Tensor, error) {
	t, err := tensor.Full(shape, value, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	return t.SetRequiresGrad(true), nil
}
