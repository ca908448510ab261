package nn

import (
	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// LayerNorm normalises over the last axis.
type LayerNorm struct {
	Gamma *tensor.Tensor // [normSize] scale
	Beta  *tensor.Tensor // [normSize] shift
	Eps   float64
}

// NewLayerNorm starts from the identity: gamma 1, beta 0.
func NewLayerNorm(normSize int, eps float64, device backend.Device) (*LayerNorm, error) {
	gamma, err := constParam(tensor.Shape{normSize}, 1, device)
	if err != nil {
		return nil, err
	}
	beta, err := constParam(tensor.Shape{normSize}, 0, device)
	if err != nil {
		return nil, err
	}
	return &LayerNorm{Gamma: gamma, Beta: beta, Eps: eps}, nil
}

func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return ops.LayerNorm(x, ln.Gamma, ln.Beta, x.NDim()-1, ln.Eps)
}

// NamedParameters returns gamma and beta under their checkpoint names.
func (ln *LayerNorm) NamedParameters(prefix string) []Param {
	return []Param{
		{Name: prefix + ".weight", Tensor: ln.Gamma},
		{Name: prefix + ".bias", Tensor: ln.Beta},
	}
}
