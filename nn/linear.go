package nn

import (
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// Linear is a dense layer with weights stored [out, in], as in PyTorch
// checkpoints.
type Linear struct {
	Weight *tensor.Tensor // [outFeatures, inFeatures]
	Bias   *tensor.Tensor // [outFeatures] or nil
	InF    int
	OutF   int
}

// NewLinear creates a linear layer with N(0, std^2) weights and zero bias.
func NewLinear(inFeatures, outFeatures int, bias bool, std float64, rng *rand.Rand, device backend.Device) (*Linear, error) {
	w, err := normalParam(tensor.Shape{outFeatures, inFeatures}, std, rng, device)
	if err != nil {
		return nil, err
	}

	l := &Linear{Weight: w, InF: inFeatures, OutF: outFeatures}
	if !bias {
		return l, nil
	}
	if l.Bias, err = constParam(tensor.Shape{outFeatures}, 0, device); err != nil {
		return nil, err
	}
	return l, nil
}

// Forward maps [..., InF] to [..., OutF].
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return ops.Linear(x, l.Weight, l.Bias)
}

// NamedParameters returns the weights under HF names rooted at prefix.
func (l *Linear) NamedParameters(prefix string) []Param {
	ps := []Param{{Name: prefix + ".weight", Tensor: l.Weight}}
	if l.Bias != nil {
		ps = append(ps, Param{Name: prefix + ".bias", Tensor: l.Bias})
	}
	return ps
}
