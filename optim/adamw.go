package optim

import (
	"math"
	"strings"

	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/tensor"
)

// Options holds AdamW hyperparameters.
type Options struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64 // decoupled; never applied to biases or LayerNorm
	MaxGradNorm float64 // global-norm clip, 0 disables
}

// DefaultOptions are the fine-tuning defaults at learning rate lr.
func DefaultOptions(lr float64) Options {
	return Options{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, MaxGradNorm: 1.0}
}

// slot is one parameter and its moment estimates.
type slot struct {
	param *tensor.Tensor
	decay bool
	m, v  []float32
}

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	Options
	slots []slot
	step  int
}

// NewAdamW creates an optimizer over named parameters.
func NewAdamW(params []nn.Param, opts Options) *AdamW {
	opt := &AdamW{Options: opts, slots: make([]slot, len(params))}
	for i, p := range params {
		n := p.Tensor.NumElements()
		opt.slots[i] = slot{
			param: p.Tensor,
			decay: decays(p.Name),
			m:     make([]float32, n),
			v:     make([]float32, n),
		}
	}
	return opt
}

func decays(name string) bool {
	return !strings.HasSuffix(name, ".bias") && !strings.Contains(name, "LayerNorm")
}

// grads calls fn with the gradient of every parameter that has one.
func (opt *AdamW) grads(fn func(s *slot, g []float32)) {
	for i := range opt.slots {
		s := &opt.slots[i]
		if g := s.param.Grad(); g != nil {
			fn(s, g.ToFloat32Slice())
		}
	}
}

// Step clips the gradients when MaxGradNorm is set and applies one update.
// Parameters without a gradient are left alone.
func (opt *AdamW) Step() {
	opt.step++
	if opt.MaxGradNorm > 0 {
		opt.clipGradNorm(opt.GradNorm())
	}

	b1, b2 := float32(opt.Beta1), float32(opt.Beta2)
	c1 := 1 - math.Pow(opt.Beta1, float64(opt.step))
	c2 := 1 - math.Pow(opt.Beta2, float64(opt.step))
	lr := float32(opt.LR)

	opt.grads(func(s *slot, g []float32) {
		w := s.param.ToFloat32Slice()
		var wd float32
		if s.decay {
			wd = float32(opt.WeightDecay)
		}
		for j, gj := range g {
			s.m[j] = b1*s.m[j] + (1-b1)*gj
			s.v[j] = b2*s.v[j] + (1-b2)*gj*gj
			adam := float64(s.m[j]) / c1 / (math.Sqrt(float64(s.v[j])/c2) + opt.Eps)
			w[j] -= lr * (float32(adam) + wd*w[j])
		}
	})
}

// Steps is the number of updates applied.
func (opt *AdamW) Steps() int { return opt.step }

// ZeroGrad zeroes every gradient in place.
func (opt *AdamW) ZeroGrad() {
	opt.grads(func(_ *slot, g []float32) { clear(g) })
}

// GradNorm is the global L2 norm over all gradients.
func (opt *AdamW) GradNorm() float64 {
	var sq float64
	opt.grads(func(_ *slot, g []float32) {
		for _, v := range g {
			sq += float64(v) * float64(v)
		}
	})
	return math.Sqrt(sq)
}

func (opt *AdamW) clipGradNorm(norm float64) {
	if norm <= opt.MaxGradNorm {
		return
	}
	scale := float32(opt.MaxGradNorm / norm)
	opt.grads(func(_ *slot, g []float32) {
		for i := range g {
			g[i] *= scale
		}
	})
}

func (opt *AdamW) GetLR() float64   { return opt.LR }
func (opt *AdamW) SetLR(lr float64) { opt.LR = lr }
