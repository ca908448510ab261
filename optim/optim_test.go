package optim

import (
	"math"
	"testing"

	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/tensor"
)

func TestAdamWMinimizesQuadratic(t *testing.T) {
	w := tensor.MustFromSlice([]float32{3, -2}, tensor.Shape{2})
	opt := NewAdamW([]nn.Param{{Name: "w.weight", Tensor: w}}, DefaultOptions(0.1))

	for i := 0; i < 200; i++ {
		data := w.ToFloat32Slice()
		// f = 0.5 * |w|^2, grad = w
		w.SetGrad(tensor.MustFromSlice([]float32{data[0], data[1]}, tensor.Shape{2}))
		opt.Step()
	}
	for i, v := range w.ToFloat32Slice() {
		if math.Abs(float64(v)) > 0.1 {
			t.Errorf("w[%d] = %f, want ~0", i, v)
		}
	}
	if opt.Steps() != 200 {
		t.Errorf("Steps() = %d", opt.Steps())
	}
}

func TestGradNormAndClip(t *testing.T) {
	w := tensor.MustFromSlice([]float32{0, 0}, tensor.Shape{2})
	w.SetGrad(tensor.MustFromSlice([]float32{3, 4}, tensor.Shape{2}))
	opt := NewAdamW([]nn.Param{{Name: "w.weight", Tensor: w}}, DefaultOptions(0.1))

	if n := opt.GradNorm(); math.Abs(n-5) > 1e-6 {
		t.Fatalf("GradNorm() = %f, want 5", n)
	}
	opt.clipGradNorm(opt.GradNorm())
	if n := opt.GradNorm(); math.Abs(n-1) > 1e-6 {
		t.Errorf("after clipping norm = %f, want 1", n)
	}
}

func TestNoDecayForBiasAndLayerNorm(t *testing.T) {
	cases := map[string]bool{
		"bert.encoder.layer.0.attention.self.query.weight": true,
		"bert.encoder.layer.0.attention.self.query.bias":   false,
		"bert.embeddings.LayerNorm.weight":                 false,
		"classifier.weight":                                true,
	}
	for name, want := range cases {
		if got := decays(name); got != want {
			t.Errorf("decays(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLinearSchedule(t *testing.T) {
	s := LinearSchedule{MaxLR: 1, WarmupSteps: 0, TotalSteps: 10}
	if s.LR(0) != 1 {
		t.Errorf("LR(0) = %f", s.LR(0))
	}
	if math.Abs(s.LR(5)-0.5) > 1e-12 {
		t.Errorf("LR(5) = %f", s.LR(5))
	}
	if s.LR(12) != 0 {
		t.Errorf("LR past end = %f", s.LR(12))
	}

	w := LinearSchedule{MaxLR: 1, WarmupSteps: 4, TotalSteps: 8}
	if w.LR(2) != 0.5 || w.LR(4) != 1 || w.LR(6) != 0.5 {
		t.Errorf("warmup schedule = %f %f %f", w.LR(2), w.LR(4), w.LR(6))
	}
}

func TestNewSchedule(t *testing.T) {
	if _, err := NewSchedule("bogus", 1, 0, 1); err == nil {
		t.Error("expected unknown schedule error")
	}
	s, err := NewSchedule("cosine", 1, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if s.LR(10) > 1e-12 {
		t.Errorf("cosine end = %f", s.LR(10))
	}
}
