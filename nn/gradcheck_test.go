package nn

import (
	"math"
	"testing"

	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// Compares analytical gradients from Backward with central differences.
func TestGradientCheck(t *testing.T) {
	model := tinyClassifier(t, 0)
	model.Train()

	inputs := tensor.MustFromSlice([]int64{2, 5, 9, 3, 2, 11, 3, 0}, tensor.Shape{2, 4})
	mask := tensor.MustFromSlice([]int64{1, 1, 1, 1, 1, 1, 1, 0}, tensor.Shape{2, 4})
	targets := tensor.MustFromSlice([]int64{1, 0}, tensor.Shape{2})

	lossAt := func() float64 {
		logits, err := model.Forward(inputs, mask)
		if err != nil {
			t.Fatal(err)
		}
		loss, err := ops.CrossEntropyLoss(logits, targets)
		if err != nil {
			t.Fatal(err)
		}
		return float64(loss.ToFloat32Slice()[0])
	}

	logits, cache, err := model.ForwardWithCache(inputs, mask)
	if err != nil {
		t.Fatal(err)
	}
	dLogits, err := ops.CrossEntropyBackward(logits, targets)
	if err != nil {
		t.Fatal(err)
	}
	model.ZeroGrad()
	if err := model.Backward(cache, dLogits); err != nil {
		t.Fatal(err)
	}

	toCheck := []string{
		"classifier.weight",
		"bert.pooler.dense.weight",
		"bert.encoder.layer.0.output.LayerNorm.weight",
		"bert.encoder.layer.0.intermediate.dense.weight",
		"bert.encoder.layer.0.attention.self.query.weight",
		"bert.encoder.layer.0.attention.self.value.bias",
		"bert.embeddings.LayerNorm.bias",
		"bert.embeddings.word_embeddings.weight",
		"bert.embeddings.position_embeddings.weight",
	}
	params := make(map[string]*tensor.Tensor)
	for _, p := range model.NamedParameters() {
		params[p.Name] = p.Tensor
	}

	const eps = 1e-3
	for _, name := range toCheck {
		p := params[name]
		if p.Grad() == nil {
			t.Errorf("%s: no gradient", name)
			continue
		}
		pData := p.ToFloat32Slice()
		gData := p.Grad().ToFloat32Slice()

		// word embedding rows 5 and 9 are used by the batch
		start := 0
		if name == "bert.embeddings.word_embeddings.weight" {
			start = 5 * model.Config.HiddenSize
		}
		for j := start; j < start+4 && j < len(pData); j++ {
			original := pData[j]
			pData[j] = original + eps
			plus := lossAt()
			pData[j] = original - eps
			minus := lossAt()
			pData[j] = original

			num := (plus - minus) / (2 * eps)
			ana := float64(gData[j])
			if diff := math.Abs(num - ana); diff > 1e-3+0.05*math.Max(math.Abs(num), math.Abs(ana)) {
				t.Errorf("%s[%d]: analytical %.6f, numerical %.6f", name, j, ana, num)
			}
		}
	}
}

// A plain gradient step on a fixed batch must lower the loss.
func TestGradientStepReducesLoss(t *testing.T) {
	model := tinyClassifier(t, 0)
	inputs := tensor.MustFromSlice([]int64{2, 5, 9, 3}, tensor.Shape{1, 4})
	targets := tensor.MustFromSlice([]int64{1}, tensor.Shape{1})

	logits, cache, err := model.ForwardWithCache(inputs, nil)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := ops.CrossEntropyLoss(logits, targets)
	dLogits, _ := ops.CrossEntropyBackward(logits, targets)
	if err := model.Backward(cache, dLogits); err != nil {
		t.Fatal(err)
	}

	const lr = float32(0.05)
	for _, p := range model.Parameters() {
		if p.Grad() == nil {
			continue
		}
		pData := p.ToFloat32Slice()
		for i, g := range p.Grad().ToFloat32Slice() {
			pData[i] -= lr * g
		}
	}

	logits2, _ := model.Forward(inputs, nil)
	after, _ := ops.CrossEntropyLoss(logits2, targets)
	if after.ToFloat32Slice()[0] >= before.ToFloat32Slice()[0] {
		t.Errorf("loss did not decrease: %f → %f", before.ToFloat32Slice()[0], after.ToFloat32Slice()[0])
	}
}
