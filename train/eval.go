package train

import (
	"fmt"

	"github.com/djeday123/reviewtune/metrics"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/ops"
)

// EvalResult holds the outcome of one pass over labelled batches.
type EvalResult struct {
	Loss        float64
	Scores      metrics.Scores
	Confusion   metrics.Confusion
	Predictions []int
	Labels      []int
}

// Evaluate runs the model in eval mode over every batch and scores the
// arg-max predictions. The model's previous mode is restored afterwards.
func Evaluate(model *nn.SequenceClassifier, batches *Batches) (EvalResult, error) {
	if batches.Examples() == 0 {
		return EvalResult{}, fmt.Errorf("evaluate: no examples")
	}
	if model.Training() {
		model.Eval()
		defer model.Train()
	}

	var res EvalResult
	var lossSum float64
	for i := 0; i < batches.Len(); i++ {
		b, err := batches.Batch(i)
		if err != nil {
			return EvalResult{}, err
		}
		logits, err := model.Forward(b.InputIDs, b.AttentionMask)
		if err != nil {
			return EvalResult{}, fmt.Errorf("evaluate batch %d: %w", i, err)
		}
		loss, err := ops.CrossEntropyLoss(logits, b.Labels)
		if err != nil {
			return EvalResult{}, fmt.Errorf("evaluate batch %d: %w", i, err)
		}
		lossSum += float64(loss.ToFloat32Slice()[0]) * float64(b.Size())
		res.Predictions = append(res.Predictions, ops.ArgMax(logits)...)
		res.Labels = append(res.Labels, b.Targets...)
	}

	conf, err := metrics.Count(res.Predictions, res.Labels)
	if err != nil {
		return EvalResult{}, err
	}
	res.Confusion = conf
	res.Scores = conf.Scores()
	res.Loss = lossSum / float64(len(res.Labels))
	return res, nil
}
