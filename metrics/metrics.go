// Package metrics computes binary classification scores.
package metrics

import "fmt"

// Positive is the label treated as the positive class.
const Positive = 1

// Scores holds binary classification metrics for the positive class.
type Scores struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

func (s Scores) String() string {
	return fmt.Sprintf("accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f", s.Accuracy, s.Precision, s.Recall, s.F1)
}

// Confusion counts predictions against gold labels.
type Confusion struct {
	TP, FP, TN, FN int
}

// Total returns the number of counted examples.
func (c Confusion) Total() int { return c.TP + c.FP + c.TN + c.FN }

// Count tallies preds against labels. Both slices must have equal length.
func Count(preds, labels []int) (Confusion, error) {
	if len(preds) != len(labels) {
		return Confusion{}, fmt.Errorf("metrics: %d predictions for %d labels", len(preds), len(labels))
	}
	var c Confusion
	for i, p := range preds {
		gold := labels[i] == Positive
		switch {
		case p == Positive && gold:
			c.TP++
		case p == Positive:
			c.FP++
		case gold:
			c.FN++
		default:
			c.TN++
		}
	}
	return c, nil
}

// Scores derives accuracy, precision, recall and F1. Undefined ratios are 0.
func (c Confusion) Scores() Scores {
	var s Scores
	if n := c.Total(); n > 0 {
		s.Accuracy = float64(c.TP+c.TN) / float64(n)
	}
	if c.TP+c.FP > 0 {
		s.Precision = float64(c.TP) / float64(c.TP+c.FP)
	}
	if c.TP+c.FN > 0 {
		s.Recall = float64(c.TP) / float64(c.TP+c.FN)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// Compute returns the scores of preds against labels.
func Compute(preds, labels []int) (Scores, error) {
	c, err := Count(preds, labels)
	if err != nil {
		return Scores{}, err
	}
	return c.Scores(), nil
}
