package metrics

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCompute(t *testing.T) {
	preds := []int{1, 1, 0, 0, 1, 0}
	gold := []int{1, 0, 0, 1, 1, 0}
	s, err := Compute(preds, gold)
	if err != nil {
		t.Fatal(err)
	}
	// TP=2 FP=1 TN=2 FN=1
	if !near(s.Accuracy, 4.0/6) || !near(s.Precision, 2.0/3) || !near(s.Recall, 2.0/3) || !near(s.F1, 2.0/3) {
		t.Errorf("got %v", s)
	}
}

func TestComputeNoPositives(t *testing.T) {
	s, err := Compute([]int{0, 0}, []int{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if s.Accuracy != 1 || s.F1 != 0 || s.Precision != 0 || s.Recall != 0 {
		t.Errorf("got %v", s)
	}
}

func TestComputeEmpty(t *testing.T) {
	s, err := Compute(nil, nil)
	if err != nil || s != (Scores{}) {
		t.Errorf("Compute(nil, nil) = %v, %v", s, err)
	}
}

func TestComputeLengthMismatch(t *testing.T) {
	if _, err := Compute([]int{1}, []int{1, 0}); err == nil {
		t.Error("expected error")
	}
}
