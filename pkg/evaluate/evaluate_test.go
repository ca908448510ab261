package evaluate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/labels"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/pkg/dataset"
	"github.com/djeday123/reviewtune/pkg/store"
	"github.com/djeday123/reviewtune/tokenizer"
	"github.com/djeday123/reviewtune/train"
)

func tinyModel(t *testing.T) *nn.SequenceClassifier {
	t.Helper()
	cfg := nn.Tiny(10)
	cfg.HiddenSize = 8
	cfg.IntermediateSize = 16
	cfg.NumHiddenLayers = 1
	cfg.MaxPositionEmbeddings = 8
	m, err := nn.NewSequenceClassifier(cfg, labels.Sentiment(), backend.CPU0, 1)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func holdoutData(n int) ([]dataset.Review, []train.Example) {
	reviews := make([]dataset.Review, n)
	examples := make([]train.Example, n)
	for i := range reviews {
		reviews[i] = dataset.Review{Text: "review", Label: dataset.Label(i % 2)}
		examples[i] = train.Example{
			Encoding: tokenizer.Encoding{InputIDs: []int64{2, 5 + int64(i%3), 3, 0}, AttentionMask: []int64{1, 1, 1, 0}},
			Label:    i % 2,
		}
	}
	return reviews, examples
}

func TestRunKeepsModelMode(t *testing.T) {
	m := tinyModel(t)
	_, ex := holdoutData(5)
	batches, _ := train.NewBatches(ex, 2, nil)

	rep, err := Run(m, batches)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Examples != 5 || rep.Confusion.Total() != 5 {
		t.Errorf("report = %+v", rep)
	}
	if !m.Training() {
		t.Error("Run changed the model mode")
	}
}

func TestFingerprint(t *testing.T) {
	a := []dataset.Review{{Text: "x", Label: 0}, {Text: "y", Label: 1}}
	b := []dataset.Review{{Text: "x", Label: 0}, {Text: "y", Label: 0}}
	c := []dataset.Review{{Text: "xy", Label: 0}, {Text: "", Label: 1}}
	if Fingerprint(a) == Fingerprint(b) || Fingerprint(a) == Fingerprint(c) {
		t.Error("fingerprint collision")
	}
	if Fingerprint(a) != Fingerprint(append([]dataset.Review(nil), a...)) {
		t.Error("fingerprint not stable")
	}
}

func TestHoldoutEvaluatesOnce(t *testing.T) {
	m := tinyModel(t)
	reviews, ex := holdoutData(4)
	h, err := NewHoldout(reviews, ex, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Evaluate(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Evaluate(context.Background(), m); !errors.Is(err, ErrHoldoutConsumed) {
		t.Errorf("second Evaluate err = %v", err)
	}
}

func TestHoldoutLedgerWarnsOnReuse(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	m := tinyModel(t)
	reviews, ex := holdoutData(4)
	for i, run := range []string{"run-a", "run-b"} {
		h, _ := NewHoldout(reviews, ex, 2)
		h.Ledger, h.RunID = st, run
		rep, err := h.Evaluate(context.Background(), m)
		if err != nil {
			t.Fatal(err)
		}
		if rep.PriorEvaluations != i {
			t.Errorf("%s: prior evaluations = %d, want %d", run, rep.PriorEvaluations, i)
		}
		if rep.Fingerprint != Fingerprint(reviews) {
			t.Error("report fingerprint mismatch")
		}
	}
}

func TestNewHoldoutValidates(t *testing.T) {
	reviews, ex := holdoutData(3)
	if _, err := NewHoldout(reviews[:2], ex, 2); err == nil {
		t.Error("expected length mismatch error")
	}
	if _, err := NewHoldout(nil, nil, 2); err == nil {
		t.Error("expected empty error")
	}
}
