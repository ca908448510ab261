package inference

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/labels"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/pkg/artifact"
	"github.com/djeday123/reviewtune/tokenizer"
)

func savedPredictor(t *testing.T, batchSize int) *Predictor {
	t.Helper()
	tok, err := tokenizer.TrainVocab([]string{"this movie was great", "this movie was awful"}, 60, true)
	if err != nil {
		t.Fatal(err)
	}
	cfg := nn.Tiny(tok.VocabSize())
	cfg.HiddenSize = 8
	cfg.IntermediateSize = 16
	cfg.NumHiddenLayers = 1
	m, err := nn.NewSequenceClassifier(cfg, labels.Sentiment(), backend.CPU0, 9)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "model")
	if err := artifact.Save(dir, m, tok); err != nil {
		t.Fatal(err)
	}
	p, err := Load(dir, Options{Device: backend.CPU0, BatchSize: batchSize})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPredictKeepsOrder(t *testing.T) {
	p := savedPredictor(t, 2)
	texts := []string{"This movie was great!", "awful", "was it great or awful", "movie", "great great great"}

	preds, err := p.Predict(texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != len(texts) {
		t.Fatalf("%d predictions for %d texts", len(preds), len(texts))
	}
	for i, pr := range preds {
		if pr.Text != texts[i] {
			t.Errorf("prediction %d is for %q", i, pr.Text)
		}
		if pr.Label != "NEGATIVE" && pr.Label != "POSITIVE" {
			t.Errorf("label %q", pr.Label)
		}
		if pr.Score < 0.5 || pr.Score > 1 {
			t.Errorf("score %v for arg-max label", pr.Score)
		}

		single, err := p.PredictText(texts[i])
		if err != nil {
			t.Fatal(err)
		}
		if len(single) != 1 || single[0].Label != pr.Label {
			t.Errorf("text %d: batch label %s, single %v", i, pr.Label, single)
		}
	}
}

func TestPredictEmpty(t *testing.T) {
	p := savedPredictor(t, 4)
	preds, err := p.Predict(nil)
	if err != nil || preds == nil || len(preds) != 0 {
		t.Errorf("Predict(nil) = %v, %v", preds, err)
	}
}

func TestPredictAny(t *testing.T) {
	p := savedPredictor(t, 4)

	a, err := p.PredictAny("This movie was great!")
	if err != nil || len(a) != 1 {
		t.Fatalf("string input: %v, %v", a, err)
	}
	b, err := p.PredictAny([]string{"This movie was great!"})
	if err != nil || len(b) != 1 || b[0] != a[0] {
		t.Errorf("scalar and list forms differ: %v vs %v", a, b)
	}

	var ie *InputError
	for _, bad := range []any{42, nil, []any{"x"}} {
		if _, err := p.PredictAny(bad); !errors.As(err, &ie) {
			t.Errorf("PredictAny(%v) err = %v", bad, err)
		}
	}
}

func TestPredictInvalidUTF8(t *testing.T) {
	p := savedPredictor(t, 2)
	_, err := p.Predict([]string{"ok", "fine", "bad \xff"})

	var te *tokenizer.TokenizationError
	if !errors.As(err, &te) || te.Index != 2 {
		t.Errorf("err = %v", err)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"), Options{Device: backend.CPU0})
	var pe *artifact.PersistenceError
	if !errors.As(err, &pe) {
		t.Errorf("err = %v", err)
	}
}
