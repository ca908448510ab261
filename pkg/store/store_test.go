package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "reviewtune.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDatasetCache(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	ok, err := s.HasDataset(ctx, "imdb")
	if err != nil || ok {
		t.Fatalf("HasDataset on empty store = %v, %v", ok, err)
	}

	train := []Review{{Text: "great", Label: 1}, {Text: "awful", Label: 0}, {Text: "fine", Label: 1}}
	test := []Review{{Text: "meh", Label: 0}}
	if err := s.SaveDataset(ctx, "imdb", map[string][]Review{"train": train, "test": test}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasDataset(ctx, "imdb"); !ok {
		t.Fatal("dataset not marked cached")
	}

	got, err := s.LoadSplit(ctx, "imdb", "train")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != train[0] || got[2] != train[2] {
		t.Errorf("train rows = %+v", got)
	}

	// saving again replaces rather than appends
	if err := s.SaveDataset(ctx, "imdb", map[string][]Review{"train": train[:1], "test": test}); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadSplit(ctx, "imdb", "train"); len(got) != 1 {
		t.Errorf("after replace: %d rows", len(got))
	}
}

func TestRunLedger(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	if err := s.StartRun(ctx, Run{ID: "run-1", Dataset: "imdb", Backbone: "scratch", Config: "{}"}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		if err := s.RecordEpoch(ctx, Epoch{RunID: "run-1", Epoch: i, GlobalStep: 10 * i, F1: 0.5 + 0.1*float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.FinishRun(ctx, "run-1", errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunFailed || run.ErrorMessage.String != "boom" || !run.FinishedAt.Valid {
		t.Errorf("run = %+v", run)
	}
	epochs, err := s.Epochs(ctx, "run-1")
	if err != nil || len(epochs) != 2 || epochs[1].GlobalStep != 20 {
		t.Errorf("epochs = %+v, %v", epochs, err)
	}
	if err := s.FinishRun(ctx, "missing", nil); err == nil {
		t.Error("expected error finishing unknown run")
	}
}

func TestHoldoutEvaluations(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	prior, err := s.HoldoutEvaluations(ctx, "abc")
	if err != nil || len(prior) != 0 {
		t.Fatalf("prior = %v, %v", prior, err)
	}
	for _, run := range []string{"r1", "r2"} {
		if err := s.RecordHoldout(ctx, HoldoutEval{RunID: run, Fingerprint: "abc", Examples: 4, F1: 0.75}); err != nil {
			t.Fatal(err)
		}
	}
	prior, _ = s.HoldoutEvaluations(ctx, "abc")
	if len(prior) != 2 || prior[0].RunID != "r1" || prior[1].F1 != 0.75 {
		t.Errorf("prior = %+v", prior)
	}
}
