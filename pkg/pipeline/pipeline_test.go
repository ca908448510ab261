package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/djeday123/reviewtune/pkg/artifact"
	"github.com/djeday123/reviewtune/pkg/backbone"
	"github.com/djeday123/reviewtune/pkg/config"
	"github.com/djeday123/reviewtune/pkg/dataset"
	"github.com/djeday123/reviewtune/pkg/inference"
	"github.com/djeday123/reviewtune/pkg/report"
	"github.com/djeday123/reviewtune/pkg/store"
)

func reviews(n int) []dataset.Review {
	pos := []string{"a great film, I loved it", "wonderful acting and a great story", "loved every minute, great"}
	neg := []string{"a terrible film, so boring", "awful acting and a boring story", "boring and terrible, awful"}
	out := make([]dataset.Review, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = dataset.Review{Text: fmt.Sprintf("%s %d", pos[i%3], i), Label: dataset.Positive}
		} else {
			out[i] = dataset.Review{Text: fmt.Sprintf("%s %d", neg[i%3], i), Label: dataset.Negative}
		}
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	if err := os.MkdirAll(data, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := dataset.WriteJSONL(filepath.Join(data, "train.jsonl"), reviews(40)); err != nil {
		t.Fatal(err)
	}
	if err := dataset.WriteJSONL(filepath.Join(data, "test.jsonl"), reviews(12)); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Device = "cpu"
	cfg.Dataset.Source = "jsonl"
	cfg.Dataset.Dir = data
	cfg.Backbone.Name = backbone.Scratch
	cfg.Backbone.ScratchVocab = 200
	cfg.Tokenizer.MaxLength = 16
	cfg.Training.OutputDir = filepath.Join(dir, "results")
	cfg.Training.TrainBatchSize = 4
	cfg.Training.EvalBatchSize = 4
	cfg.Training.LoggingSteps = 5
	cfg.Training.LearningRate = 1e-3
	cfg.Report.Dir = filepath.Join(dir, "report")
	cfg.Artifact.Dir = filepath.Join(dir, "model")
	cfg.Store.Path = filepath.Join(dir, "reviewtune.db")
	cfg.Hub.Token = ""
	cfg.Hub.CacheDir = filepath.Join(dir, "hub")
	return cfg
}

func TestTrainEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	ctx := context.Background()

	sum, err := p.Train(ctx)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if sum.RunID == "" || sum.Device != "cpu" {
		t.Errorf("run id %q device %q", sum.RunID, sum.Device)
	}
	if got := len(sum.Training.Epochs); got != 2 {
		t.Fatalf("epochs = %d, want 2", got)
	}
	// 36 training examples at batch 4, two epochs
	if sum.Training.GlobalStep != 18 {
		t.Errorf("global step = %d, want 18", sum.Training.GlobalStep)
	}
	if sum.Holdout.Examples != 12 || sum.Holdout.Confusion.Total() != 12 {
		t.Errorf("holdout = %+v", sum.Holdout)
	}
	if sum.Report == nil || sum.Report.Examples != 40 {
		t.Errorf("report = %+v", sum.Report)
	}
	if _, err := os.Stat(filepath.Join(cfg.Report.Dir, report.SummaryFile)); err != nil {
		t.Errorf("report summary: %v", err)
	}
	for _, f := range []string{artifact.WeightsFile, artifact.ConfigFile} {
		if _, err := os.Stat(filepath.Join(cfg.Artifact.Dir, f)); err != nil {
			t.Errorf("artifact %s: %v", f, err)
		}
	}
	// Labels depend on convergence; only the shape of the answer is fixed.
	want := []string{"POSITIVE", "NEGATIVE"}
	if len(sum.Probes) != len(cfg.Inference.Probes) {
		t.Fatalf("predictions = %+v", sum.Probes)
	}
	for i, pr := range sum.Probes {
		if pr.Text != cfg.Inference.Probes[i] {
			t.Errorf("prediction %d text = %q, want %q", i, pr.Text, cfg.Inference.Probes[i])
		}
		if pr.Label != "POSITIVE" && pr.Label != "NEGATIVE" {
			t.Errorf("prediction %d label %q", i, pr.Label)
		}
		t.Logf("%q -> %s (expected %s, score %.3f)", pr.Text, pr.Label, want[i], pr.Score)
	}

	pred, err := inference.Load(sum.ArtifactDir, inference.Options{MaxLength: cfg.Tokenizer.MaxLength})
	if err != nil {
		t.Fatal(err)
	}
	const text = "I absolutely loved this movie. It's fantastic!"
	one, err := pred.PredictText(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].Text != text {
		t.Errorf("reloaded prediction = %+v", one)
	}

	run, err := p.Store().GetRun(ctx, sum.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != store.RunFinished {
		t.Errorf("run status = %q", run.Status)
	}
	epochs, err := p.Store().Epochs(ctx, sum.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(epochs) != 2 || epochs[1].GlobalStep != 18 {
		t.Errorf("recorded epochs = %+v", epochs)
	}

	// A second run over the same test data sees the first evaluation.
	again, err := p.Train(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Holdout.PriorEvaluations != 1 {
		t.Errorf("prior evaluations = %d, want 1", again.Holdout.PriorEvaluations)
	}
	if again.Holdout.Fingerprint != sum.Holdout.Fingerprint {
		t.Error("fingerprint changed between runs")
	}
}

func TestTrainRecordsFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dataset.Dir = filepath.Join(t.TempDir(), "missing")
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	sum, err := p.Train(context.Background())
	if !IsDatasetUnavailable(err) {
		t.Fatalf("err = %v, want dataset unavailable", err)
	}
	run, err := p.Store().GetRun(context.Background(), sum.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != store.RunFailed || !run.ErrorMessage.Valid {
		t.Errorf("run = %+v", run)
	}
}

func TestReportOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dataset.MaxTrain = 10
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	s, err := p.Report(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Examples != 10 {
		t.Errorf("examples = %d, want 10", s.Examples)
	}
	if s.LabelCounts[dataset.Positive]+s.LabelCounts[dataset.Negative] != 10 {
		t.Errorf("label counts = %v", s.LabelCounts)
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Hub.Token = "hf_secret"
	cfg.Artifact.Mirror.SecretKey = "minio-secret"
	out := redacted(cfg)
	for _, s := range []string{"hf_secret", "minio-secret"} {
		if strings.Contains(out, s) {
			t.Errorf("redacted config leaks %q", s)
		}
	}
	if cfg.Hub.Token != "hf_secret" {
		t.Error("redacted modified its input")
	}
}
