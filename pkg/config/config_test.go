package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tr := cfg.Training
	if tr.NumTrainEpochs != 2 || tr.TrainBatchSize != 8 || tr.EvalBatchSize != 8 || tr.LoggingSteps != 100 {
		t.Errorf("training defaults = %+v", tr)
	}
	if !tr.LoadBestModelAtEnd || tr.EvaluationStrategy != "epoch" || tr.SaveStrategy != "epoch" {
		t.Errorf("strategy defaults = %+v", tr)
	}
	if cfg.Split.ValidationFraction != 0.1 || cfg.Split.Seed != 42 || cfg.Tokenizer.MaxLength != 128 {
		t.Errorf("split/tokenizer defaults = %+v %+v", cfg.Split, cfg.Tokenizer)
	}
	if len(cfg.Inference.Probes) != 2 || !strings.HasPrefix(cfg.Inference.Probes[0], "I absolutely loved") {
		t.Errorf("probes = %q", cfg.Inference.Probes)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yml := `
dataset:
  source: jsonl
  dir: ./fixtures
  max_train: 500
backbone:
  name: scratch
training:
  num_train_epochs: 1
  learning_rate: 0.001
hub:
  token: ${REVIEWTUNE_TEST_TOKEN}
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REVIEWTUNE_TEST_TOKEN", "hf_abc")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dataset.Source != "jsonl" || cfg.Dataset.MaxTrain != 500 || cfg.Dataset.Name != "imdb" {
		t.Errorf("dataset = %+v", cfg.Dataset)
	}
	if cfg.Training.NumTrainEpochs != 1 || cfg.Training.LearningRate != 0.001 || cfg.Training.TrainBatchSize != 8 {
		t.Errorf("training = %+v", cfg.Training)
	}
	if cfg.Hub.Token != "hf_abc" {
		t.Errorf("token = %q", cfg.Hub.Token)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backbone.Name != "bert-base-uncased" {
		t.Errorf("backbone = %q", cfg.Backbone.Name)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, yml := range map[string]string{
		"unknown field":  "datasett:\n  name: imdb\n",
		"bad source":     "dataset:\n  source: ftp\n",
		"bad fraction":   "split:\n  validation_fraction: 1.5\n",
		"bad epochs":     "training:\n  num_train_epochs: 0\n",
		"mirror no bkt":  "artifact:\n  mirror:\n    endpoint: localhost:9000\n",
		"malformed yaml": "dataset: [\n",
	} {
		path := filepath.Join(t.TempDir(), "c.yml")
		os.WriteFile(path, []byte(yml), 0o644)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
