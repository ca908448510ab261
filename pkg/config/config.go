// Package config loads the YAML configuration of a reviewtune run.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/djeday123/reviewtune/pkg/artifact"
	"github.com/djeday123/reviewtune/pkg/hub"
	"github.com/djeday123/reviewtune/pkg/logging"
	"github.com/djeday123/reviewtune/train"
)

// Config holds the configuration for the whole pipeline.
type Config struct {
	Device    string          `yaml:"device"` // auto, cpu, cuda[:n]
	Dataset   DatasetConfig   `yaml:"dataset"`
	Backbone  BackboneConfig  `yaml:"backbone"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Split     SplitConfig     `yaml:"split"`
	Training  train.Config    `yaml:"training"`
	Report    ReportConfig    `yaml:"report"`
	Artifact  ArtifactConfig  `yaml:"artifact"`
	Inference InferenceConfig `yaml:"inference"`
	Hub       hub.Options     `yaml:"hub"`
	Store     StoreConfig     `yaml:"store"`
	Logging   logging.Config  `yaml:"logging"`
}

// DatasetConfig selects the corpus.
type DatasetConfig struct {
	Name     string `yaml:"name"`      // e.g. "imdb"
	Source   string `yaml:"source"`    // "hub" or "jsonl"
	Dir      string `yaml:"dir"`       // jsonl source directory
	Cache    bool   `yaml:"cache"`     // cache hub rows in the store
	MaxTrain int    `yaml:"max_train"` // subsample train split (0 = all)
	MaxTest  int    `yaml:"max_test"`  // subsample test split (0 = all)
}

// BackboneConfig selects the pretrained encoder.
type BackboneConfig struct {
	Name         string `yaml:"name"` // hub id, local directory or "scratch"
	ScratchVocab int    `yaml:"scratch_vocab"`
}

// TokenizerConfig controls training-time encoding.
type TokenizerConfig struct {
	MaxLength int    `yaml:"max_length"`
	Padding   string `yaml:"padding"` // max_length or longest
}

// SplitConfig controls the validation split.
type SplitConfig struct {
	ValidationFraction float64 `yaml:"validation_fraction"`
	Seed               uint64  `yaml:"seed"`
}

// ReportConfig controls the exploratory report.
type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Bins    int    `yaml:"bins"`
}

// ArtifactConfig controls where the fine-tuned model is saved.
type ArtifactConfig struct {
	Dir    string                `yaml:"dir"`
	Mirror artifact.MirrorConfig `yaml:"mirror"`
}

// InferenceConfig controls the post-training predictor.
type InferenceConfig struct {
	BatchSize int      `yaml:"batch_size"`
	Probes    []string `yaml:"probes"` // sentences predicted after reload
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Device: "auto",
		Dataset: DatasetConfig{
			Name:   "imdb",
			Source: "hub",
			Dir:    "./data/imdb",
			Cache:  true,
		},
		Backbone: BackboneConfig{
			Name:         "bert-base-uncased",
			ScratchVocab: 4000,
		},
		Tokenizer: TokenizerConfig{
			MaxLength: 128,
			Padding:   "max_length",
		},
		Split: SplitConfig{
			ValidationFraction: 0.1,
			Seed:               42,
		},
		Training: train.DefaultConfig(),
		Report: ReportConfig{
			Enabled: true,
			Dir:     "./report",
			Bins:    50,
		},
		Artifact: ArtifactConfig{
			Dir: "./sentiment-model",
		},
		Inference: InferenceConfig{
			BatchSize: 32,
			Probes: []string{
				"I absolutely loved this movie. It's fantastic!",
				"Worst film ever. Completely boring and pointless.",
			},
		},
		Hub: hub.Options{
			Token: "${HF_TOKEN}",
		},
		Store: StoreConfig{
			Path: "./data/reviewtune.db",
		},
		Logging: logging.Config{
			Level:       "info",
			Development: true,
		},
	}
}

// Load decodes the YAML file at path over Default, expands environment
// variables in secrets and validates the result. An empty path, or a path
// that does not exist, yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to open config file: %w", err)
		default:
			defer file.Close()
			decoder := yaml.NewDecoder(file)
			decoder.KnownFields(true)
			if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		}
	}
	cfg.ExpandEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} references in secret fields.
func (c *Config) ExpandEnv() {
	c.Hub.Token = os.ExpandEnv(c.Hub.Token)
	c.Artifact.Mirror.AccessKey = os.ExpandEnv(c.Artifact.Mirror.AccessKey)
	c.Artifact.Mirror.SecretKey = os.ExpandEnv(c.Artifact.Mirror.SecretKey)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Dataset.Source {
	case "hub", "jsonl":
	default:
		return fmt.Errorf("dataset.source must be hub or jsonl, got %q", c.Dataset.Source)
	}
	if c.Dataset.Name == "" {
		return fmt.Errorf("dataset.name is required")
	}
	if c.Backbone.Name == "" {
		return fmt.Errorf("backbone.name is required")
	}
	if c.Tokenizer.MaxLength < 2 {
		return fmt.Errorf("tokenizer.max_length must be >= 2, got %d", c.Tokenizer.MaxLength)
	}
	switch c.Tokenizer.Padding {
	case "max_length", "longest":
	default:
		return fmt.Errorf("tokenizer.padding must be max_length or longest, got %q", c.Tokenizer.Padding)
	}
	if f := c.Split.ValidationFraction; !(f > 0 && f < 1) {
		return fmt.Errorf("split.validation_fraction must be in (0, 1), got %v", f)
	}
	if c.Artifact.Dir == "" {
		return fmt.Errorf("artifact.dir is required")
	}
	if c.Artifact.Mirror.Enabled() && c.Artifact.Mirror.Bucket == "" {
		return fmt.Errorf("artifact.mirror.bucket is required when an endpoint is set")
	}
	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	return nil
}
