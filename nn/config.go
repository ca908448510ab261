package nn

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config defines the encoder architecture. JSON tags follow the
// config.json layout of BERT checkpoints so pretrained configs load as-is.
type Config struct {
	ModelType                 string   `json:"model_type"`
	Architectures             []string `json:"architectures,omitempty"`
	VocabSize                 int      `json:"vocab_size"`
	HiddenSize                int      `json:"hidden_size"`
	NumHiddenLayers           int      `json:"num_hidden_layers"`
	NumAttentionHeads         int      `json:"num_attention_heads"`
	IntermediateSize          int      `json:"intermediate_size"`
	HiddenAct                 string   `json:"hidden_act"`
	HiddenDropoutProb         float64  `json:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float64  `json:"attention_probs_dropout_prob"`
	MaxPositionEmbeddings     int      `json:"max_position_embeddings"`
	TypeVocabSize             int      `json:"type_vocab_size"`
	InitializerRange          float64  `json:"initializer_range"`
	LayerNormEps              float64  `json:"layer_norm_eps"`
	PadTokenID                int      `json:"pad_token_id"`

	// Classification head metadata, written when a classifier is saved.
	ID2Label map[string]string `json:"id2label,omitempty"`
	Label2ID map[string]int    `json:"label2id,omitempty"`
}

// BaseUncased returns the bert-base-uncased architecture (~110M parameters).
func BaseUncased() Config {
	return Config{
		ModelType:                 "bert",
		VocabSize:                 30522,
		HiddenSize:                768,
		NumHiddenLayers:           12,
		NumAttentionHeads:         12,
		IntermediateSize:          3072,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     512,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
	}
}

// Tiny returns a small encoder for offline runs and tests.
func Tiny(vocabSize int) Config {
	return Config{
		ModelType:                 "bert",
		VocabSize:                 vocabSize,
		HiddenSize:                32,
		NumHiddenLayers:           2,
		NumAttentionHeads:         2,
		IntermediateSize:          64,
		HiddenAct:                 "gelu",
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		MaxPositionEmbeddings:     128,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
	}
}

// HeadDim is the per-head attention width.
func (c Config) HeadDim() int { return c.HiddenSize / c.NumAttentionHeads }

// Validate checks that the architecture can be built.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("config: vocab_size must be positive, got %d", c.VocabSize)
	case c.HiddenSize <= 0 || c.NumHiddenLayers <= 0 || c.IntermediateSize <= 0:
		return fmt.Errorf("config: hidden_size, num_hidden_layers and intermediate_size must be positive")
	case c.NumAttentionHeads <= 0 || c.HiddenSize%c.NumAttentionHeads != 0:
		return fmt.Errorf("config: hidden_size %d not divisible by num_attention_heads %d", c.HiddenSize, c.NumAttentionHeads)
	case c.MaxPositionEmbeddings <= 0 || c.TypeVocabSize <= 0:
		return fmt.Errorf("config: max_position_embeddings and type_vocab_size must be positive")
	case c.HiddenAct != "gelu":
		return fmt.Errorf("config: unsupported hidden_act %q", c.HiddenAct)
	case c.HiddenDropoutProb < 0 || c.HiddenDropoutProb >= 1:
		return fmt.Errorf("config: hidden_dropout_prob %v outside [0, 1)", c.HiddenDropoutProb)
	case c.AttentionProbsDropoutProb < 0 || c.AttentionProbsDropoutProb >= 1:
		return fmt.Errorf("config: attention_probs_dropout_prob %v outside [0, 1)", c.AttentionProbsDropoutProb)
	case c.LayerNormEps <= 0:
		return fmt.Errorf("config: layer_norm_eps must be positive")
	}
	return nil
}

// LoadConfig reads a config.json file. Fields absent from the file keep
// the BaseUncased values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := BaseUncased()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.InitializerRange == 0 {
		cfg.InitializerRange = 0.02
	}
	return cfg, cfg.Validate()
}
