// Package artifact persists a fine-tuned classifier with its tokenizer as
// a Hugging Face style model directory.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/labels"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/tensor"
	"github.com/djeday123/reviewtune/tokenizer"
)

// Files of an artifact directory besides the tokenizer files.
const (
	WeightsFile = "model.safetensors"
	ConfigFile  = "config.json"
)

// PersistenceError reports a failed save or load.
type PersistenceError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s artifact %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Save writes model and tok into dir. Files are written to a sibling
// staging directory first and renamed into place, so dir only ever holds
// a complete artifact.
func Save(dir string, model *nn.SequenceClassifier, tok *tokenizer.WordPiece) error {
	dir = filepath.Clean(dir)
	parent, base := filepath.Split(dir)
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return &PersistenceError{Op: "save", Path: dir, Err: err}
	}

	staging := filepath.Join(parent, "."+base+".staging-"+uuid.NewString())
	if err := writeDir(staging, model, tok); err != nil {
		os.RemoveAll(staging)
		return &PersistenceError{Op: "save", Path: dir, Err: err}
	}

	var old string
	if _, err := os.Stat(dir); err == nil {
		old = filepath.Join(parent, "."+base+".old-"+uuid.NewString())
		if err := os.Rename(dir, old); err != nil {
			os.RemoveAll(staging)
			return &PersistenceError{Op: "save", Path: dir, Err: err}
		}
	}
	if err := os.Rename(staging, dir); err != nil {
		if old != "" {
			os.Rename(old, dir)
		}
		os.RemoveAll(staging)
		return &PersistenceError{Op: "save", Path: dir, Err: err}
	}
	if old != "" {
		os.RemoveAll(old)
	}
	return nil
}

func writeDir(dir string, model *nn.SequenceClassifier, tok *tokenizer.WordPiece) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeModel(dir, model); err != nil {
		return err
	}
	if tok != nil {
		if err := tok.Save(dir); err != nil {
			return fmt.Errorf("tokenizer: %w", err)
		}
	}
	return nil
}

func writeModel(dir string, model *nn.SequenceClassifier) error {
	cfg := model.Config
	cfg.ID2Label = model.Labels.ID2Label()
	cfg.Label2ID = model.Labels.Label2ID()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o644); err != nil {
		return err
	}

	weights := make(map[string]*tensor.Tensor)
	for _, p := range model.NamedParameters() {
		weights[p.Name] = p.Tensor
	}
	if err := WriteSafetensors(filepath.Join(dir, WeightsFile), weights, map[string]string{"format": "pt"}); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	return nil
}

// Load reconstructs the classifier (in eval mode) and tokenizer saved in
// dir. Every model parameter must be present with its saved shape and no
// unknown tensor may appear.
func Load(dir string, device backend.Device) (*nn.SequenceClassifier, *tokenizer.WordPiece, error) {
	fail := func(err error) (*nn.SequenceClassifier, *tokenizer.WordPiece, error) {
		return nil, nil, &PersistenceError{Op: "load", Path: dir, Err: err}
	}

	cfg, err := nn.LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return fail(fmt.Errorf("config: %w", err))
	}
	lm, err := labels.FromConfig(cfg.ID2Label)
	if err != nil {
		return fail(fmt.Errorf("config labels: %w", err))
	}
	model, err := nn.NewSequenceClassifier(cfg, lm, device, 0)
	if err != nil {
		return fail(err)
	}
	if _, err := loadWeights(dir, model, true); err != nil {
		return fail(err)
	}
	model.Eval()

	tok, err := tokenizer.LoadWordPiece(dir)
	if err != nil {
		return fail(fmt.Errorf("tokenizer: %w", err))
	}
	if tok.VocabSize() != cfg.VocabSize {
		return fail(fmt.Errorf("tokenizer has %d tokens, model vocab_size is %d", tok.VocabSize(), cfg.VocabSize))
	}
	return model, tok, nil
}

// LoadPretrained builds a fresh classifier for lm on top of the encoder
// weights in dir. Head weights missing from the checkpoint stay randomly
// initialised (from seed) and tensors the classifier has no use for, such
// as pre-training heads, are skipped. The model is returned in training mode.
func LoadPretrained(dir string, lm labels.Map, device backend.Device, seed uint64) (*nn.SequenceClassifier, nn.LoadReport, error) {
	cfg, err := nn.LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, nn.LoadReport{}, &PersistenceError{Op: "load", Path: dir, Err: fmt.Errorf("config: %w", err)}
	}
	cfg.ID2Label, cfg.Label2ID = nil, nil
	model, err := nn.NewSequenceClassifier(cfg, lm, device, seed)
	if err != nil {
		return nil, nn.LoadReport{}, &PersistenceError{Op: "load", Path: dir, Err: err}
	}
	rep, err := loadWeights(dir, model, false)
	if err != nil {
		return nil, rep, &PersistenceError{Op: "load", Path: dir, Err: err}
	}
	return model, rep, nil
}

func loadWeights(dir string, model *nn.SequenceClassifier, strict bool) (nn.LoadReport, error) {
	path := filepath.Join(dir, WeightsFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nn.LoadReport{}, fmt.Errorf("%s missing", WeightsFile)
	}
	weights, _, err := ReadSafetensors(path, model.Device())
	if err != nil {
		return nn.LoadReport{}, err
	}
	return model.LoadWeights(weights, strict)
}
