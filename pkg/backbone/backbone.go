// Package backbone resolves the encoder a classifier is fine-tuned from:
// a Hub model id, a local model directory, or a small encoder built from
// scratch for offline runs.
package backbone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/labels"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/pkg/artifact"
	"github.com/djeday123/reviewtune/pkg/hub"
	"github.com/djeday123/reviewtune/tokenizer"
)

// Scratch selects a randomly initialised encoder with a corpus-trained
// vocabulary.
const Scratch = "scratch"

// DefaultScratchVocab is the vocabulary size of scratch backbones.
const DefaultScratchVocab = 4000

// Files fetched for a Hub backbone; tokenizer_config.json is optional.
var (
	RequiredFiles = []string{artifact.ConfigFile, tokenizer.VocabFile, artifact.WeightsFile}
	OptionalFiles = []string{tokenizer.ConfigFile}
)

// Downloader fetches model files. *hub.Client implements it.
type Downloader interface {
	Snapshot(ctx context.Context, repo string, files ...string) (string, error)
}

// Options configures Load.
type Options struct {
	Name         string
	Labels       labels.Map
	Device       backend.Device
	Seed         uint64
	ScratchVocab int      // scratch only
	Corpus       []string // scratch only: texts the vocabulary is trained on
	Hub          Downloader
	Log          *zap.Logger
}

// Load returns a classifier with a fresh head for opts.Labels, in training
// mode, and the tokenizer that matches its vocabulary.
func Load(ctx context.Context, opts Options) (*nn.SequenceClassifier, *tokenizer.WordPiece, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Labels.Len() == 0 {
		opts.Labels = labels.Sentiment()
	}

	if opts.Name == Scratch {
		return scratch(opts, log)
	}

	dir := opts.Name
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		if opts.Hub == nil {
			return nil, nil, fmt.Errorf("backbone %q is not a local directory and no hub client is configured", opts.Name)
		}
		if dir, err = opts.Hub.Snapshot(ctx, opts.Name, RequiredFiles...); err != nil {
			return nil, nil, fmt.Errorf("fetch backbone %s: %w", opts.Name, err)
		}
		for _, f := range OptionalFiles {
			_, err := opts.Hub.Snapshot(ctx, opts.Name, f)
			var he *hub.HTTPError
			if err != nil && !(errors.As(err, &he) && he.StatusCode == http.StatusNotFound) {
				return nil, nil, fmt.Errorf("fetch backbone %s: %w", opts.Name, err)
			}
		}
	}

	model, rep, err := artifact.LoadPretrained(dir, opts.Labels, opts.Device, opts.Seed)
	if err != nil {
		return nil, nil, err
	}
	tok, err := tokenizer.LoadWordPiece(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("backbone tokenizer: %w", err)
	}
	if tok.VocabSize() != model.Config.VocabSize {
		return nil, nil, fmt.Errorf("backbone %s: vocab.txt has %d tokens, config vocab_size is %d", opts.Name, tok.VocabSize(), model.Config.VocabSize)
	}
	log.Info("backbone loaded",
		zap.String("name", opts.Name),
		zap.Int("loaded", len(rep.Loaded)),
		zap.Strings("newly_initialized", rep.Missing),
		zap.Int("unused", len(rep.Unexpected)),
		zap.Int("parameters", model.CountParameters()))
	return model, tok, nil
}

func scratch(opts Options, log *zap.Logger) (*nn.SequenceClassifier, *tokenizer.WordPiece, error) {
	if len(opts.Corpus) == 0 {
		return nil, nil, fmt.Errorf("scratch backbone needs a corpus to train its vocabulary")
	}
	size := opts.ScratchVocab
	if size <= 0 {
		size = DefaultScratchVocab
	}
	tok, err := tokenizer.TrainVocab(opts.Corpus, size, true)
	if err != nil {
		return nil, nil, err
	}
	model, err := nn.NewSequenceClassifier(nn.Tiny(tok.VocabSize()), opts.Labels, opts.Device, opts.Seed)
	if err != nil {
		return nil, nil, err
	}
	log.Info("scratch backbone",
		zap.Int("vocab", tok.VocabSize()),
		zap.Int("parameters", model.CountParameters()))
	return model, tok, nil
}
