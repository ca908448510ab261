// Package pipeline runs the sentiment fine-tuning workflow end to end:
// load, report, tokenize, split, train, evaluate, save and reload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/labels"
	"github.com/djeday123/reviewtune/pkg/artifact"
	"github.com/djeday123/reviewtune/pkg/backbone"
	"github.com/djeday123/reviewtune/pkg/config"
	"github.com/djeday123/reviewtune/pkg/dataset"
	"github.com/djeday123/reviewtune/pkg/evaluate"
	"github.com/djeday123/reviewtune/pkg/hub"
	"github.com/djeday123/reviewtune/pkg/inference"
	"github.com/djeday123/reviewtune/pkg/report"
	"github.com/djeday123/reviewtune/pkg/store"
	"github.com/djeday123/reviewtune/split"
	"github.com/djeday123/reviewtune/tokenizer"
	"github.com/djeday123/reviewtune/train"
)

// Pipeline owns the shared resources of a run: the SQLite store and the
// Hub client.
type Pipeline struct {
	cfg   *config.Config
	log   *zap.Logger
	store *store.Store
	hub   *hub.Client

	// Loader overrides the dataset source chosen from the configuration.
	Loader dataset.Loader
}

// Summary is everything a training run produced.
type Summary struct {
	RunID       string                 `json:"run_id"`
	Device      string                 `json:"device"`
	Report      *report.Summary        `json:"report,omitempty"`
	Training    *train.Result          `json:"training"`
	Holdout     evaluate.Report        `json:"holdout"`
	ArtifactDir string                 `json:"artifact_dir"`
	Mirrored    int                    `json:"mirrored_files,omitempty"`
	Probes      []inference.Prediction `json:"probes,omitempty"`
}

// New opens the store and builds the Hub client.
func New(cfg *config.Config, log *zap.Logger) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Pipeline{
		cfg:   cfg,
		log:   log,
		store: st,
		hub:   hub.New(cfg.Hub, log),
	}, nil
}

// Close releases the store.
func (p *Pipeline) Close() error { return p.store.Close() }

// Store exposes the run ledger.
func (p *Pipeline) Store() *store.Store { return p.store }

func (p *Pipeline) loader() dataset.Loader {
	if p.Loader != nil {
		return p.Loader
	}
	if p.cfg.Dataset.Source == "jsonl" {
		return dataset.JSONLLoader{Dir: p.cfg.Dataset.Dir}
	}
	next := dataset.NewHubLoader(p.hub, p.log)
	if !p.cfg.Dataset.Cache {
		return next
	}
	return &dataset.CachedLoader{Store: p.store, Next: next, Log: p.log}
}

// LoadDataset loads the configured dataset and applies subsampling.
func (p *Pipeline) LoadDataset(ctx context.Context) (*dataset.Splits, error) {
	d := p.cfg.Dataset
	splits, err := p.loader().Load(ctx, d.Name)
	if err != nil {
		return nil, err
	}
	seed := p.cfg.Split.Seed
	splits.Train = dataset.Subsample(splits.Train, d.MaxTrain, seed)
	splits.Test = dataset.Subsample(splits.Test, d.MaxTest, seed)
	p.log.Info("dataset ready",
		zap.String("dataset", d.Name),
		zap.Int("train", len(splits.Train)),
		zap.Int("test", len(splits.Test)))
	return splits, nil
}

// Report loads the dataset and writes the exploratory report only.
func (p *Pipeline) Report(ctx context.Context) (report.Summary, error) {
	splits, err := p.LoadDataset(ctx)
	if err != nil {
		return report.Summary{}, err
	}
	r := &report.Reporter{Dir: p.cfg.Report.Dir, Bins: p.cfg.Report.Bins, Log: p.log}
	return r.Run(ctx, splits.Train)
}

// Train runs the whole workflow and records it in the run ledger.
func (p *Pipeline) Train(ctx context.Context) (sum *Summary, err error) {
	cfg := p.cfg
	device, err := backend.Resolve(cfg.Device)
	if err != nil {
		return nil, err
	}

	sum = &Summary{RunID: uuid.NewString(), Device: device.String()}
	log := p.log.With(zap.String("run_id", sum.RunID))
	err = p.store.StartRun(ctx, store.Run{
		ID:       sum.RunID,
		Dataset:  cfg.Dataset.Name,
		Backbone: cfg.Backbone.Name,
		Config:   redacted(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	defer func() {
		if ferr := p.store.FinishRun(context.WithoutCancel(ctx), sum.RunID, err); ferr != nil {
			log.Error("failed to finish run", zap.Error(ferr))
		}
		if err != nil {
			log.Error("run failed", zap.Error(err))
		}
	}()

	splits, err := p.LoadDataset(ctx)
	if err != nil {
		return sum, err
	}

	if cfg.Report.Enabled {
		r := &report.Reporter{Dir: cfg.Report.Dir, Bins: cfg.Report.Bins, Log: log}
		rs, rerr := r.Run(ctx, splits.Train)
		if rerr != nil {
			log.Error("report skipped", zap.Error(rerr))
		} else {
			sum.Report = &rs
		}
	}

	model, tok, err := backbone.Load(ctx, backbone.Options{
		Name:         cfg.Backbone.Name,
		Labels:       labels.Sentiment(),
		Device:       device,
		Seed:         cfg.Training.Seed,
		ScratchVocab: cfg.Backbone.ScratchVocab,
		Corpus:       dataset.Texts(splits.Train),
		Hub:          p.hub,
		Log:          log,
	})
	if err != nil {
		return sum, err
	}

	opts, err := p.encodeOptions()
	if err != nil {
		return sum, err
	}
	var trainEx, testEx []train.Example
	var g errgroup.Group
	g.Go(func() (err error) {
		trainEx, err = encode(tok, splits.Train, opts)
		return err
	})
	g.Go(func() (err error) {
		testEx, err = encode(tok, splits.Test, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return sum, err
	}

	fit, val, err := split.TrainValidation(trainEx, cfg.Split.ValidationFraction, cfg.Split.Seed)
	if err != nil {
		return sum, err
	}
	log.Info("split", zap.Int("train", len(fit)), zap.Int("validation", len(val)), zap.Int("test", len(testEx)))

	trainer, err := train.NewTrainer(model, cfg.Training, artifact.Checkpointer{Tokenizer: tok}, log)
	if err != nil {
		return sum, err
	}
	sum.Training, err = trainer.Train(ctx, fit, val)
	if err != nil {
		return sum, err
	}
	for _, e := range sum.Training.Epochs {
		err := p.store.RecordEpoch(ctx, store.Epoch{
			RunID:      sum.RunID,
			Epoch:      e.Epoch,
			GlobalStep: e.GlobalStep,
			TrainLoss:  e.TrainLoss,
			EvalLoss:   e.EvalLoss,
			Accuracy:   e.Scores.Accuracy,
			F1:         e.Scores.F1,
			Checkpoint: e.Checkpoint,
		})
		if err != nil {
			return sum, fmt.Errorf("record epoch %d: %w", e.Epoch, err)
		}
	}

	holdout, err := evaluate.NewHoldout(splits.Test, testEx, cfg.Training.EvalBatchSize)
	if err != nil {
		return sum, err
	}
	holdout.Ledger, holdout.RunID, holdout.Log = p.store, sum.RunID, log
	if sum.Holdout, err = holdout.Evaluate(ctx, model); err != nil {
		return sum, err
	}
	log.Info("test evaluation", zap.Stringer("scores", sum.Holdout.Scores), zap.Float64("loss", sum.Holdout.Loss))

	if err := artifact.Save(cfg.Artifact.Dir, model, tok); err != nil {
		return sum, err
	}
	sum.ArtifactDir = cfg.Artifact.Dir

	if cfg.Artifact.Mirror.Enabled() {
		m, err := artifact.NewMirror(cfg.Artifact.Mirror, log)
		if err != nil {
			return sum, err
		}
		if sum.Mirrored, err = m.Upload(ctx, cfg.Artifact.Dir, sum.RunID); err != nil {
			return sum, err
		}
	}

	pred, err := inference.Load(cfg.Artifact.Dir, inference.Options{
		Device:    device,
		MaxLength: cfg.Tokenizer.MaxLength,
		BatchSize: cfg.Inference.BatchSize,
		Log:       log,
	})
	if err != nil {
		return sum, err
	}
	if len(cfg.Inference.Probes) > 0 {
		if sum.Probes, err = pred.Predict(cfg.Inference.Probes); err != nil {
			return sum, err
		}
		for _, pr := range sum.Probes {
			log.Info("probe", zap.String("text", pr.Text), zap.String("label", pr.Label), zap.Float64("score", pr.Score))
		}
	}
	return sum, nil
}

func (p *Pipeline) encodeOptions() (tokenizer.EncodeOptions, error) {
	pad, err := tokenizer.ParsePadding(p.cfg.Tokenizer.Padding)
	if err != nil {
		return tokenizer.EncodeOptions{}, err
	}
	return tokenizer.EncodeOptions{
		MaxLength:  p.cfg.Tokenizer.MaxLength,
		Padding:    pad,
		Truncation: true,
	}, nil
}

func encode(tok *tokenizer.WordPiece, reviews []dataset.Review, opts tokenizer.EncodeOptions) ([]train.Example, error) {
	encs, err := tok.EncodeBatch(dataset.Texts(reviews), opts)
	if err != nil {
		return nil, err
	}
	out := make([]train.Example, len(encs))
	for i, e := range encs {
		out[i] = train.Example{Encoding: e, Label: int(reviews[i].Label)}
	}
	return out, nil
}

// redacted renders cfg for the ledger without secrets.
func redacted(cfg *config.Config) string {
	c := *cfg
	c.Hub.Token = mask(c.Hub.Token)
	c.Artifact.Mirror.AccessKey = mask(c.Artifact.Mirror.AccessKey)
	c.Artifact.Mirror.SecretKey = mask(c.Artifact.Mirror.SecretKey)
	b, err := yaml.Marshal(&c)
	if err != nil {
		return ""
	}
	return string(b)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 8)
}

// IsDatasetUnavailable reports whether err came from the dataset stage.
func IsDatasetUnavailable(err error) bool {
	var de *dataset.DatasetUnavailableError
	return errors.As(err, &de)
}
