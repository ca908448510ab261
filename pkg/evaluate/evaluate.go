// Package evaluate scores a classifier on labelled data and guards the
// held-out test partition against repeated use.
package evaluate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/djeday123/reviewtune/metrics"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/pkg/dataset"
	"github.com/djeday123/reviewtune/pkg/store"
	"github.com/djeday123/reviewtune/train"
)

// ErrHoldoutConsumed is returned when a Holdout is evaluated twice.
var ErrHoldoutConsumed = errors.New("holdout set already evaluated")

// Report is the outcome of an evaluation.
type Report struct {
	Examples         int               `json:"examples"`
	Loss             float64           `json:"loss"`
	Scores           metrics.Scores    `json:"scores"`
	Confusion        metrics.Confusion `json:"confusion"`
	Fingerprint      string            `json:"fingerprint,omitempty"`
	PriorEvaluations int               `json:"prior_evaluations,omitempty"`
}

// Run scores model on batches by arg-max over its logits. Weights are not
// modified and the model's mode is restored afterwards.
func Run(model *nn.SequenceClassifier, batches *train.Batches) (Report, error) {
	res, err := train.Evaluate(model, batches)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Examples:  len(res.Labels),
		Loss:      res.Loss,
		Scores:    res.Scores,
		Confusion: res.Confusion,
	}, nil
}

// Fingerprint is a SHA-256 over every review's text and label, in order.
func Fingerprint(reviews []dataset.Review) string {
	h := sha256.New()
	var buf [8]byte
	for _, r := range reviews {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(r.Text)))
		h.Write(buf[:])
		h.Write([]byte(r.Text))
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Label))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Ledger records holdout evaluations across runs. *store.Store implements it.
type Ledger interface {
	HoldoutEvaluations(ctx context.Context, fingerprint string) ([]store.HoldoutEval, error)
	RecordHoldout(ctx context.Context, h store.HoldoutEval) error
}

// Holdout wraps the test partition. It can be evaluated successfully once.
type Holdout struct {
	examples    []train.Example
	fingerprint string
	batchSize   int
	consumed    bool

	Ledger Ledger // optional
	RunID  string
	Log    *zap.Logger
}

// NewHoldout wraps encoded test examples; reviews are the raw rows they
// were encoded from and only feed the fingerprint.
func NewHoldout(reviews []dataset.Review, examples []train.Example, batchSize int) (*Holdout, error) {
	if len(reviews) != len(examples) {
		return nil, fmt.Errorf("holdout: %d reviews for %d examples", len(reviews), len(examples))
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("holdout: empty test set")
	}
	return &Holdout{
		examples:    examples,
		fingerprint: Fingerprint(reviews),
		batchSize:   batchSize,
	}, nil
}

// Fingerprint returns the holdout's content hash.
func (h *Holdout) Fingerprint() string { return h.fingerprint }

// Consumed reports whether Evaluate already succeeded.
func (h *Holdout) Consumed() bool { return h.consumed }

// Evaluate scores model on the holdout. Earlier evaluations of the same
// data, by this or previous runs, are looked up in the ledger and reported
// as a warning.
func (h *Holdout) Evaluate(ctx context.Context, model *nn.SequenceClassifier) (Report, error) {
	if h.consumed {
		return Report{}, ErrHoldoutConsumed
	}
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	var prior int
	if h.Ledger != nil {
		evals, err := h.Ledger.HoldoutEvaluations(ctx, h.fingerprint)
		if err != nil {
			return Report{}, fmt.Errorf("holdout ledger: %w", err)
		}
		prior = len(evals)
		if prior > 0 {
			log.Warn("test set evaluated before; scores are no longer an unbiased estimate",
				zap.String("fingerprint", h.fingerprint[:12]),
				zap.Int("prior_evaluations", prior),
				zap.String("first_run", evals[0].RunID))
		}
	}

	batches, err := train.NewBatches(h.examples, h.batchSize, nil)
	if err != nil {
		return Report{}, err
	}
	rep, err := Run(model, batches)
	if err != nil {
		return Report{}, err
	}
	rep.Fingerprint = h.fingerprint
	rep.PriorEvaluations = prior
	h.consumed = true

	if h.Ledger != nil {
		err := h.Ledger.RecordHoldout(ctx, store.HoldoutEval{
			RunID:       h.RunID,
			Fingerprint: h.fingerprint,
			Examples:    rep.Examples,
			Accuracy:    rep.Scores.Accuracy,
			Precision:   rep.Scores.Precision,
			Recall:      rep.Scores.Recall,
			F1:          rep.Scores.F1,
		})
		if err != nil {
			return rep, fmt.Errorf("record holdout evaluation: %w", err)
		}
	}
	log.Info("test evaluation",
		zap.Int("examples", rep.Examples),
		zap.Float64("loss", rep.Loss),
		zap.Float64("accuracy", rep.Scores.Accuracy),
		zap.Float64("f1", rep.Scores.F1))
	return rep, nil
}
