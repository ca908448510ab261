// Package inference serves sentiment predictions from a saved artifact.
package inference

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/pkg/artifact"
	"github.com/djeday123/reviewtune/tokenizer"
)

// Options configures a Predictor.
type Options struct {
	Device    backend.Device
	MaxLength int // truncation length, default 128
	BatchSize int // texts per forward pass, default 32
	Log       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = 128
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return o
}

// Prediction is the label assigned to one input text.
type Prediction struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float64 `json:"score"` // softmax probability of Label
}

// InputError reports an input that is neither a string nor a []string.
type InputError struct {
	Got any
}

func (e *InputError) Error() string {
	return fmt.Sprintf("inference input must be string or []string, got %T", e.Got)
}

// Predictor owns a classifier and tokenizer loaded for inference only.
type Predictor struct {
	model *nn.SequenceClassifier
	tok   *tokenizer.WordPiece
	opts  Options
}

// Load reads the artifact in dir.
func Load(dir string, opts Options) (*Predictor, error) {
	model, tok, err := artifact.Load(dir, opts.Device)
	if err != nil {
		return nil, err
	}
	p := New(model, tok, opts)
	p.opts.Log.Info("predictor loaded", zap.String("dir", dir), zap.Stringer("labels", model.Labels))
	return p, nil
}

// New wraps an already loaded model. The model is switched to eval mode
// and must not be trained further while the Predictor is in use.
func New(model *nn.SequenceClassifier, tok *tokenizer.WordPiece, opts Options) *Predictor {
	model.Eval()
	return &Predictor{model: model, tok: tok, opts: opts.withDefaults()}
}

// Predict labels texts, keeping input order. An empty input yields an
// empty result.
func (p *Predictor) Predict(texts []string) ([]Prediction, error) {
	out := make([]Prediction, 0, len(texts))
	encOpts := tokenizer.EncodeOptions{MaxLength: p.opts.MaxLength, Padding: tokenizer.PadLongest, Truncation: true}

	for lo := 0; lo < len(texts); lo += p.opts.BatchSize {
		chunk := texts[lo:min(lo+p.opts.BatchSize, len(texts))]
		encs, err := p.tok.EncodeBatch(chunk, encOpts)
		if err != nil {
			var te *tokenizer.TokenizationError
			if errors.As(err, &te) {
				te.Index += lo
			}
			return nil, err
		}
		ids, mask, err := tokenizer.BatchTensors(encs)
		if err != nil {
			return nil, err
		}
		logits, err := p.model.Forward(ids, mask)
		if err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}

		probs, err := ops.Softmax(logits, -1)
		if err != nil {
			return nil, err
		}
		p32, width := probs.ToFloat32Slice(), probs.Shape().Last()
		for i, cls := range ops.ArgMax(logits) {
			name, err := p.model.Labels.Name(cls)
			if err != nil {
				return nil, err
			}
			out = append(out, Prediction{Text: chunk[i], Label: name, Score: float64(p32[i*width+cls])})
		}
	}
	return out, nil
}

// PredictText labels a single text; it equals Predict([]string{text}).
func (p *Predictor) PredictText(text string) ([]Prediction, error) {
	return p.Predict([]string{text})
}

// PredictAny accepts a string or a []string.
func (p *Predictor) PredictAny(input any) ([]Prediction, error) {
	switch v := input.(type) {
	case string:
		return p.PredictText(v)
	case []string:
		return p.Predict(v)
	default:
		return nil, &InputError{Got: input}
	}
}
