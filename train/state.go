package train

import (
	"fmt"

	"github.com/djeday123/reviewtune/metrics"
)

// Phase is a step of the training state machine.
type Phase int

const (
	Initialized Phase = iota
	Training
	Evaluating
	Checkpointed
	Finished
	Failed
)

func (p Phase) String() string {
	switch p {
	case Initialized:
		return "initialized"
	case Training:
		return "training"
	case Evaluating:
		return "evaluating"
	case Checkpointed:
		return "checkpointed"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is the trainer's position: a phase and, while running, the epoch.
type State struct {
	Phase Phase
	Epoch int
}

func (s State) String() string {
	switch s.Phase {
	case Training, Evaluating, Checkpointed:
		return fmt.Sprintf("%s(epoch %d)", s.Phase, s.Epoch)
	}
	return s.Phase.String()
}

// EpochResult summarises one completed epoch.
type EpochResult struct {
	Epoch      int            `json:"epoch"`
	GlobalStep int            `json:"global_step"`
	TrainLoss  float64        `json:"train_loss"`
	EvalLoss   float64        `json:"eval_loss"`
	Scores     metrics.Scores `json:"scores"`
	Checkpoint string         `json:"checkpoint,omitempty"`
}

// Metric returns the named validation metric.
func (r EpochResult) Metric(name string) (float64, error) {
	switch name {
	case MetricF1:
		return r.Scores.F1, nil
	case MetricAccuracy:
		return r.Scores.Accuracy, nil
	case MetricLoss:
		return r.EvalLoss, nil
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}

// Best is the fold over epoch results that decides which checkpoint is
// retained. The zero value for a metric has seen nothing yet.
type Best struct {
	Metric string      `json:"metric"`
	Score  float64     `json:"score"`
	Result EpochResult `json:"result"`
	Seen   bool        `json:"seen"`
}

// NewBest starts a fold ranking epochs by metric.
func NewBest(metric string) Best { return Best{Metric: metric} }

// Observe folds r into b. The first result is always retained; later ones
// only when strictly better (lower for loss, higher otherwise).
func (b Best) Observe(r EpochResult) (Best, bool, error) {
	score, err := r.Metric(b.Metric)
	if err != nil {
		return b, false, err
	}
	if b.Seen && !b.better(score) {
		return b, false, nil
	}
	return Best{Metric: b.Metric, Score: score, Result: r, Seen: true}, true, nil
}

func (b Best) better(score float64) bool {
	if b.Metric == MetricLoss {
		return score < b.Score
	}
	return score > b.Score
}

// Epoch returns the retained epoch, or 0 before any observation.
func (b Best) Epoch() int {
	if !b.Seen {
		return 0
	}
	return b.Result.Epoch
}

// Result is what Train returns.
type Result struct {
	Epochs     []EpochResult
	Best       Best
	GlobalStep int
}

// TrainingDivergenceError reports a non-finite loss or gradient norm, or a
// panic inside a training step.
type TrainingDivergenceError struct {
	Epoch int
	Step  int
	Loss  float64
	Err   error
}

func (e *TrainingDivergenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("training diverged at epoch %d step %d (loss %v): %v", e.Epoch, e.Step, e.Loss, e.Err)
	}
	return fmt.Sprintf("training diverged at epoch %d step %d (loss %v)", e.Epoch, e.Step, e.Loss)
}

func (e *TrainingDivergenceError) Unwrap() error { return e.Err }
