package train

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/nn"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/optim"
)

// StateFile is written into every checkpoint directory.
const StateFile = "trainer_state.json"

// CheckpointWriter persists the classifier into a checkpoint directory.
type CheckpointWriter interface {
	WriteCheckpoint(dir string, model *nn.SequenceClassifier) error
}

// Trainer fine-tunes a SequenceClassifier. It owns the classifier's
// weights for the duration of Train.
type Trainer struct {
	Model  *nn.SequenceClassifier
	Config Config

	ckpt  CheckpointWriter
	log   *zap.Logger
	opt   *optim.AdamW
	sched optim.Schedule

	state      State
	globalStep int
	history    []logEntry
}

type logEntry struct {
	Epoch        float64  `json:"epoch"`
	Step         int      `json:"step"`
	Loss         *float64 `json:"loss,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
	EvalLoss     *float64 `json:"eval_loss,omitempty"`
	EvalAccuracy *float64 `json:"eval_accuracy,omitempty"`
	EvalF1       *float64 `json:"eval_f1,omitempty"`
}

type trainerState struct {
	Epoch               int        `json:"epoch"`
	GlobalStep          int        `json:"global_step"`
	MaxSteps            int        `json:"max_steps"`
	BestMetric          *float64   `json:"best_metric"`
	BestModelCheckpoint string     `json:"best_model_checkpoint,omitempty"`
	LogHistory          []logEntry `json:"log_history"`
	Args                Config     `json:"args"`
}

// NewTrainer validates cfg and prepares a trainer. ckpt may be nil only
// when checkpoints are disabled; log may be nil.
func NewTrainer(model *nn.SequenceClassifier, cfg Config, ckpt CheckpointWriter, log *zap.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("training config: %w", err)
	}
	if cfg.SaveStrategy == StrategyEpoch && ckpt == nil {
		return nil, fmt.Errorf("save_strategy %q needs a checkpoint writer", cfg.SaveStrategy)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Trainer{Model: model, Config: cfg, ckpt: ckpt, log: log}, nil
}

// State returns the current state.
func (t *Trainer) State() State { return t.state }

// GlobalStep returns the number of optimizer steps taken.
func (t *Trainer) GlobalStep() int { return t.globalStep }

func (t *Trainer) setState(p Phase, epoch int) {
	t.state = State{Phase: p, Epoch: epoch}
	t.log.Info("trainer state", zap.Stringer("state", t.state))
}

// Train runs NumTrainEpochs passes over fit, evaluating on val and
// checkpointing after each epoch as configured. The context is consulted
// between epochs only.
func (t *Trainer) Train(ctx context.Context, fit, val []Example) (*Result, error) {
	cfg := t.Config
	if t.state.Phase != Initialized {
		return nil, fmt.Errorf("trainer already used (state %s)", t.state)
	}
	if len(fit) == 0 {
		return nil, fmt.Errorf("empty training set")
	}
	if cfg.EvaluationStrategy == StrategyEpoch && len(val) == 0 {
		return nil, fmt.Errorf("empty validation set")
	}

	stepsPerEpoch := (len(fit) + cfg.TrainBatchSize - 1) / cfg.TrainBatchSize
	maxSteps := stepsPerEpoch * cfg.NumTrainEpochs
	sched, err := optim.NewSchedule(cfg.LRSchedulerType, cfg.LearningRate, cfg.WarmupSteps, maxSteps)
	if err != nil {
		return nil, err
	}
	opts := optim.DefaultOptions(cfg.LearningRate)
	opts.WeightDecay = cfg.WeightDecay
	opts.MaxGradNorm = cfg.MaxGradNorm
	t.opt = optim.NewAdamW(t.Model.NamedParameters(), opts)
	t.sched = sched

	t.log.Info("training started",
		zap.Int("examples", len(fit)),
		zap.Int("validation", len(val)),
		zap.Int("epochs", cfg.NumTrainEpochs),
		zap.Int("batch_size", cfg.TrainBatchSize),
		zap.Int("max_steps", maxSteps),
		zap.Int("parameters", t.Model.CountParameters()),
		zap.Float64("lr", cfg.LearningRate))

	res := &Result{Best: NewBest(cfg.MetricForBestModel)}
	var retained nn.Snapshot
	start := time.Now()

	for epoch := 1; epoch <= cfg.NumTrainEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			t.setState(Failed, epoch)
			return res, fmt.Errorf("training cancelled before epoch %d: %w", epoch, err)
		}

		t.setState(Training, epoch)
		trainLoss, err := t.runEpoch(epoch, fit)
		if err != nil {
			t.setState(Failed, epoch)
			return res, err
		}
		er := EpochResult{Epoch: epoch, GlobalStep: t.globalStep, TrainLoss: trainLoss}

		if cfg.EvaluationStrategy == StrategyEpoch {
			t.setState(Evaluating, epoch)
			batches, err := NewBatches(val, cfg.EvalBatchSize, nil)
			if err != nil {
				t.setState(Failed, epoch)
				return res, err
			}
			ev, err := Evaluate(t.Model, batches)
			if err != nil {
				t.setState(Failed, epoch)
				return res, fmt.Errorf("evaluate epoch %d: %w", epoch, err)
			}
			er.EvalLoss = ev.Loss
			er.Scores = ev.Scores
			t.history = append(t.history, logEntry{
				Epoch:        float64(epoch),
				Step:         t.globalStep,
				EvalLoss:     &ev.Loss,
				EvalAccuracy: &ev.Scores.Accuracy,
				EvalF1:       &ev.Scores.F1,
			})
			t.log.Info("validation",
				zap.Int("epoch", epoch),
				zap.Float64("eval_loss", ev.Loss),
				zap.Float64("accuracy", ev.Scores.Accuracy),
				zap.Float64("f1", ev.Scores.F1))
		}

		best, improved := res.Best, false
		if cfg.EvaluationStrategy == StrategyEpoch {
			if best, improved, err = res.Best.Observe(er); err != nil {
				t.setState(Failed, epoch)
				return res, err
			}
		}

		if cfg.SaveStrategy == StrategyEpoch {
			er.Checkpoint = filepath.Join(cfg.OutputDir, fmt.Sprintf("checkpoint-%d", t.globalStep))
			if improved {
				best.Result.Checkpoint = er.Checkpoint
			}
			if err := t.checkpoint(er, best, maxSteps); err != nil {
				t.setState(Failed, epoch)
				return res, err
			}
			t.setState(Checkpointed, epoch)
		}

		if improved && cfg.LoadBestModelAtEnd {
			if retained, err = t.Model.Snapshot(); err != nil {
				t.setState(Failed, epoch)
				return res, err
			}
		}
		if improved {
			t.log.Info("new best model", zap.Int("epoch", epoch), zap.String("metric", best.Metric), zap.Float64("score", best.Score))
		}
		res.Best = best
		res.Epochs = append(res.Epochs, er)
		res.GlobalStep = t.globalStep
	}

	if cfg.LoadBestModelAtEnd && retained != nil {
		if err := t.Model.Restore(retained); err != nil {
			t.setState(Failed, cfg.NumTrainEpochs)
			return res, fmt.Errorf("restore best model: %w", err)
		}
		t.log.Info("loaded best model", zap.Int("epoch", res.Best.Epoch()), zap.String("checkpoint", res.Best.Result.Checkpoint))
	}

	t.setState(Finished, cfg.NumTrainEpochs)
	t.log.Info("training complete", zap.Int("global_step", t.globalStep), zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// runEpoch makes one shuffled pass over fit and returns the mean loss.
// A panic inside a step is reported as divergence.
func (t *Trainer) runEpoch(epoch int, fit []Example) (mean float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TrainingDivergenceError{Epoch: epoch, Step: t.globalStep, Loss: math.NaN(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	batches, err := NewBatches(fit, t.Config.TrainBatchSize, epochRand(t.Config.Seed, epoch))
	if err != nil {
		return 0, err
	}

	t.Model.Train()
	var total, windowLoss float64
	window := 0
	for i := 0; i < batches.Len(); i++ {
		b, err := batches.Batch(i)
		if err != nil {
			return 0, err
		}
		loss, err := t.step(epoch, b)
		if err != nil {
			return 0, stepError(epoch, t.globalStep+1, err)
		}
		total += loss
		windowLoss += loss
		window++

		if t.Config.LoggingSteps > 0 && t.globalStep%t.Config.LoggingSteps == 0 {
			progress := float64(epoch-1) + float64(i+1)/float64(batches.Len())
			meanLoss := windowLoss / float64(window)
			lr := t.opt.GetLR()
			t.history = append(t.history, logEntry{Epoch: progress, Step: t.globalStep, Loss: &meanLoss, LearningRate: &lr})
			t.log.Info("train",
				zap.Int("step", t.globalStep),
				zap.Float64("epoch", math.Round(progress*100)/100),
				zap.Float64("loss", meanLoss),
				zap.Float64("lr", lr))
			windowLoss, window = 0, 0
		}
	}
	return total / float64(batches.Len()), nil
}

// stepError reports a panic recovered on a kernel worker as divergence, the
// same as a panic on the training goroutine.
func stepError(epoch, step int, err error) error {
	var kp *backend.KernelPanicError
	if errors.As(err, &kp) {
		return &TrainingDivergenceError{Epoch: epoch, Step: step, Loss: math.NaN(), Err: err}
	}
	return err
}

// step runs forward, backward and one optimizer update.
func (t *Trainer) step(epoch int, b Batch) (float64, error) {
	t.opt.SetLR(t.sched.LR(t.globalStep))

	logits, cache, err := t.Model.ForwardWithCache(b.InputIDs, b.AttentionMask)
	if err != nil {
		return 0, fmt.Errorf("step %d forward: %w", t.globalStep+1, err)
	}
	loss, err := ops.CrossEntropyLoss(logits, b.Labels)
	if err != nil {
		return 0, fmt.Errorf("step %d loss: %w", t.globalStep+1, err)
	}
	lossVal := float64(loss.ToFloat32Slice()[0])
	if math.IsNaN(lossVal) || math.IsInf(lossVal, 0) {
		return 0, &TrainingDivergenceError{Epoch: epoch, Step: t.globalStep + 1, Loss: lossVal}
	}

	t.opt.ZeroGrad()
	dLogits, err := ops.CrossEntropyBackward(logits, b.Labels)
	if err != nil {
		return 0, fmt.Errorf("step %d loss backward: %w", t.globalStep+1, err)
	}
	if err := t.Model.Backward(cache, dLogits); err != nil {
		return 0, fmt.Errorf("step %d backward: %w", t.globalStep+1, err)
	}
	if norm := t.opt.GradNorm(); math.IsNaN(norm) || math.IsInf(norm, 0) {
		return 0, &TrainingDivergenceError{Epoch: epoch, Step: t.globalStep + 1, Loss: lossVal, Err: fmt.Errorf("gradient norm %v", norm)}
	}

	t.opt.Step()
	t.globalStep++
	return lossVal, nil
}

// checkpoint writes the model and trainer_state.json for a finished epoch.
func (t *Trainer) checkpoint(er EpochResult, best Best, maxSteps int) error {
	if err := t.ckpt.WriteCheckpoint(er.Checkpoint, t.Model); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", er.Checkpoint, err)
	}
	st := trainerState{
		Epoch:      er.Epoch,
		GlobalStep: er.GlobalStep,
		MaxSteps:   maxSteps,
		LogHistory: t.history,
		Args:       t.Config,
	}
	if best.Seen {
		score := best.Score
		st.BestMetric = &score
		st.BestModelCheckpoint = best.Result.Checkpoint
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(er.Checkpoint, StateFile), data, 0o644)
	}
	if err != nil {
		os.RemoveAll(er.Checkpoint)
		return fmt.Errorf("write trainer state: %w", err)
	}
	t.log.Info("checkpoint saved", zap.String("dir", er.Checkpoint))
	return nil
}
