package train

import "fmt"

// Strategies for evaluation and checkpointing.
const (
	StrategyEpoch = "epoch"
	StrategyNo    = "no"
)

// Metrics accepted by MetricForBestModel.
const (
	MetricF1       = "f1"
	MetricAccuracy = "accuracy"
	MetricLoss     = "loss"
)

// Config holds fine-tuning hyperparameters. Field names follow the
// Hugging Face TrainingArguments they mirror.
type Config struct {
	OutputDir          string  `yaml:"output_dir" json:"output_dir"`
	EvaluationStrategy string  `yaml:"evaluation_strategy" json:"evaluation_strategy"`
	SaveStrategy       string  `yaml:"save_strategy" json:"save_strategy"`
	NumTrainEpochs     int     `yaml:"num_train_epochs" json:"num_train_epochs"`
	TrainBatchSize     int     `yaml:"per_device_train_batch_size" json:"per_device_train_batch_size"`
	EvalBatchSize      int     `yaml:"per_device_eval_batch_size" json:"per_device_eval_batch_size"`
	LoggingSteps       int     `yaml:"logging_steps" json:"logging_steps"`
	LoadBestModelAtEnd bool    `yaml:"load_best_model_at_end" json:"load_best_model_at_end"`
	MetricForBestModel string  `yaml:"metric_for_best_model" json:"metric_for_best_model"`
	LearningRate       float64 `yaml:"learning_rate" json:"learning_rate"`
	WeightDecay        float64 `yaml:"weight_decay" json:"weight_decay"`
	WarmupSteps        int     `yaml:"warmup_steps" json:"warmup_steps"`
	MaxGradNorm        float64 `yaml:"max_grad_norm" json:"max_grad_norm"`
	LRSchedulerType    string  `yaml:"lr_scheduler_type" json:"lr_scheduler_type"`
	Seed               uint64  `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the fine-tuning defaults: two epochs, batch 8,
// per-epoch evaluation and checkpointing, best model by F1 restored at end.
func DefaultConfig() Config {
	return Config{
		OutputDir:          "results",
		EvaluationStrategy: StrategyEpoch,
		SaveStrategy:       StrategyEpoch,
		NumTrainEpochs:     2,
		TrainBatchSize:     8,
		EvalBatchSize:      8,
		LoggingSteps:       100,
		LoadBestModelAtEnd: true,
		MetricForBestModel: MetricF1,
		LearningRate:       5e-5,
		WeightDecay:        0,
		WarmupSteps:        0,
		MaxGradNorm:        1.0,
		LRSchedulerType:    "linear",
		Seed:               42,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch {
	case c.NumTrainEpochs < 1:
		return fmt.Errorf("num_train_epochs must be >= 1, got %d", c.NumTrainEpochs)
	case c.TrainBatchSize < 1 || c.EvalBatchSize < 1:
		return fmt.Errorf("batch sizes must be >= 1, got %d/%d", c.TrainBatchSize, c.EvalBatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be positive, got %v", c.LearningRate)
	case c.WarmupSteps < 0 || c.WeightDecay < 0 || c.MaxGradNorm < 0:
		return fmt.Errorf("warmup_steps, weight_decay and max_grad_norm must be non-negative")
	}
	for name, s := range map[string]string{"evaluation_strategy": c.EvaluationStrategy, "save_strategy": c.SaveStrategy} {
		if s != StrategyEpoch && s != StrategyNo {
			return fmt.Errorf("%s must be %q or %q, got %q", name, StrategyEpoch, StrategyNo, s)
		}
	}
	switch c.MetricForBestModel {
	case MetricF1, MetricAccuracy, MetricLoss:
	default:
		return fmt.Errorf("unknown metric_for_best_model %q", c.MetricForBestModel)
	}
	if c.LoadBestModelAtEnd && c.EvaluationStrategy != StrategyEpoch {
		return fmt.Errorf("load_best_model_at_end needs evaluation_strategy %q", StrategyEpoch)
	}
	if c.SaveStrategy == StrategyEpoch && c.OutputDir == "" {
		return fmt.Errorf("output_dir is required when saving checkpoints")
	}
	return nil
}
