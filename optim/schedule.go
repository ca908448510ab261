package optim

import (
	"fmt"
	"math"
)

// Schedule maps the number of completed optimizer steps to a learning rate.
type Schedule interface {
	LR(step int) float64
}

// NewSchedule builds a named schedule: "linear", "cosine" or "constant".
func NewSchedule(kind string, maxLR float64, warmupSteps, totalSteps int) (Schedule, error) {
	switch kind {
	case "", "linear":
		return LinearSchedule{MaxLR: maxLR, WarmupSteps: warmupSteps, TotalSteps: totalSteps}, nil
	case "cosine":
		return CosineDecay{MaxLR: maxLR, WarmupSteps: warmupSteps, TotalSteps: totalSteps}, nil
	case "constant":
		return ConstantSchedule{LRValue: maxLR, WarmupSteps: warmupSteps}, nil
	default:
		return nil, fmt.Errorf("unknown lr schedule %q", kind)
	}
}

// LinearSchedule warms up linearly to MaxLR, then decays linearly to zero
// at TotalSteps.
type LinearSchedule struct {
	MaxLR       float64
	WarmupSteps int
	TotalSteps  int
}

func (s LinearSchedule) LR(step int) float64 {
	if step < s.WarmupSteps {
		return s.MaxLR * float64(step) / float64(max(1, s.WarmupSteps))
	}
	remaining := float64(s.TotalSteps-step) / float64(max(1, s.TotalSteps-s.WarmupSteps))
	return s.MaxLR * math.Max(0, remaining)
}

// CosineDecay wraps CosineSchedule with a zero floor.
type CosineDecay struct {
	MaxLR       float64
	WarmupSteps int
	TotalSteps  int
}

func (s CosineDecay) LR(step int) float64 {
	return CosineSchedule(step, s.WarmupSteps, s.TotalSteps, s.MaxLR, 0)
}

// ConstantSchedule holds LRValue after an optional linear warmup.
type ConstantSchedule struct {
	LRValue     float64
	WarmupSteps int
}

func (s ConstantSchedule) LR(step int) float64 {
	if step < s.WarmupSteps {
		return s.LRValue * float64(step) / float64(s.WarmupSteps)
	}
	return s.LRValue
}

// CosineSchedule computes learning rate with warmup + cosine decay.
func CosineSchedule(step, warmupSteps, totalSteps int, maxLR, minLR float64) float64 {
	if step < warmupSteps {
		// Linear warmup
		return maxLR * float64(step) / float64(warmupSteps)
	}

	// Cosine decay
	progress := float64(step-warmupSteps) / float64(max(1, totalSteps-warmupSteps))
	if progress > 1.0 {
		progress = 1.0
	}
	return minLR + 0.5*(maxLR-minLR)*(1.0+math.Cos(math.Pi*progress))
}
