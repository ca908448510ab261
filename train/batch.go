package train

import (
	"fmt"
	"math/rand/v2"

	"github.com/djeday123/reviewtune/tensor"
	"github.com/djeday123/reviewtune/tokenizer"
)

// Example is one encoded review with its class id.
type Example struct {
	Encoding tokenizer.Encoding
	Label    int
}

// Batch is a collated mini-batch ready for the classifier.
type Batch struct {
	InputIDs      *tensor.Tensor // [batch, seqLen] int64
	AttentionMask *tensor.Tensor // [batch, seqLen] int64
	Labels        *tensor.Tensor // [batch] int64
	Targets       []int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int { return len(b.Targets) }

// Collate stacks equal-length examples into a Batch.
func Collate(examples []Example) (Batch, error) {
	encs := make([]tokenizer.Encoding, len(examples))
	labelData := make([]int64, len(examples))
	targets := make([]int, len(examples))
	for i, ex := range examples {
		encs[i] = ex.Encoding
		labelData[i] = int64(ex.Label)
		targets[i] = ex.Label
	}
	ids, mask, err := tokenizer.BatchTensors(encs)
	if err != nil {
		return Batch{}, fmt.Errorf("collate: %w", err)
	}
	lbl, err := tensor.FromSlice(labelData, tensor.Shape{len(examples)})
	if err != nil {
		return Batch{}, fmt.Errorf("collate labels: %w", err)
	}
	return Batch{InputIDs: ids, AttentionMask: mask, Labels: lbl, Targets: targets}, nil
}

// Batches walks a fixed ordering of examples in mini-batches, collating
// each one on demand. The last batch may be short.
type Batches struct {
	examples []Example
	order    []int
	size     int
}

// NewBatches orders examples for one pass. A nil rng keeps input order;
// otherwise the order is a permutation drawn from rng.
func NewBatches(examples []Example, size int, rng *rand.Rand) (*Batches, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", size)
	}
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return &Batches{examples: examples, order: order, size: size}, nil
}

// Len returns the number of batches.
func (b *Batches) Len() int { return (len(b.order) + b.size - 1) / b.size }

// Examples returns the number of examples covered.
func (b *Batches) Examples() int { return len(b.order) }

// Batch collates batch i.
func (b *Batches) Batch(i int) (Batch, error) {
	if i < 0 || i >= b.Len() {
		return Batch{}, fmt.Errorf("batch %d out of range [0, %d)", i, b.Len())
	}
	lo := i * b.size
	hi := min(lo+b.size, len(b.order))
	chunk := make([]Example, 0, hi-lo)
	for _, j := range b.order[lo:hi] {
		chunk = append(chunk, b.examples[j])
	}
	return Collate(chunk)
}

// epochRand returns the shuffling source for one epoch of a seeded run.
func epochRand(seed uint64, epoch int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(epoch)))
}
