package nn

import (
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/ops"
	"github.com/djeday123/reviewtune/tensor"
)

// Embedding maps ids to rows of a learned table.
type Embedding struct {
	Weight    *tensor.Tensor // [vocabSize, embedDim]
	VocabSize int
	EmbedDim  int
}

// NewEmbedding draws the table from N(0, std²).
func NewEmbedding(vocabSize, embedDim int, std float64, rng *rand.Rand, device backend.Device) (*Embedding, error) {
	w, err := normalParam(tensor.Shape{vocabSize, embedDim}, std, rng, device)
	if err != nil {
		return nil, err
	}
	return &Embedding{Weight: w, VocabSize: vocabSize, EmbedDim: embedDim}, nil
}

// Forward gathers rows for int64 indices of any shape.
func (e *Embedding) Forward(indices *tensor.Tensor) (*tensor.Tensor, error) {
	return ops.Embedding(e.Weight, indices)
}
