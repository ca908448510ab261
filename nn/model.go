package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/labels"
	"github.com/djeday123/reviewtune/tensor"
)

// SequenceClassifier is a BERT encoder with a pooled classification head.
// It starts in training mode.
type SequenceClassifier struct {
	Config     Config
	Labels     labels.Map
	Embeddings *Embeddings
	Layers     []*EncoderLayer
	Pooler     *Pooler
	Dropout    Dropout
	Classifier *Linear // [hidden → numLabels]

	device   backend.Device
	training bool
	rng      *rand.Rand
}

// ClassifierCache holds everything Backward needs from one forward pass.
type ClassifierCache struct {
	emb     *embeddingCache
	layers  []*LayerCache
	pool    *poolerCache
	dropped *tensor.Tensor // classifier input
	mask    []float32
}

// NewSequenceClassifier creates a randomly initialised classifier. seed
// drives both weight init and the dropout stream.
func NewSequenceClassifier(cfg Config, lm labels.Map, device backend.Device, seed uint64) (*SequenceClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lm.Len() < 2 {
		return nil, fmt.Errorf("classifier needs at least 2 labels, got %d", lm.Len())
	}
	rng := newRand(seed)

	emb, err := NewEmbeddings(cfg, rng, device)
	if err != nil {
		return nil, err
	}
	layers := make([]*EncoderLayer, cfg.NumHiddenLayers)
	for i := range layers {
		if layers[i], err = NewEncoderLayer(cfg, rng, device); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	dense, err := NewLinear(cfg.HiddenSize, cfg.HiddenSize, true, cfg.InitializerRange, rng, device)
	if err != nil {
		return nil, err
	}
	head, err := NewLinear(cfg.HiddenSize, lm.Len(), true, cfg.InitializerRange, rng, device)
	if err != nil {
		return nil, err
	}

	cfg.ID2Label = lm.ID2Label()
	cfg.Label2ID = lm.Label2ID()
	cfg.Architectures = []string{"BertForSequenceClassification"}

	return &SequenceClassifier{
		Config:     cfg,
		Labels:     lm,
		Embeddings: emb,
		Layers:     layers,
		Pooler:     &Pooler{Dense: dense},
		Dropout:    Dropout{P: cfg.HiddenDropoutProb},
		Classifier: head,
		device:     device,
		training:   true,
		rng:        rng,
	}, nil
}

// Train switches dropout on.
func (m *SequenceClassifier) Train() { m.training = true }

// Eval switches dropout off.
func (m *SequenceClassifier) Eval() { m.training = false }

// Training reports whether the model is in training mode.
func (m *SequenceClassifier) Training() bool { return m.training }

// Device returns the device the weights live on.
func (m *SequenceClassifier) Device() backend.Device { return m.device }

// Forward computes logits [batch, numLabels] for input ids [batch, seqLen].
// attentionMask has the same shape with 1 for real tokens and 0 for padding;
// nil attends to every position.
func (m *SequenceClassifier) Forward(inputIDs, attentionMask *tensor.Tensor) (*tensor.Tensor, error) {
	logits, _, err := m.ForwardWithCache(inputIDs, attentionMask)
	return logits, err
}

// ForwardWithCache runs the forward pass and keeps intermediates for Backward.
func (m *SequenceClassifier) ForwardWithCache(inputIDs, attentionMask *tensor.Tensor) (*tensor.Tensor, *ClassifierCache, error) {
	mask, err := additiveMask(inputIDs, attentionMask)
	if err != nil {
		return nil, nil, err
	}
	var rng *rand.Rand
	if m.training {
		rng = m.rng
	}

	cache := &ClassifierCache{layers: make([]*LayerCache, len(m.Layers))}
	hidden, embCache, err := m.Embeddings.forwardWithCache(inputIDs, rng)
	if err != nil {
		return nil, nil, err
	}
	cache.emb = embCache

	for i, layer := range m.Layers {
		var lc *LayerCache
		if hidden, lc, err = layer.ForwardWithCache(hidden, mask, rng); err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}
		cache.layers[i] = lc
	}

	pooled, poolCache, err := m.Pooler.forwardWithCache(hidden)
	if err != nil {
		return nil, nil, err
	}
	cache.pool = poolCache

	dropped, dropMask, err := m.Dropout.Forward(pooled, rng)
	if err != nil {
		return nil, nil, err
	}
	cache.dropped, cache.mask = dropped, dropMask

	logits, err := m.Classifier.Forward(dropped)
	if err != nil {
		return nil, nil, err
	}
	return logits, cache, nil
}

// Backward accumulates parameter gradients from dLogits [batch, numLabels].
func (m *SequenceClassifier) Backward(cache *ClassifierCache, dLogits *tensor.Tensor) error {
	dPooled, err := m.Classifier.Backward(cache.dropped, dLogits)
	if err != nil {
		return err
	}
	dHidden, err := m.Pooler.backward(cache.pool, maskGrad(dPooled, cache.mask))
	if err != nil {
		return err
	}
	for i := len(m.Layers) - 1; i >= 0; i-- {
		if dHidden, err = m.Layers[i].Backward(cache.layers[i], dHidden); err != nil {
			return fmt.Errorf("layer %d backward: %w", i, err)
		}
	}
	return m.Embeddings.backward(cache.emb, dHidden)
}

// NamedParameters returns every trainable tensor under its checkpoint name.
func (m *SequenceClassifier) NamedParameters() []Param {
	ps := m.Embeddings.NamedParameters("bert.embeddings")
	for i, l := range m.Layers {
		ps = append(ps, l.NamedParameters(fmt.Sprintf("bert.encoder.layer.%d", i))...)
	}
	ps = append(ps, m.Pooler.Dense.NamedParameters("bert.pooler.dense")...)
	return append(ps, m.Classifier.NamedParameters("classifier")...)
}

// Parameters returns all trainable parameters.
func (m *SequenceClassifier) Parameters() []*tensor.Tensor {
	named := m.NamedParameters()
	out := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		out[i] = p.Tensor
	}
	return out
}

// CountParameters returns the total number of trainable scalars.
func (m *SequenceClassifier) CountParameters() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.NumElements()
	}
	return total
}

// ZeroGrad clears accumulated gradients.
func (m *SequenceClassifier) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// additiveMask turns a 0/1 attention mask into per-key score offsets.
func additiveMask(inputIDs, attentionMask *tensor.Tensor) ([]float32, error) {
	shape := inputIDs.Shape()
	if len(shape) != 2 || inputIDs.DType() != tensor.Int64 {
		return nil, fmt.Errorf("input ids must be int64 [batch, seqLen], got %v %s", shape, inputIDs.DType())
	}
	if shape[0] == 0 || shape[1] == 0 {
		return nil, fmt.Errorf("empty batch %v", shape)
	}
	out := make([]float32, shape.NumElements())
	if attentionMask == nil {
		return out, nil
	}
	if !attentionMask.Shape().Equal(shape) || attentionMask.DType() != tensor.Int64 {
		return nil, fmt.Errorf("attention mask %v %s does not match input ids %v", attentionMask.Shape(), attentionMask.DType(), shape)
	}
	for i, v := range attentionMask.ToInt64Slice() {
		if v == 0 {
			out[i] = maskedScore
		}
	}
	return out, nil
}
