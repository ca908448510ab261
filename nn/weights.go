package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/djeday123/reviewtune/tensor"
)

// Snapshot is an in-memory copy of every parameter, keyed by name.
type Snapshot map[string]*tensor.Tensor

// Snapshot copies the current weights.
func (m *SequenceClassifier) Snapshot() (Snapshot, error) {
	snap := make(Snapshot)
	for _, p := range m.NamedParameters() {
		c, err := p.Tensor.Clone()
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", p.Name, err)
		}
		snap[p.Name] = c
	}
	return snap, nil
}

// Restore overwrites the weights with a snapshot taken from a model of the
// same architecture.
func (m *SequenceClassifier) Restore(snap Snapshot) error {
	for _, p := range m.NamedParameters() {
		src, ok := snap[p.Name]
		if !ok {
			return fmt.Errorf("restore: snapshot has no %s", p.Name)
		}
		if err := p.Tensor.CopyFrom(src); err != nil {
			return fmt.Errorf("restore %s: %w", p.Name, err)
		}
	}
	return nil
}

// LoadReport lists what LoadWeights matched.
type LoadReport struct {
	Loaded     []string
	Missing    []string // model parameters absent from the checkpoint
	Unexpected []string // checkpoint tensors with no matching parameter
}

// LoadWeights copies checkpoint tensors into the model. Names are normalised
// first (gamma/beta suffixes, missing "bert." prefix). In strict mode any
// missing or unexpected tensor is an error; otherwise they are reported and
// skipped, which is how a pretrained backbone receives a fresh head.
// A shape mismatch is always an error.
func (m *SequenceClassifier) LoadWeights(weights map[string]*tensor.Tensor, strict bool) (LoadReport, error) {
	params := make(map[string]*tensor.Tensor)
	for _, p := range m.NamedParameters() {
		params[p.Name] = p.Tensor
	}

	var rep LoadReport
	seen := make(map[string]bool)
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, raw := range names {
		name := CanonicalName(raw)
		dst, ok := params[name]
		if !ok {
			rep.Unexpected = append(rep.Unexpected, raw)
			continue
		}
		src := weights[raw]
		if src.DType() != tensor.Float32 {
			return rep, fmt.Errorf("%s: dtype %s, want float32", raw, src.DType())
		}
		if !src.Shape().Equal(dst.Shape()) {
			return rep, fmt.Errorf("%s: shape %v, want %v", raw, src.Shape(), dst.Shape())
		}
		if err := dst.CopyFrom(src); err != nil {
			return rep, fmt.Errorf("%s: %w", raw, err)
		}
		seen[name] = true
		rep.Loaded = append(rep.Loaded, name)
	}
	for _, p := range m.NamedParameters() {
		if !seen[p.Name] {
			rep.Missing = append(rep.Missing, p.Name)
		}
	}

	if strict && (len(rep.Missing) > 0 || len(rep.Unexpected) > 0) {
		return rep, fmt.Errorf("weights do not match model: %d missing (%s), %d unexpected (%s)",
			len(rep.Missing), preview(rep.Missing), len(rep.Unexpected), preview(rep.Unexpected))
	}
	return rep, nil
}

// CanonicalName maps legacy checkpoint names onto the parameter names used
// by NamedParameters.
func CanonicalName(name string) string {
	switch {
	case strings.HasSuffix(name, ".gamma"):
		name = strings.TrimSuffix(name, ".gamma") + ".weight"
	case strings.HasSuffix(name, ".beta"):
		name = strings.TrimSuffix(name, ".beta") + ".bias"
	}
	if strings.HasPrefix(name, "embeddings.") || strings.HasPrefix(name, "encoder.") || strings.HasPrefix(name, "pooler.") {
		name = "bert." + name
	}
	return name
}

func preview(names []string) string {
	const n = 3
	if len(names) <= n {
		return strings.Join(names, ", ")
	}
	return strings.Join(names[:n], ", ") + ", ..."
}
