// Package labels maps class ids to label names.
//
// A Map is immutable once built: accessors return copies, so the same Map
// can be threaded from training through persistence to inference.
package labels

import (
	"fmt"
	"strconv"
	"strings"
)

// Map is a bijection between class ids 0..n-1 and label names.
type Map struct {
	names []string
	ids   map[string]int
}

// New builds a Map where names[i] is the label of class i.
func New(names ...string) (Map, error) {
	if len(names) == 0 {
		return Map{}, fmt.Errorf("labels: empty label set")
	}
	m := Map{
		names: make([]string, len(names)),
		ids:   make(map[string]int, len(names)),
	}
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			return Map{}, fmt.Errorf("labels: blank name for id %d", i)
		}
		if _, dup := m.ids[n]; dup {
			return Map{}, fmt.Errorf("labels: duplicate name %q", n)
		}
		m.names[i] = n
		m.ids[n] = i
	}
	return m, nil
}

// Sentiment is the two-class map used for review polarity.
func Sentiment() Map {
	m, _ := New("NEGATIVE", "POSITIVE")
	return m
}

// FromConfig rebuilds a Map from a config.json style id2label table.
// Keys must be the decimal ids 0..n-1.
func FromConfig(id2label map[string]string) (Map, error) {
	names := make([]string, len(id2label))
	seen := make([]bool, len(id2label))
	for k, v := range id2label {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 || id >= len(names) {
			return Map{}, fmt.Errorf("labels: invalid id %q in id2label", k)
		}
		if seen[id] {
			return Map{}, fmt.Errorf("labels: id %d listed twice", id)
		}
		seen[id] = true
		names[id] = v
	}
	return New(names...)
}

// Len returns the number of classes.
func (m Map) Len() int { return len(m.names) }

// Name returns the label for a class id.
func (m Map) Name(id int) (string, error) {
	if id < 0 || id >= len(m.names) {
		return "", fmt.Errorf("labels: id %d out of range [0, %d)", id, len(m.names))
	}
	return m.names[id], nil
}

// ID returns the class id for a label name.
func (m Map) ID(name string) (int, error) {
	id, ok := m.ids[name]
	if !ok {
		return 0, fmt.Errorf("labels: unknown label %q", name)
	}
	return id, nil
}

// Names returns the labels ordered by id.
func (m Map) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// ID2Label returns the table stored in config.json.
func (m Map) ID2Label() map[string]string {
	out := make(map[string]string, len(m.names))
	for i, n := range m.names {
		out[strconv.Itoa(i)] = n
	}
	return out
}

// Label2ID returns the inverse table stored in config.json.
func (m Map) Label2ID() map[string]int {
	out := make(map[string]int, len(m.names))
	for i, n := range m.names {
		out[n] = i
	}
	return out
}

// Equal reports whether both maps assign the same names to the same ids.
func (m Map) Equal(o Map) bool {
	if len(m.names) != len(o.names) {
		return false
	}
	for i := range m.names {
		if m.names[i] != o.names[i] {
			return false
		}
	}
	return true
}

func (m Map) String() string {
	parts := make([]string, len(m.names))
	for i, n := range m.names {
		parts[i] = fmt.Sprintf("%d:%s", i, n)
	}
	return "{" + strings.Join(parts, " ") + "}"
}
