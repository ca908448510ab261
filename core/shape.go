package core

import (
	"fmt"
	"slices"
)

// Shape lists tensor dimensions, outermost first. A nil Shape is a scalar.
type Shape []int

// NumElements is the product of the dimensions; 1 for a scalar.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) NDim() int { return len(s) }

func (s Shape) Equal(other Shape) bool { return slices.Equal(s, other) }

func (s Shape) Clone() Shape { return slices.Clone(s) }

// Rows is the number of innermost vectors: a [batch, seq, dim] activation
// has batch*seq rows of width dim.
func (s Shape) Rows() int {
	if len(s) == 0 {
		return 1
	}
	return s[:len(s)-1].NumElements()
}

// Last is the innermost dimension, 1 for a scalar.
func (s Shape) Last() int {
	if len(s) == 0 {
		return 1
	}
	return s[len(s)-1]
}

func (s Shape) String() string { return fmt.Sprint([]int(s)) }

// BroadcastShapes aligns a and b from the right; each dimension pair must
// match or contain a 1.
func BroadcastShapes(a, b Shape) (Shape, error) {
	out := make(Shape, max(len(a), len(b)))
	for i := range out {
		da, db := dimFromRight(a, i), dimFromRight(b, i)
		switch {
		case da == db || db == 1:
			out[len(out)-1-i] = da
		case da == 1:
			out[len(out)-1-i] = db
		default:
			return nil, fmt.Errorf("shapes %v and %v do not broadcast", a, b)
		}
	}
	return out, nil
}

func dimFromRight(s Shape, i int) int {
	if i >= len(s) {
		return 1
	}
	return s[len(s)-1-i]
}
