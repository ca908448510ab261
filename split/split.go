// Package split carves a seeded validation subset out of a training set.
package split

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Defaults used by the fine-tuning pipeline.
const (
	DefaultFraction = 0.1
	DefaultSeed     = 42
)

// Indices partitions [0, n) into fit and validation index lists.
//
// The validation side holds ceil(fraction*n) indices chosen by a PCG
// permutation seeded with seed; both lists are sorted ascending. The same
// (n, fraction, seed) always yields the same partition.
func Indices(n int, fraction float64, seed uint64) (fit, val []int, err error) {
	if !(fraction > 0 && fraction < 1) {
		return nil, nil, fmt.Errorf("validation fraction %v outside (0, 1)", fraction)
	}
	nVal := int(math.Ceil(fraction * float64(n)))
	if nVal < 1 || n-nVal < 1 {
		return nil, nil, fmt.Errorf("cannot split %d items with fraction %v: one side would be empty", n, fraction)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)

	val = append([]int(nil), perm[:nVal]...)
	fit = append([]int(nil), perm[nVal:]...)
	sort.Ints(val)
	sort.Ints(fit)
	return fit, val, nil
}

// TrainValidation splits items into fit and validation subsets, keeping
// the original relative order inside each subset.
func TrainValidation[T any](items []T, fraction float64, seed uint64) (fit, val []T, err error) {
	fitIdx, valIdx, err := Indices(len(items), fraction, seed)
	if err != nil {
		return nil, nil, err
	}
	return pick(items, fitIdx), pick(items, valIdx), nil
}

func pick[T any](items []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}
