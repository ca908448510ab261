package split

import (
	"reflect"
	"testing"
)

func TestIndicesSizes(t *testing.T) {
	tests := []struct {
		n, fit, val int
		fraction    float64
	}{
		{n: 25000, fraction: 0.1, fit: 22500, val: 2500},
		{n: 10, fraction: 0.1, fit: 9, val: 1},
		{n: 11, fraction: 0.1, fit: 9, val: 2},
		{n: 2, fraction: 0.5, fit: 1, val: 1},
	}
	for _, tt := range tests {
		fit, val, err := Indices(tt.n, tt.fraction, DefaultSeed)
		if err != nil {
			t.Fatalf("Indices(%d, %v): %v", tt.n, tt.fraction, err)
		}
		if len(fit) != tt.fit || len(val) != tt.val {
			t.Errorf("Indices(%d, %v) sizes = %d/%d, want %d/%d", tt.n, tt.fraction, len(fit), len(val), tt.fit, tt.val)
		}
	}
}

func TestIndicesDisjointAndComplete(t *testing.T) {
	const n = 1000
	fit, val, err := Indices(n, DefaultFraction, DefaultSeed)
	if err != nil {
		t.Fatal(err)
	}
	seen := make([]int, n)
	for _, i := range fit {
		seen[i]++
	}
	for _, i := range val {
		seen[i]++
	}
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("index %d appears %d times", i, c)
		}
	}
	for i := 1; i < len(val); i++ {
		if val[i] <= val[i-1] {
			t.Fatal("validation indices not sorted")
		}
	}
}

func TestIndicesDeterministic(t *testing.T) {
	fitA, valA, _ := Indices(500, 0.1, 42)
	fitB, valB, _ := Indices(500, 0.1, 42)
	if !reflect.DeepEqual(fitA, fitB) || !reflect.DeepEqual(valA, valB) {
		t.Error("same seed produced different partitions")
	}
	_, valC, _ := Indices(500, 0.1, 7)
	if reflect.DeepEqual(valA, valC) {
		t.Error("different seeds produced the same partition")
	}
}

func TestIndicesErrors(t *testing.T) {
	for _, tc := range []struct {
		n        int
		fraction float64
	}{
		{10, 0}, {10, 1}, {10, -0.5}, {1, 0.1}, {0, 0.1},
	} {
		if _, _, err := Indices(tc.n, tc.fraction, 42); err == nil {
			t.Errorf("Indices(%d, %v): expected error", tc.n, tc.fraction)
		}
	}
}

func TestTrainValidation(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	fit, val, err := TrainValidation(items, 0.2, DefaultSeed)
	if err != nil {
		t.Fatal(err)
	}
	if len(fit) != 8 || len(val) != 2 {
		t.Fatalf("sizes %d/%d", len(fit), len(val))
	}
	got := map[string]bool{}
	for _, s := range append(append([]string(nil), fit...), val...) {
		got[s] = true
	}
	if len(got) != len(items) {
		t.Errorf("union has %d distinct items, want %d", len(got), len(items))
	}
}
