// Package dataset loads labelled movie reviews.
package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
)

// Label is the sentiment class of a review.
type Label int

const (
	Negative Label = 0
	Positive Label = 1
)

// Valid reports whether l is Negative or Positive.
func (l Label) Valid() bool { return l == Negative || l == Positive }

// Sentiment returns "Positive" for label 1 and "Negative" otherwise.
func (l Label) Sentiment() string {
	if l == Positive {
		return "Positive"
	}
	return "Negative"
}

func (l Label) String() string { return l.Sentiment() }

// Review is one labelled review.
type Review struct {
	Text  string `json:"text"`
	Label Label  `json:"label"`
}

// Splits holds the train and test partitions of a dataset.
type Splits struct {
	Name  string
	Train []Review
	Test  []Review
}

// Loader resolves a dataset identifier to its splits.
type Loader interface {
	Load(ctx context.Context, name string) (*Splits, error)
}

// DatasetUnavailableError wraps any failure to fetch, decode or validate
// a dataset.
type DatasetUnavailableError struct {
	Name string
	Err  error
}

func (e *DatasetUnavailableError) Error() string {
	return fmt.Sprintf("dataset %q unavailable: %v", e.Name, e.Err)
}

func (e *DatasetUnavailableError) Unwrap() error { return e.Err }

func unavailable(name string, err error) error {
	return &DatasetUnavailableError{Name: name, Err: err}
}

// validate checks that both splits are present and every label is 0 or 1.
func validate(s *Splits) error {
	if len(s.Train) == 0 {
		return fmt.Errorf("empty train split")
	}
	if len(s.Test) == 0 {
		return fmt.Errorf("empty test split")
	}
	for split, rows := range map[string][]Review{"train": s.Train, "test": s.Test} {
		for i, r := range rows {
			if !r.Label.Valid() {
				return fmt.Errorf("%s row %d: label %d is not 0 or 1", split, i, r.Label)
			}
		}
	}
	return nil
}

// Texts returns the review texts.
func Texts(reviews []Review) []string {
	out := make([]string, len(reviews))
	for i, r := range reviews {
		out[i] = r.Text
	}
	return out
}

// Subsample keeps a seeded random subset of n reviews in their original
// order. n <= 0 or n >= len(reviews) returns reviews unchanged.
func Subsample(reviews []Review, n int, seed uint64) []Review {
	if n <= 0 || n >= len(reviews) {
		return reviews
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	idx := rng.Perm(len(reviews))[:n]
	sort.Ints(idx)
	out := make([]Review, n)
	for i, j := range idx {
		out[i] = reviews[j]
	}
	return out
}
