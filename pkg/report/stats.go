// Package report summarises a review corpus and renders exploratory plots.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/djeday123/reviewtune/pkg/dataset"
)

// Stats is a descriptive summary of a sample.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q25    float64 `json:"q25"`
	Median float64 `json:"median"`
	Q75    float64 `json:"q75"`
	Max    float64 `json:"max"`
}

func (s Stats) String() string {
	return fmt.Sprintf("count=%d mean=%.2f std=%.2f min=%.0f 25%%=%.2f 50%%=%.2f 75%%=%.2f max=%.0f",
		s.Count, s.Mean, s.Std, s.Min, s.Q25, s.Median, s.Q75, s.Max)
}

// Describe computes count, mean, sample standard deviation, extremes and
// quartiles. Quartiles interpolate linearly between order statistics at
// position p*(n-1). Std is 0 for a single value; an empty sample yields
// the zero Stats.
func Describe(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := Stats{
		Count:  n,
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Q25:    quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q75:    quantile(sorted, 0.75),
	}
	if n == 1 {
		s.Mean = sorted[0]
	} else {
		s.Mean, s.Std = stat.MeanStdDev(sorted, nil)
	}
	return s
}

func quantile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Summary describes a training corpus.
type Summary struct {
	Examples      int                     `json:"examples"`
	LabelCounts   map[dataset.Label]int   `json:"label_counts"`
	TokenCounts   []int                   `json:"-"`
	Tokens        Stats                   `json:"tokens"`
	TokensByLabel map[dataset.Label]Stats `json:"tokens_by_label"`
	Plots         []string                `json:"plots,omitempty"`
	PlotErrors    []string                `json:"plot_errors,omitempty"`
}

// Summarize counts labels and whitespace-separated tokens per review.
func Summarize(reviews []dataset.Review) Summary {
	s := Summary{
		Examples:      len(reviews),
		LabelCounts:   map[dataset.Label]int{},
		TokenCounts:   make([]int, len(reviews)),
		TokensByLabel: map[dataset.Label]Stats{},
	}
	all := make([]float64, len(reviews))
	byLabel := map[dataset.Label][]float64{}
	for i, r := range reviews {
		n := len(strings.Fields(r.Text))
		s.TokenCounts[i] = n
		s.LabelCounts[r.Label]++
		all[i] = float64(n)
		byLabel[r.Label] = append(byLabel[r.Label], float64(n))
	}
	s.Tokens = Describe(all)
	for l, v := range byLabel {
		s.TokensByLabel[l] = Describe(v)
	}
	return s
}

// labelsOf returns the labels present in counts, ascending.
func labelsOf(counts map[dataset.Label]int) []dataset.Label {
	out := make([]dataset.Label, 0, len(counts))
	for l := range counts {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
