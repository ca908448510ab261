package report

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/plot"

	"github.com/djeday123/reviewtune/pkg/dataset"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestDescribe(t *testing.T) {
	s := Describe([]float64{4, 1, 3, 2})
	if s.Count != 4 || s.Min != 1 || s.Max != 4 {
		t.Errorf("count/min/max = %d/%v/%v", s.Count, s.Min, s.Max)
	}
	if !approx(s.Mean, 2.5) || !approx(s.Std, math.Sqrt(5.0/3)) {
		t.Errorf("mean/std = %v/%v", s.Mean, s.Std)
	}
	if !approx(s.Q25, 1.75) || !approx(s.Median, 2.5) || !approx(s.Q75, 3.25) {
		t.Errorf("quartiles = %v/%v/%v", s.Q25, s.Median, s.Q75)
	}

	if one := Describe([]float64{7}); one.Mean != 7 || one.Std != 0 || one.Q75 != 7 {
		t.Errorf("single value = %+v", one)
	}
	if empty := Describe(nil); empty != (Stats{}) {
		t.Errorf("empty = %+v", empty)
	}
}

func corpus() []dataset.Review {
	var out []dataset.Review
	for i := 0; i < 40; i++ {
		label := dataset.Label(i % 2)
		words := strings.Repeat("word ", 5+i)
		out = append(out, dataset.Review{Text: words, Label: label})
	}
	return out
}

func TestSummarize(t *testing.T) {
	s := Summarize([]dataset.Review{
		{Text: "a b c", Label: dataset.Positive},
		{Text: "  a\tb ", Label: dataset.Negative},
		{Text: "a b c d e", Label: dataset.Positive},
	})
	if s.LabelCounts[dataset.Positive] != 2 || s.LabelCounts[dataset.Negative] != 1 {
		t.Errorf("label counts = %v", s.LabelCounts)
	}
	if s.TokenCounts[1] != 2 {
		t.Errorf("token counts = %v", s.TokenCounts)
	}
	if pos := s.TokensByLabel[dataset.Positive]; pos.Count != 2 || pos.Mean != 4 {
		t.Errorf("positive stats = %+v", pos)
	}
}

func TestReporterRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	r := &Reporter{Dir: dir, Bins: 10}
	s, err := r.Run(context.Background(), corpus())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.PlotErrors) != 0 {
		t.Fatalf("plot errors: %v", s.PlotErrors)
	}
	for _, name := range []string{LabelCountsPlot, TokenCountsPlot, SummaryFile} {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil || fi.Size() == 0 {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestReporterUnusableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &Reporter{Dir: filepath.Join(file, "report")}
	s, err := r.Run(context.Background(), corpus())
	if err == nil {
		t.Fatal("expected error for unusable dir")
	}
	if s.Examples != 40 {
		t.Error("summary should still be returned")
	}
}

func TestSavePlotRecoversPanic(t *testing.T) {
	err := savePlot(filepath.Join(t.TempDir(), "x.png"), func() (*plot.Plot, error) { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v", err)
	}
}
