package report

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/djeday123/reviewtune/pkg/dataset"
)

// Output file names.
const (
	LabelCountsPlot = "label_counts.png"
	TokenCountsPlot = "token_counts.png"
	SummaryFile     = "summary.json"
)

var labelColors = map[dataset.Label]color.Color{
	dataset.Negative: color.RGBA{R: 214, G: 69, B: 65, A: 160},
	dataset.Positive: color.RGBA{R: 46, G: 134, B: 193, A: 160},
}

// Reporter writes a corpus summary and its plots into Dir.
type Reporter struct {
	Dir  string
	Bins int // histogram bins, default 50
	Log  *zap.Logger
}

// Run summarises train and renders the plots. Plot failures, panics
// included, are recorded in Summary.PlotErrors and never fail the run; an
// error is returned only when Dir cannot be created.
func (r *Reporter) Run(ctx context.Context, train []dataset.Review) (Summary, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := Summarize(train)
	log.Info("corpus summary",
		zap.Int("examples", s.Examples),
		zap.Int("negative", s.LabelCounts[dataset.Negative]),
		zap.Int("positive", s.LabelCounts[dataset.Positive]),
		zap.Stringer("tokens", s.Tokens))

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return s, fmt.Errorf("report dir: %w", err)
	}

	plots := []struct {
		name   string
		render func(Summary) (*plot.Plot, error)
	}{
		{LabelCountsPlot, labelCountsPlot},
		{TokenCountsPlot, func(s Summary) (*plot.Plot, error) { return tokenCountsPlot(s, train, r.bins()) }},
	}
	for _, p := range plots {
		if ctx.Err() != nil {
			s.PlotErrors = append(s.PlotErrors, fmt.Sprintf("%s: %v", p.name, ctx.Err()))
			continue
		}
		path := filepath.Join(r.Dir, p.name)
		if err := savePlot(path, func() (*plot.Plot, error) { return p.render(s) }); err != nil {
			log.Warn("plot failed", zap.String("plot", p.name), zap.Error(err))
			s.PlotErrors = append(s.PlotErrors, fmt.Sprintf("%s: %v", p.name, err))
			continue
		}
		s.Plots = append(s.Plots, path)
	}

	if data, err := json.MarshalIndent(s, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(r.Dir, SummaryFile), data, 0o644); err != nil {
			log.Warn("summary not written", zap.Error(err))
		}
	}
	return s, nil
}

func (r *Reporter) bins() int {
	if r.Bins > 0 {
		return r.Bins
	}
	return 50
}

// savePlot renders and saves one plot, converting a panic into an error.
func savePlot(path string, render func() (*plot.Plot, error)) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	p, err := render()
	if err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

func labelCountsPlot(s Summary) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Label distribution"
	p.Y.Label.Text = "reviews"

	ls := labelsOf(s.LabelCounts)
	values := make(plotter.Values, len(ls))
	names := make([]string, len(ls))
	for i, l := range ls {
		values[i] = float64(s.LabelCounts[l])
		names[i] = l.Sentiment()
	}
	bars, err := plotter.NewBarChart(values, vg.Points(40))
	if err != nil {
		return nil, err
	}
	bars.Color = color.RGBA{R: 46, G: 134, B: 193, A: 255}
	p.Add(bars)
	p.NominalX(names...)
	return p, nil
}

// tokenCountsPlot draws one histogram series per label; s.TokenCounts is
// aligned with train.
func tokenCountsPlot(s Summary, train []dataset.Review, bins int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Tokens per review"
	p.X.Label.Text = "whitespace tokens"
	p.Y.Label.Text = "reviews"

	byLabel := map[dataset.Label]plotter.Values{}
	for i, r := range train {
		byLabel[r.Label] = append(byLabel[r.Label], float64(s.TokenCounts[i]))
	}
	for _, l := range labelsOf(s.LabelCounts) {
		h, err := plotter.NewHist(byLabel[l], bins)
		if err != nil {
			return nil, fmt.Errorf("%s histogram: %w", l.Sentiment(), err)
		}
		if c, ok := labelColors[l]; ok {
			h.FillColor = c
		}
		p.Add(h)
		p.Legend.Add(l.Sentiment(), h)
	}
	p.Legend.Top = true
	return p, nil
}
