package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/djeday123/reviewtune/pkg/hub"
)

// Source names a dataset on the Hub.
type Source struct {
	Repo   string
	Config string
}

// Aliases maps short names to Hub datasets.
var Aliases = map[string]Source{
	"imdb": {Repo: "stanfordnlp/imdb", Config: "plain_text"},
}

// RowScanner pages through a dataset split. *hub.Client implements it.
type RowScanner interface {
	ScanRows(ctx context.Context, dataset, config, split string, fn func(hub.RowEntry) error) error
}

// HubLoader reads the train and test splits through the datasets-server.
type HubLoader struct {
	Rows RowScanner
	Log  *zap.Logger
}

// NewHubLoader creates a loader backed by a Hub client.
func NewHubLoader(rows RowScanner, log *zap.Logger) *HubLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &HubLoader{Rows: rows, Log: log}
}

// Resolve maps an alias to its Hub source; unknown names are used as repo
// ids with the default config.
func Resolve(name string) Source {
	if src, ok := Aliases[name]; ok {
		return src
	}
	return Source{Repo: name}
}

type hubRow struct {
	Text  *string `json:"text"`
	Label *int    `json:"label"`
}

// Load fetches both splits. Every row must carry a string text and an
// integer label.
func (l *HubLoader) Load(ctx context.Context, name string) (*Splits, error) {
	src := Resolve(name)
	out := &Splits{Name: name}
	for _, split := range []struct {
		name string
		dst  *[]Review
	}{{"train", &out.Train}, {"test", &out.Test}} {
		err := l.Rows.ScanRows(ctx, src.Repo, src.Config, split.name, func(e hub.RowEntry) error {
			var r hubRow
			if err := json.Unmarshal(e.Row, &r); err != nil {
				return fmt.Errorf("%s row %d: %w", split.name, e.RowIdx, err)
			}
			if r.Text == nil || r.Label == nil {
				return fmt.Errorf("%s row %d: missing text or label field", split.name, e.RowIdx)
			}
			*split.dst = append(*split.dst, Review{Text: *r.Text, Label: Label(*r.Label)})
			return nil
		})
		if err != nil {
			return nil, unavailable(name, err)
		}
		l.Log.Info("split loaded", zap.String("dataset", src.Repo), zap.String("split", split.name), zap.Int("rows", len(*split.dst)))
	}
	if err := validate(out); err != nil {
		return nil, unavailable(name, err)
	}
	return out, nil
}
