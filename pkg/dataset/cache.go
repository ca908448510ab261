package dataset

import (
	"context"

	"go.uber.org/zap"

	"github.com/djeday123/reviewtune/pkg/store"
)

// CachedLoader serves datasets from the SQLite store, delegating to Next
// on a miss and caching what it returns.
type CachedLoader struct {
	Store *store.Store
	Next  Loader
	Log   *zap.Logger
}

// Load returns the cached splits, or fetches and caches them.
func (l *CachedLoader) Load(ctx context.Context, name string) (*Splits, error) {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}

	ok, err := l.Store.HasDataset(ctx, name)
	if err != nil {
		return nil, unavailable(name, err)
	}
	if ok {
		out := &Splits{Name: name}
		if out.Train, err = l.loadSplit(ctx, name, "train"); err != nil {
			return nil, unavailable(name, err)
		}
		if out.Test, err = l.loadSplit(ctx, name, "test"); err != nil {
			return nil, unavailable(name, err)
		}
		if err := validate(out); err != nil {
			return nil, unavailable(name, err)
		}
		log.Info("dataset cache hit", zap.String("dataset", name), zap.Int("train", len(out.Train)), zap.Int("test", len(out.Test)))
		return out, nil
	}

	out, err := l.Next.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	err = l.Store.SaveDataset(ctx, name, map[string][]store.Review{
		"train": toRows(out.Train),
		"test":  toRows(out.Test),
	})
	if err != nil {
		return nil, unavailable(name, err)
	}
	return out, nil
}

func (l *CachedLoader) loadSplit(ctx context.Context, name, split string) ([]Review, error) {
	rows, err := l.Store.LoadSplit(ctx, name, split)
	if err != nil {
		return nil, err
	}
	out := make([]Review, len(rows))
	for i, r := range rows {
		out[i] = Review{Text: r.Text, Label: Label(r.Label)}
	}
	return out, nil
}

func toRows(reviews []Review) []store.Review {
	out := make([]store.Review, len(reviews))
	for i, r := range reviews {
		out[i] = store.Review{Text: r.Text, Label: int(r.Label)}
	}
	return out
}
