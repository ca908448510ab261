package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/djeday123/reviewtune/pkg/hub"
	"github.com/djeday123/reviewtune/pkg/store"
)

func TestLabelSentiment(t *testing.T) {
	if Positive.Sentiment() != "Positive" || Negative.Sentiment() != "Negative" {
		t.Error("wrong sentiment strings")
	}
	if Label(2).Valid() || !Positive.Valid() {
		t.Error("Valid() wrong")
	}
}

func TestSubsample(t *testing.T) {
	reviews := make([]Review, 50)
	for i := range reviews {
		reviews[i] = Review{Text: strconv.Itoa(i), Label: Label(i % 2)}
	}
	a := Subsample(reviews, 10, 1)
	b := Subsample(reviews, 10, 1)
	if len(a) != 10 {
		t.Fatalf("len = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("subsample not deterministic")
		}
		if i > 0 {
			prev, _ := strconv.Atoi(a[i-1].Text)
			cur, _ := strconv.Atoi(a[i].Text)
			if cur <= prev {
				t.Fatal("subsample does not keep order")
			}
		}
	}
	if got := Subsample(reviews, 0, 1); len(got) != 50 {
		t.Error("n=0 must keep everything")
	}
}

// rowsServer serves n rows per split, with text "<split> <i>".
func rowsServer(t *testing.T, n int, rowFn func(split string, i int) map[string]any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offset, _ := strconv.Atoi(q.Get("offset"))
		length, _ := strconv.Atoi(q.Get("length"))
		page := hub.RowsPage{NumRowsTotal: n}
		for i := offset; i < min(offset+length, n); i++ {
			row, _ := json.Marshal(rowFn(q.Get("split"), i))
			page.Rows = append(page.Rows, hub.RowEntry{RowIdx: i, Row: row})
		}
		json.NewEncoder(w).Encode(page)
	}))
}

func TestHubLoader(t *testing.T) {
	srv := rowsServer(t, 150, func(split string, i int) map[string]any {
		return map[string]any{"text": fmt.Sprintf("%s %d", split, i), "label": i % 2}
	})
	defer srv.Close()

	c := hub.New(hub.Options{RowsEndpoint: srv.URL, CacheDir: t.TempDir()}, nil)
	splits, err := NewHubLoader(c, nil).Load(context.Background(), "imdb")
	if err != nil {
		t.Fatal(err)
	}
	if len(splits.Train) != 150 || len(splits.Test) != 150 {
		t.Fatalf("sizes %d/%d", len(splits.Train), len(splits.Test))
	}
	if splits.Train[3].Text != "train 3" || splits.Train[3].Label != Positive || splits.Test[0].Text != "test 0" {
		t.Errorf("unexpected rows %+v %+v", splits.Train[3], splits.Test[0])
	}
}

func TestHubLoaderRejectsBadRows(t *testing.T) {
	tests := map[string]func(string, int) map[string]any{
		"missing label": func(string, int) map[string]any { return map[string]any{"text": "x"} },
		"bad label":     func(string, int) map[string]any { return map[string]any{"text": "x", "label": 3} },
		"wrong type":    func(string, int) map[string]any { return map[string]any{"text": 5, "label": 1} },
	}
	for name, rowFn := range tests {
		t.Run(name, func(t *testing.T) {
			srv := rowsServer(t, 3, rowFn)
			defer srv.Close()
			c := hub.New(hub.Options{RowsEndpoint: srv.URL, CacheDir: t.TempDir()}, nil)
			_, err := NewHubLoader(c, nil).Load(context.Background(), "imdb")
			var de *DatasetUnavailableError
			if !errors.As(err, &de) || de.Name != "imdb" {
				t.Fatalf("err = %v, want *DatasetUnavailableError", err)
			}
		})
	}
}

func TestHubLoaderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := hub.New(hub.Options{RowsEndpoint: srv.URL, CacheDir: t.TempDir()}, nil)
	_, err := NewHubLoader(c, nil).Load(context.Background(), "imdb")

	var he *hub.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want wrapped *hub.HTTPError", err)
	}
}

func writeSplits(t *testing.T, dir string) {
	t.Helper()
	train := []Review{{"good film", Positive}, {"bad film", Negative}}
	test := []Review{{"okay", Positive}}
	if err := WriteJSONL(filepath.Join(dir, "train.jsonl"), train); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSONL(filepath.Join(dir, "test.jsonl"), test); err != nil {
		t.Fatal(err)
	}
}

func TestJSONLLoader(t *testing.T) {
	dir := t.TempDir()
	writeSplits(t, dir)

	s, err := JSONLLoader{Dir: dir}.Load(context.Background(), "imdb")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Train) != 2 || s.Train[1].Label != Negative || s.Test[0].Text != "okay" {
		t.Errorf("splits = %+v", s)
	}

	if _, err := (JSONLLoader{Dir: t.TempDir()}).Load(context.Background(), "imdb"); err == nil {
		t.Error("expected error for missing files")
	}
}

type countingLoader struct {
	inner Loader
	calls int
}

func (c *countingLoader) Load(ctx context.Context, name string) (*Splits, error) {
	c.calls++
	return c.inner.Load(ctx, name)
}

func TestCachedLoader(t *testing.T) {
	dir := t.TempDir()
	writeSplits(t, dir)
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	next := &countingLoader{inner: JSONLLoader{Dir: dir}}
	l := &CachedLoader{Store: st, Next: next}
	first, err := l.Load(context.Background(), "imdb")
	if err != nil {
		t.Fatal(err)
	}

	os.Remove(filepath.Join(dir, "train.jsonl"))
	second, err := l.Load(context.Background(), "imdb")
	if err != nil {
		t.Fatal(err)
	}
	if next.calls != 1 {
		t.Errorf("inner loader called %d times", next.calls)
	}
	if len(second.Train) != len(first.Train) || second.Train[0] != first.Train[0] {
		t.Errorf("cached train = %+v", second.Train)
	}
}
