package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JSONLLoader reads <Dir>/<name>/train.jsonl and test.jsonl, falling back
// to <Dir>/train.jsonl when the named subdirectory does not exist.
type JSONLLoader struct {
	Dir string
}

// Load reads both splits from disk.
func (l JSONLLoader) Load(ctx context.Context, name string) (*Splits, error) {
	dir := filepath.Join(l.Dir, name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		dir = l.Dir
	}
	out := &Splits{Name: name}
	var err error
	if out.Train, err = ReadJSONL(filepath.Join(dir, "train.jsonl")); err != nil {
		return nil, unavailable(name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(name, err)
	}
	if out.Test, err = ReadJSONL(filepath.Join(dir, "test.jsonl")); err != nil {
		return nil, unavailable(name, err)
	}
	if err := validate(out); err != nil {
		return nil, unavailable(name, err)
	}
	return out, nil
}

// ReadJSONL parses one {"text": ..., "label": ...} object per line.
// Blank lines are skipped.
func ReadJSONL(path string) ([]Review, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Review
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var r hubRow
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if r.Text == nil || r.Label == nil {
			return nil, fmt.Errorf("%s:%d: missing text or label", path, line)
		}
		out = append(out, Review{Text: *r.Text, Label: Label(*r.Label)})
	}
	return out, sc.Err()
}

// WriteJSONL writes reviews one object per line.
func WriteJSONL(path string, reviews []Review) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range reviews {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
