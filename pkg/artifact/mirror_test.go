package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

// s3Server answers the path-style S3 calls Upload makes: bucket location,
// HEAD bucket, PUT bucket and PUT object.
type s3Server struct {
	mu          sync.Mutex
	buckets     map[string]bool
	objects     map[string]int64
	makeBuckets int
}

func newS3Server() *s3Server {
	return &s3Server{buckets: map[string]bool{}, objects: map[string]int64{}}
}

func (s *s3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Query().Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`)
	case key == "" && r.Method == http.MethodHead:
		if !s.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
		}
	case key == "" && r.Method == http.MethodPut:
		s.buckets[bucket] = true
		s.makeBuckets++
	case key != "" && r.Method == http.MethodPut:
		if !s.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		n, _ := io.Copy(io.Discard, r.Body)
		s.objects[bucket+"/"+key] = n
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (s *s3Server) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestMirrorUpload(t *testing.T) {
	stub := newS3Server()
	srv := httptest.NewServer(stub)
	defer srv.Close()

	dir := t.TempDir()
	files := map[string]string{
		ConfigFile:                    `{"model_type":"bert"}`,
		filepath.Join("sub", "x.txt"): "hello",
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	mr, err := NewMirror(MirrorConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "models",
		Prefix:    "runs",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		n, err := mr.Upload(ctx, dir, "imdb-bert")
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
		if n != 2 {
			t.Errorf("upload %d wrote %d objects, want 2", i, n)
		}
	}
	stub.mu.Lock()
	made := stub.makeBuckets
	stub.mu.Unlock()
	if made != 1 {
		t.Errorf("bucket created %d times, want 1", made)
	}
	want := []string{"models/runs/imdb-bert/config.json", "models/runs/imdb-bert/sub/x.txt"}
	got := stub.keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("objects = %v, want %v", got, want)
	}
}
