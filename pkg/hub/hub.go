// Package hub talks to the Hugging Face Hub: model file downloads into a
// local cache and the datasets-server rows API.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint     = "https://huggingface.co"
	DefaultRowsEndpoint = "https://datasets-server.huggingface.co"

	// MaxPageSize is the most rows the datasets-server returns per request.
	MaxPageSize = 100

	userAgent = "reviewtune/1.0"
)

// Options configures a Client. Zero values select the public endpoints,
// HF_TOKEN from the environment and ~/.cache/reviewtune/hub.
type Options struct {
	Endpoint     string        `yaml:"endpoint"`
	RowsEndpoint string        `yaml:"rows_endpoint"`
	Token        string        `yaml:"token"`
	CacheDir     string        `yaml:"cache_dir"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Client is a Hub client. It is safe for concurrent use.
type Client struct {
	endpoint     string
	rowsEndpoint string
	token        string
	cacheDir     string
	http         *http.Client
	log          *zap.Logger
}

// New creates a client.
func New(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		rowsEndpoint: strings.TrimRight(opts.RowsEndpoint, "/"),
		token:        opts.Token,
		cacheDir:     opts.CacheDir,
		http:         &http.Client{Timeout: opts.Timeout},
		log:          log,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.rowsEndpoint == "" {
		c.rowsEndpoint = DefaultRowsEndpoint
	}
	if c.token == "" {
		c.token = os.Getenv("HF_TOKEN")
	}
	if c.cacheDir == "" {
		if home, err := os.UserCacheDir(); err == nil {
			c.cacheDir = filepath.Join(home, "reviewtune", "hub")
		} else {
			c.cacheDir = filepath.Join(os.TempDir(), "reviewtune-hub")
		}
	}
	if opts.Timeout == 0 {
		c.http.Timeout = 10 * time.Minute
	}
	return c
}

// CacheDir returns the directory downloads are cached in.
func (c *Client) CacheDir() string { return c.cacheDir }

// HTTPError is a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg += " (authentication required, set HF_TOKEN)"
	case http.StatusTooManyRequests:
		msg += " (rate limited)"
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// Download fetches one file of a model repository (main revision) into
// the cache and returns its local path. Cached files are not refetched.
func (c *Client) Download(ctx context.Context, repo, file string) (string, error) {
	dst := filepath.Join(c.cacheDir, repoDir(repo), filepath.FromSlash(file))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	src := fmt.Sprintf("%s/%s/resolve/main/%s", c.endpoint, repo, file)
	start := time.Now()
	resp, err := c.get(ctx, src)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	tmp := dst + "." + uuid.NewString() + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("download %s: %w", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", err
	}
	c.log.Info("downloaded",
		zap.String("repo", repo),
		zap.String("file", file),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)))
	return dst, nil
}

// Snapshot downloads files of a repository and returns the directory that
// holds them.
func (c *Client) Snapshot(ctx context.Context, repo string, files ...string) (string, error) {
	for _, f := range files {
		if _, err := c.Download(ctx, repo, f); err != nil {
			return "", err
		}
	}
	return filepath.Join(c.cacheDir, repoDir(repo)), nil
}

func repoDir(repo string) string {
	return "models--" + strings.ReplaceAll(repo, "/", "--")
}

// RowsPage is one response of the datasets-server rows endpoint.
type RowsPage struct {
	Rows         []RowEntry `json:"rows"`
	NumRowsTotal int        `json:"num_rows_total"`
}

// RowEntry is a single dataset row; Row holds the raw feature object.
type RowEntry struct {
	RowIdx int             `json:"row_idx"`
	Row    json.RawMessage `json:"row"`
}

// Rows fetches one page of rows.
func (c *Client) Rows(ctx context.Context, dataset, config, split string, offset, length int) (*RowsPage, error) {
	q := url.Values{}
	q.Set("dataset", dataset)
	if config != "" {
		q.Set("config", config)
	}
	q.Set("split", split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(min(length, MaxPageSize)))

	resp, err := c.get(ctx, c.rowsEndpoint+"/rows?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page RowsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode rows page at offset %d: %w", offset, err)
	}
	return &page, nil
}

// ScanRows pages through a whole split, MaxPageSize rows per request,
// calling fn for every row in order. It stops at num_rows_total or at the
// first empty page.
func (c *Client) ScanRows(ctx context.Context, dataset, config, split string, fn func(RowEntry) error) error {
	offset := 0
	for {
		page, err := c.Rows(ctx, dataset, config, split, offset, MaxPageSize)
		if err != nil {
			return err
		}
		if len(page.Rows) == 0 {
			return nil
		}
		for _, r := range page.Rows {
			if err := fn(r); err != nil {
				return err
			}
		}
		offset += len(page.Rows)
		c.log.Debug("rows", zap.String("dataset", dataset), zap.String("split", split), zap.Int("offset", offset), zap.Int("total", page.NumRowsTotal))
		if page.NumRowsTotal > 0 && offset >= page.NumRowsTotal {
			return nil
		}
	}
}
