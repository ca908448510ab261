package artifact

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MirrorConfig holds S3-compatible storage settings. An empty Endpoint
// disables mirroring.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether an endpoint is configured.
func (c MirrorConfig) Enabled() bool { return c.Endpoint != "" }

// Mirror copies artifact directories to and from a bucket.
type Mirror struct {
	client *minio.Client
	cfg    MirrorConfig
	log    *zap.Logger
}

// NewMirror creates a Mirror. No request is made until the first transfer.
func NewMirror(cfg MirrorConfig, log *zap.Logger) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror: endpoint and bucket are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return &Mirror{client: client, cfg: cfg, log: log}, nil
}

// ensureBucket creates the bucket if it does not exist.
func (m *Mirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		m.log.Info("bucket created", zap.String("bucket", m.cfg.Bucket))
	}
	return nil
}

// objectKey maps a file of the artifact named name to its object key.
func (m *Mirror) objectKey(name, rel string) string {
	return path.Join(m.cfg.Prefix, name, filepath.ToSlash(rel))
}

// Upload copies every regular file under dir to <prefix>/<name>/ and
// returns the number of objects written.
func (m *Mirror) Upload(ctx context.Context, dir, name string) (int, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return 0, err
	}
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := m.objectKey(name, rel)
		ct := mime.TypeByExtension(filepath.Ext(p))
		if ct == "" {
			ct = "application/octet-stream"
		}
		info, err := m.client.FPutObject(ctx, m.cfg.Bucket, key, p, minio.PutObjectOptions{ContentType: ct})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", rel, err)
		}
		m.log.Debug("uploaded", zap.String("key", key), zap.Int64("bytes", info.Size))
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	m.log.Info("artifact mirrored", zap.String("bucket", m.cfg.Bucket), zap.String("name", name), zap.Int("objects", n))
	return n, nil
}

// Download fetches <prefix>/<name>/ into dst.
func (m *Mirror) Download(ctx context.Context, name, dst string) (int, error) {
	prefix := m.objectKey(name, "") + "/"
	n := 0
	for obj := range m.client.ListObjects(ctx, m.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return n, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.Contains(rel, "..") {
			continue
		}
		local := filepath.Join(dst, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return n, err
		}
		if err := m.client.FGetObject(ctx, m.cfg.Bucket, obj.Key, local, minio.GetObjectOptions{}); err != nil {
			return n, fmt.Errorf("failed to download %s: %w", obj.Key, err)
		}
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no objects under %s/%s", m.cfg.Bucket, prefix)
	}
	return n, nil
}
