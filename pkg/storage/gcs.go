package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// GCSConfig holds construction parameters for the GCS backend.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	ProjectID       string
	CredentialsFile string // optional; application default credentials otherwise
}

// GCSBackend stores objects in one Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	logger *zap.Logger
}

// NewGCSBackend creates a GCS backend from cfg.
func NewGCSBackend(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSBackend, error) {
	if cfg.Bucket == "" {
		return nil, hgderrors.New(hgderrors.ErrorTypeConfig, "gcs bucket required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "failed to create GCS client")
	}

	return &GCSBackend{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With(zap.String("component", "gcs_backend"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

// Put streams r into a new object generation.
func (g *GCSBackend) Put(ctx context.Context, key string, r io.Reader) error {
	objectKey := joinKey(g.prefix, key)
	w := g.bucket.Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "gcs write failed").WithDetail("key", objectKey)
	}
	if err := w.Close(); err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "gcs finalize failed").WithDetail("key", objectKey)
	}
	g.logger.Debug("uploaded object", zap.String("key", objectKey))
	return nil
}

// Get opens a reader on the object.
func (g *GCSBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := joinKey(g.prefix, key)
	r, err := g.bucket.Object(objectKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, notFound(key, err)
	}
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "gcs read failed").WithDetail("key", objectKey)
	}
	return r, nil
}

// List iterates the objects under prefix.
func (g *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: joinKey(g.prefix, prefix)})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "gcs list failed").WithDetail("prefix", prefix)
		}
		key := attrs.Name
		if g.prefix != "" {
			key = strings.TrimPrefix(key, g.prefix+"/")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists fetches the object attributes.
func (g *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(joinKey(g.prefix, key)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "gcs attrs failed").WithDetail("key", key)
	}
	return true, nil
}

// URI returns a gs:// location.
func (g *GCSBackend) URI(key string) string {
	return "gs://" + g.name + "/" + joinKey(g.prefix, key)
}

// Close closes the client.
func (g *GCSBackend) Close() error { return g.client.Close() }
