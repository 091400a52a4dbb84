// Package storage persists tables as delimited files under a structured
// staging layout on a local directory or an object storage bucket.
//
// Every table lives at
//
//	data/<table_type>/<source>/<source>_human_<table>.<ext>
//
// where table_type is raw or processed and ext is ".csv" for plain tables
// or the compressor's extension (".gz" by default) for compressed ones.
// Save and Load apply the same naming rule, so a table round-trips through
// the Gateway regardless of backend.
package storage

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// TableType is the staging tier of a table.
type TableType string

const (
	// Raw holds tables exactly as extracted from a source
	Raw TableType = "raw"
	// Processed holds normalized canonical tables and lookups
	Processed TableType = "processed"
)

// Backend stores opaque objects addressed by slash-separated keys.
type Backend interface {
	// Put writes the object, replacing any previous content
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens the object; a missing key is an ErrorTypeNotFound error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the keys under prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)
	// URI renders key as a human-readable location
	URI(key string) string
	// Close releases client resources
	Close() error
}

// NewBackend constructs the backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalBackend(cfg.LocalRoot)
	case "memory":
		return NewMemoryBackend(), nil
	case "s3":
		return NewS3Backend(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
			PartSize:  cfg.UploadPartSize,
		}, logger)
	case "gcs":
		return NewGCSBackend(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			ProjectID:       cfg.ProjectID,
			CredentialsFile: cfg.CredentialsFile,
		}, logger)
	default:
		return nil, hgderrors.Newf(hgderrors.ErrorTypeConfig, "unsupported storage backend: %q", cfg.Backend)
	}
}

func notFound(key string, cause error) error {
	if cause == nil {
		return hgderrors.New(hgderrors.ErrorTypeNotFound, "object not found").WithDetail("key", key)
	}
	return hgderrors.Wrap(cause, hgderrors.ErrorTypeNotFound, "object not found").WithDetail("key", key)
}

// joinKey prefixes key with prefix when one is configured.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
