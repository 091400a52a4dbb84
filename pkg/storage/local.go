package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// LocalBackend stores objects as files below a root directory.
type LocalBackend struct {
	root string
}

// NewLocalBackend returns a backend rooted at root. The directory is created
// lazily on the first Put.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "invalid local storage root").
			WithDetail("root", root)
	}
	return &LocalBackend{root: abs}, nil
}

func (l *LocalBackend) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Put writes to a temporary file in the target directory and renames it
// into place so readers never observe a partial file.
func (l *LocalBackend) Put(_ context.Context, key string, r io.Reader) error {
	dst := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to create staging directory").
			WithDetail("path", filepath.Dir(dst))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to create temp file")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to write file").WithDetail("path", dst)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to close file").WithDetail("path", dst)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to move file into place").WithDetail("path", dst)
	}
	return nil
}

// Get opens the file for key.
func (l *LocalBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key)) //nolint:gosec // keys are built by the gateway
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key, err)
	}
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to open file").WithDetail("key", key)
	}
	return f, nil
}

// List walks the directory tree and returns the keys under prefix.
func (l *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	base := l.path(prefix)
	dir := base
	if !strings.HasSuffix(prefix, "/") && prefix != "" {
		dir = filepath.Dir(base)
	}

	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to list staging directory").
			WithDetail("prefix", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists stats the file for key.
func (l *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// URI returns the absolute file path.
func (l *LocalBackend) URI(key string) string { return l.path(key) }

// Close is a no-op.
func (l *LocalBackend) Close() error { return nil }
