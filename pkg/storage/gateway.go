package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/compression"
	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
)

// PlainExtension is the extension of uncompressed table files.
const PlainExtension = ".csv"

// Gateway saves and loads tables through a Backend using the staging layout.
type Gateway struct {
	backend    Backend
	compressed map[string]bool
	compressor compression.Compressor
	logger     *zap.Logger
}

// Open constructs the configured backend and wraps it in a Gateway.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Gateway, error) {
	backend, err := NewBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewGateway(backend, cfg, logger)
}

// NewGateway wraps backend. cfg supplies the compressed table list and the
// compression algorithm.
func NewGateway(backend Backend, cfg config.StorageConfig, logger *zap.Logger) (*Gateway, error) {
	algorithm, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "invalid storage compression")
	}
	if algorithm == compression.None {
		return nil, hgderrors.New(hgderrors.ErrorTypeConfig, "compressed tables need a compression algorithm")
	}
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm, Level: compression.Default})
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "invalid storage compression")
	}

	compressed := make(map[string]bool, len(cfg.CompressedTables))
	for _, name := range cfg.CompressedTables {
		compressed[name] = true
	}

	return &Gateway{
		backend:    backend,
		compressed: compressed,
		compressor: comp,
		logger:     logger.With(zap.String("component", "storage_gateway")),
	}, nil
}

// Extension returns the file extension used for table name.
func (g *Gateway) Extension(name string) string {
	if g.compressed[name] {
		return g.compressor.Extension()
	}
	return PlainExtension
}

// Key returns the staging key of a table.
func (g *Gateway) Key(name, source string, tableType TableType) string {
	return path.Join("data", string(tableType), source, source+"_human_"+name+g.Extension(name))
}

// URI renders a key as a backend location for logs and CLI output.
func (g *Gateway) URI(key string) string {
	return g.backend.URI(key)
}

// Save writes t under its staging key and returns the key.
func (g *Gateway) Save(ctx context.Context, t *models.Table, name, source string, tableType TableType) (string, error) {
	key := g.Key(name, source, tableType)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(g.encode(pw, t, name))
	}()

	if err := g.backend.Put(ctx, key, pr); err != nil {
		_ = pr.CloseWithError(err)
		return "", hgderrors.Wrap(err, hgderrors.TypeOf(err), "failed to save table").
			WithDetail("table", name).WithDetail("key", key)
	}

	g.logger.Info("saved table",
		zap.String("table", name),
		zap.String("source", source),
		zap.String("type", string(tableType)),
		zap.Int("rows", t.Len()),
		zap.String("location", g.backend.URI(key)))
	return key, nil
}

func (g *Gateway) encode(w io.Writer, t *models.Table, name string) error {
	if !g.compressed[name] {
		return EncodeCSV(w, t)
	}
	cw, err := g.compressor.NewWriter(w)
	if err != nil {
		return err
	}
	if err := EncodeCSV(cw, t); err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}

// Load reads the table staged for name.
func (g *Gateway) Load(ctx context.Context, name string, tableType TableType, source string) (*models.Table, error) {
	return g.Read(ctx, g.Key(name, source, tableType), name)
}

// Read decodes the table stored at key. The encoding is chosen from the
// key's extension.
func (g *Gateway) Read(ctx context.Context, key, name string) (*models.Table, error) {
	rc, err := g.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if algorithm, ok := compression.ForExtension(path.Ext(key)); ok {
		comp, err := compression.NewCompressor(&compression.Config{Algorithm: algorithm})
		if err != nil {
			return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeData, "unsupported file encoding").WithDetail("key", key)
		}
		dr, err := comp.NewReader(rc)
		if err != nil {
			return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeData, "corrupt compressed file").WithDetail("key", key)
		}
		defer dr.Close()
		r = dr
	}

	t, err := DecodeCSV(r, name)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("loaded table", zap.String("table", name), zap.Int("rows", t.Len()), zap.String("key", key))
	return t, nil
}

// Find lists staged files for table matching
// <source>_human_<table>*<ext> in the given tier, in lexical order.
func (g *Gateway) Find(ctx context.Context, source, table string, tableType TableType) ([]string, error) {
	dir := path.Join("data", string(tableType), source) + "/"
	keys, err := g.backend.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	pattern := source + "_human_" + table + "*" + g.Extension(table)
	var matches []string
	for _, key := range keys {
		base := strings.TrimPrefix(key, dir)
		if strings.Contains(base, "/") {
			continue
		}
		if ok, _ := path.Match(pattern, base); ok {
			matches = append(matches, key)
		}
	}
	return matches, nil
}

// PutObject stores an opaque object, such as a downloaded bulk file.
func (g *Gateway) PutObject(ctx context.Context, key string, r io.Reader) error {
	return g.backend.Put(ctx, key, r)
}

// GetObject opens an opaque object.
func (g *Gateway) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	return g.backend.Get(ctx, key)
}

// Close releases the backend.
func (g *Gateway) Close() error {
	return g.backend.Close()
}
