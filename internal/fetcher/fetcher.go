// Package fetcher drives two-phase record searches: a search submission
// returns a server-side handle, then the records are retrieved in fixed-size
// batches until the reported count is reached.
//
// The handle is never persisted. Accumulation is append-only and held in
// memory; a count that drifts between the phases is logged and counted but
// never fails the fetch.
package fetcher

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/metrics"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/observability"
	"github.com/humangenomedb/hgd/pkg/retry"
)

// IDColumn receives each document's identifier attribute.
const IDColumn = "uid"

// DefaultBatchSize is the number of records requested per batch.
const DefaultBatchSize = 5000

// Handle is the extraction state returned by a search submission.
type Handle struct {
	DB       string
	WebEnv   string
	QueryKey string
	Count    int
}

// Document is one retrieved record. UID is carried as an attribute rather
// than a field and is merged into the row on flattening.
type Document struct {
	UID    string
	Fields map[string]any
}

// Client is the remote side of the protocol.
type Client interface {
	// Search submits term against db and returns the result handle.
	Search(ctx context.Context, db, term string) (Handle, error)
	// Summary returns up to retmax documents starting at retstart.
	Summary(ctx context.Context, h Handle, retstart, retmax int) ([]Document, error)
}

// Fetcher accumulates every record of a search.
type Fetcher struct {
	client    Client
	batchSize int
	retry     *retry.Policy
	logger    *zap.Logger
}

// New creates a Fetcher. A non-positive batchSize uses DefaultBatchSize and
// a nil policy disables batch retries.
func New(client Client, batchSize int, policy *retry.Policy, logger *zap.Logger) *Fetcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if policy == nil {
		policy = retry.NoRetry()
	}
	return &Fetcher{
		client:    client,
		batchSize: batchSize,
		retry:     policy,
		logger:    logger.With(zap.String("component", "fetcher")),
	}
}

// BatchSize returns the configured page size.
func (f *Fetcher) BatchSize() int { return f.batchSize }

// FetchAll searches db for term and retrieves every record into a table
// named after db. The search is not retried; batch retrievals are retried
// for transient errors. Cancelling ctx stops the loop between batches.
func (f *Fetcher) FetchAll(ctx context.Context, db, term string) (*models.Table, error) {
	logger := f.logger.With(zap.String("db", db))

	h, err := f.client.Search(ctx, db, term)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.TypeOf(err), "search submission failed").
			WithDetail("db", db).
			WithDetail("term", term)
	}
	if h.DB == "" {
		h.DB = db
	}
	logger.Info("search submitted", zap.Int("count", h.Count), zap.Int("batch_size", f.batchSize))

	var rows []models.Row
	for retstart := 0; retstart < h.Count; retstart += f.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeInternal, "fetch cancelled").
				WithDetail("db", db).
				WithDetail("retstart", retstart)
		}

		docs, err := f.fetchBatch(ctx, h, retstart)
		if err != nil {
			metrics.FetchBatches.WithLabelValues(db, "failure").Inc()
			return nil, hgderrors.Wrap(err, hgderrors.TypeOf(err), "batch fetch failed").
				WithDetail("db", db).
				WithDetail("retstart", retstart)
		}
		metrics.FetchBatches.WithLabelValues(db, "success").Inc()

		for _, doc := range docs {
			rows = append(rows, Flatten(doc))
		}
		logger.Debug("fetched batch", zap.Int("retstart", retstart), zap.Int("records", len(docs)))
	}

	if len(rows) != h.Count {
		metrics.CountSkew.WithLabelValues(db).Inc()
		logger.Warn("record count drifted during fetch",
			zap.Int("expected", h.Count),
			zap.Int("actual", len(rows)))
	}

	return &models.Table{Name: db, Columns: columnsOf(rows), Rows: rows}, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, h Handle, retstart int) ([]Document, error) {
	ctx, span := observability.StartSpan(ctx, "fetcher.batch",
		attribute.String("db", h.DB),
		attribute.Int("retstart", retstart))

	var docs []Document
	err := f.retry.Do(ctx, "summary "+h.DB, f.logger, func(ctx context.Context) error {
		var err error
		docs, err = f.client.Summary(ctx, h, retstart, f.batchSize)
		return err
	})
	span.SetAttributes(attribute.Int("records", len(docs)))
	observability.EndSpan(span, err)
	return docs, err
}

// Flatten merges a document's identifier into a copy of its fields.
func Flatten(doc Document) models.Row {
	row := make(models.Row, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		row[k] = v
	}
	row[IDColumn] = doc.UID
	return row
}

// columnsOf returns IDColumn followed by every other key in sorted order.
func columnsOf(rows []models.Row) []string {
	seen := map[string]bool{IDColumn: true}
	var rest []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	return append([]string{IDColumn}, rest...)
}
