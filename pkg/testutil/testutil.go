// Package testutil provides shared fixtures for HGD tests: loggers,
// contexts, offline configurations and in-memory staging.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/storage"
)

// TestLogger creates a logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestConfig returns a LOCAL profile that never leaves the machine: memory
// staging, a sqlite sink in a temp directory, no retries, no rate limit and
// no circuit breaker. Source URLs point at baseURL.
func TestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	cfg, err := config.ForSpace(config.SpaceLocal)
	require.NoError(t, err)

	cfg.Storage.Backend = "memory"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:" + filepath.Join(t.TempDir(), "hgd.db")
	cfg.Sources.KEGG.BaseURL = baseURL
	cfg.Sources.NCBI.EutilsURL = baseURL
	cfg.Sources.NCBI.FTPURL = baseURL
	cfg.Reliability.RetryAttempts = 0
	unlimited := 0.0
	cfg.Reliability.RateLimitPerSec = &unlimited
	cfg.Reliability.CircuitBreaker = false
	cfg.Performance.TableTimeout = 30 * time.Second
	return cfg
}

// MemoryGateway returns a gateway over a fresh memory backend.
func MemoryGateway(t *testing.T, cfg config.StorageConfig) *storage.Gateway {
	t.Helper()

	gw, err := storage.NewGateway(storage.NewMemoryBackend(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

// Table builds a table from column names and positional rows.
func Table(name string, columns []string, rows ...[]any) *models.Table {
	t := models.NewTable(name, columns...)
	for _, values := range rows {
		r := make(models.Row, len(columns))
		for i, col := range columns {
			if i < len(values) {
				r[col] = values[i]
			} else {
				r[col] = nil
			}
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

// Rows returns col's values as text, with null rendered as "<nil>".
func Rows(t *models.Table, col string) []string {
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		if models.IsNull(r[col]) {
			out[i] = "<nil>"
		} else {
			out[i] = models.Text(r[col])
		}
	}
	return out
}
