// Package metrics provides Prometheus instrumentation for the HGD pipeline.
//
// # Overview
//
// The package exposes pre-registered metrics for every stage of a refresh:
//   - table refresh outcomes and durations per source and table
//   - rows written to staging and to the database sink
//   - Entrez batch fetches and record count skew
//   - remote request latency per host and circuit breaker state
//   - staging fallbacks to live extraction
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	outputs, err := refresh(ctx, table)
//	metrics.ObserveRefresh("ncbi", "gene2go", timer.Stop(), err)
//
//	// expose /metrics until ctx is cancelled
//	go metrics.Serve(ctx, ":9090", logger)
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pre-defined metrics
var (
	// TablesRefreshed counts table refreshes by outcome
	TablesRefreshed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hgd_tables_refreshed_total",
			Help: "Total number of table refreshes",
		},
		[]string{"source", "table", "status"},
	)

	// RefreshDuration tracks extract + transform + persist time per table
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hgd_table_refresh_duration_seconds",
			Help:    "Table refresh duration in seconds",
			Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"source", "table"},
	)

	// RowsWritten counts rows persisted per stage (raw, processed, sink)
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hgd_rows_written_total",
			Help: "Total number of rows written",
		},
		[]string{"stage", "table"},
	)

	// FetchBatches counts Entrez summary batches by outcome
	FetchBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hgd_fetch_batches_total",
			Help: "Total number of paginated fetch batches",
		},
		[]string{"db", "status"},
	)

	// CountSkew counts paginated fetches whose row count differed from the
	// reported total
	CountSkew = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hgd_fetch_count_skew_total",
			Help: "Paginated fetches where accumulated rows differed from the reported count",
		},
		[]string{"db"},
	)

	// StagingFallbacks counts staging misses recovered by live extraction
	StagingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hgd_staging_fallbacks_total",
			Help: "Staging misses that fell back to live extraction",
		},
		[]string{"source", "table"},
	)

	// RemoteRequestDuration tracks HTTP latency per host and status class
	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hgd_remote_request_duration_seconds",
			Help:    "Remote request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"host", "status"},
	)

	// CircuitState reports the breaker state per host (0 closed, 1 open, 2 half-open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hgd_circuit_breaker_state",
			Help: "Circuit breaker state per remote host",
		},
		[]string{"host"},
	)

	// InFlightTables is the number of table refreshes currently running
	InFlightTables = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hgd_tables_in_flight",
			Help: "Table refreshes currently running",
		},
	)
)

// ObserveRefresh records the outcome and duration of one table refresh.
func ObserveRefresh(source, table string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	TablesRefreshed.WithLabelValues(source, table, status).Inc()
	RefreshDuration.WithLabelValues(source, table).Observe(d.Seconds())
}

// StatusClass buckets an HTTP status code ("2xx", "4xx", ...) or "error"
// when no response was received.
func StatusClass(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Timer measures elapsed time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting metrics server", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
