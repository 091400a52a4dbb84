package pipeline

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/logger"
	"github.com/humangenomedb/hgd/pkg/metrics"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/observability"
	"github.com/humangenomedb/hgd/pkg/storage"
)

// Options control one orchestrator run.
type Options struct {
	// AutoExtract fetches fresh raw data instead of reading staging
	AutoExtract bool
	// InMemory returns output tables instead of staging them
	InMemory bool
	// Workers bounds concurrent table refreshes; 1 is sequential
	Workers int
	// TableTimeout bounds one table refresh; 0 disables it
	TableTimeout time.Duration
}

// OptionsFrom derives options from the configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		InMemory:     cfg.InMemory,
		Workers:      cfg.Performance.GetWorkers(),
		TableTimeout: cfg.Performance.TableTimeout,
	}
}

// Result is one output table: the data itself in memory mode, or the
// staging key it was saved under.
type Result struct {
	Table    *models.Table
	Location string
}

// Outputs maps output table names to results.
type Outputs map[string]Result

// Names returns the output names in sorted order.
func (o Outputs) Names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TableResult is the outcome of refreshing one registered table.
type TableResult struct {
	Source  string
	Table   string
	Outputs Outputs
	Err     error
}

// workingState is the per-table scratch space. A fresh value is created
// for every table so nothing leaks between tables of one batch.
type workingState struct {
	raw       *models.Table
	processed Output
}

// Orchestrator refreshes the tables of one source.
type Orchestrator struct {
	source  Source
	gateway *storage.Gateway
	opts    Options
	logger  *zap.Logger
}

// NewOrchestrator creates an orchestrator for source.
func NewOrchestrator(source Source, gateway *storage.Gateway, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Orchestrator{
		source:  source,
		gateway: gateway,
		opts:    opts,
		logger:  logger.With(zap.String("component", "orchestrator"), zap.String("source", source.Name())),
	}
}

// Validate checks that every name is registered.
func (o *Orchestrator) Validate(names []string) error {
	for _, name := range names {
		if _, err := o.source.Registry().Lookup(o.source.Name(), name); err != nil {
			return err
		}
	}
	return nil
}

// RefreshTable extracts or loads the raw data of name, transforms it and
// persists or returns the outputs.
func (o *Orchestrator) RefreshTable(ctx context.Context, name string) (out Outputs, err error) {
	desc, err := o.source.Registry().Lookup(o.source.Name(), name)
	if err != nil {
		return nil, err
	}

	ctx = logger.ContextWithTable(ctx, o.source.Name(), name)
	ctx, span := observability.StartSpan(ctx, "pipeline.refresh_table",
		attribute.String("source", o.source.Name()),
		attribute.String("table", name),
		attribute.Bool("auto_extract", o.opts.AutoExtract))
	timer := metrics.NewTimer()
	metrics.InFlightTables.Inc()
	defer func() {
		metrics.InFlightTables.Dec()
		metrics.ObserveRefresh(o.source.Name(), name, timer.Stop(), err)
		observability.EndSpan(span, err)
	}()

	log := o.logger.With(zap.String("table", name))
	state := &workingState{}

	state.raw, err = o.resolveRaw(ctx, name, log)
	if err != nil {
		return nil, err
	}
	log.Info("raw table ready", zap.Int("rows", state.raw.Len()))

	state.processed, err = Apply(desc, state.raw, name)
	if err != nil {
		return nil, err
	}

	out, err = o.persist(ctx, state.processed)
	if err != nil {
		return nil, err
	}
	log.Info("table refreshed", zap.Strings("outputs", out.Names()), zap.Duration("elapsed", timer.Stop()))
	return out, nil
}

// RefreshTables refreshes names, or every registered table when names is
// empty. Unknown names fail before any work starts. Per-table failures are
// reported in the results, which follow the order of names.
func (o *Orchestrator) RefreshTables(ctx context.Context, names []string) ([]TableResult, error) {
	if len(names) == 0 {
		names = o.source.Registry().Names()
	}
	if err := o.Validate(names); err != nil {
		return nil, err
	}

	results := make([]TableResult, len(names))
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			tctx, cancel := o.taskContext(ctx)
			defer cancel()

			out, err := o.RefreshTable(tctx, name)
			if err != nil {
				o.logger.Error("table refresh failed", zap.String("table", name), zap.Error(err))
			}
			results[i] = TableResult{Source: o.source.Name(), Table: name, Outputs: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (o *Orchestrator) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.TableTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.TableTimeout)
	}
	return context.WithCancel(ctx)
}

// resolveRaw returns the raw input of name. A staging miss triggers exactly
// one live extraction; if staging still has no match afterwards the
// refresh fails.
func (o *Orchestrator) resolveRaw(ctx context.Context, name string, log *zap.Logger) (*models.Table, error) {
	if o.opts.AutoExtract {
		return o.extract(ctx, name)
	}

	raw, err := o.readStaged(ctx, name)
	if err == nil || !hgderrors.IsType(err, hgderrors.ErrorTypeNotFound) {
		return raw, err
	}

	log.Warn("no staged raw file, extracting from source", zap.Error(err))
	metrics.StagingFallbacks.WithLabelValues(o.source.Name(), name).Inc()

	fresh, err := o.extract(ctx, name)
	if err != nil {
		return nil, err
	}
	if o.opts.InMemory {
		return fresh, nil
	}
	return o.readStaged(ctx, name)
}

// extract fetches name from the source, staging the raw table unless the
// run is in memory.
func (o *Orchestrator) extract(ctx context.Context, name string) (*models.Table, error) {
	raw, err := o.source.FetchOne(ctx, name)
	if err != nil {
		return nil, err
	}
	raw.Name = name
	if o.opts.InMemory {
		return raw, nil
	}
	if _, err := o.gateway.Save(ctx, raw, name, o.source.Name(), storage.Raw); err != nil {
		return nil, err
	}
	metrics.RowsWritten.WithLabelValues(string(storage.Raw), name).Add(float64(raw.Len()))
	return raw, nil
}

func (o *Orchestrator) readStaged(ctx context.Context, name string) (*models.Table, error) {
	key, err := o.stagedKey(ctx, name)
	if err != nil {
		return nil, err
	}
	return o.gateway.Read(ctx, key, name)
}

// stagedKey picks the staged raw file of name. An exact key wins; otherwise
// the lexically last suffixed match, ignoring files that belong to a longer
// registered table name (gene vs gene_disease).
func (o *Orchestrator) stagedKey(ctx context.Context, name string) (string, error) {
	src := o.source.Name()
	keys, err := o.gateway.Find(ctx, src, name, storage.Raw)
	if err != nil {
		return "", err
	}

	exact := o.gateway.Key(name, src, storage.Raw)
	var candidates []string
	for _, key := range keys {
		if key == exact {
			return key, nil
		}
		if !o.ownedByOther(path.Base(key), name) {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) == 0 {
		return "", hgderrors.New(hgderrors.ErrorTypeNotFound, "no staged raw file").
			WithDetail("table", name).
			WithDetail("pattern", src+"_human_"+name+"*"+o.gateway.Extension(name))
	}
	return candidates[len(candidates)-1], nil
}

func (o *Orchestrator) ownedByOther(base, name string) bool {
	prefix := o.source.Name() + "_human_"
	for _, other := range o.source.Registry().Names() {
		if other != name && len(other) > len(name) && strings.HasPrefix(other, name) &&
			strings.HasPrefix(base, prefix+other) {
			return true
		}
	}
	return false
}

// persist converts transform output into results: tables in memory mode,
// staging keys otherwise.
func (o *Orchestrator) persist(ctx context.Context, processed Output) (Outputs, error) {
	out := make(Outputs, len(processed))
	for name, t := range processed {
		if o.opts.InMemory {
			out[name] = Result{Table: t}
			continue
		}
		key, err := o.gateway.Save(ctx, t, name, o.source.Name(), storage.Processed)
		if err != nil {
			return nil, err
		}
		metrics.RowsWritten.WithLabelValues(string(storage.Processed), name).Add(float64(t.Len()))
		out[name] = Result{Location: key}
	}
	return out, nil
}

// Merge combines the outputs of successful results.
func Merge(results []TableResult) Outputs {
	out := make(Outputs)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for name, res := range r.Outputs {
			out[name] = res
		}
	}
	return out
}

// Failed returns the results that carry an error.
func Failed(results []TableResult) []TableResult {
	var failed []TableResult
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
