package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/internal/kegg"
	"github.com/humangenomedb/hgd/internal/ncbi"
	"github.com/humangenomedb/hgd/internal/pipeline"
	"github.com/humangenomedb/hgd/pkg/clients"
	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/logger"
	"github.com/humangenomedb/hgd/pkg/metrics"
	"github.com/humangenomedb/hgd/pkg/observability"
	"github.com/humangenomedb/hgd/pkg/sink"
	"github.com/humangenomedb/hgd/pkg/storage"
)

// refreshOptions are the refresh command's flags.
type refreshOptions struct {
	sources        []string
	tables         []string
	createDatabase bool
	schemaFile     string
	autoExtract    bool
	overwrite      bool
	skipLoad       bool
	workers        int
	metricsAddr    string
}

func newRefreshCmd(flags *globalFlags) *cobra.Command {
	opts := &refreshOptions{}

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Extract, transform and load source tables",
		Long: `Refresh extracts the requested tables from each source, normalizes them
into the canonical schema and loads the results into the database.

Without --tables every registered table of each source is refreshed.
Without --auto-extract, raw data is read from staging when present and
fetched live otherwise.

Example:
  hgd refresh --source kegg --tables pathway,gene --overwrite
  hgd refresh --source ncbi --create-database --auto-extract`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{Space: flags.space, File: flags.configFile})
			if err != nil {
				return err
			}
			if err := logger.Init(loggerConfig(cfg)); err != nil {
				return hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "failed to initialize logger")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRefresh(ctx, cfg, opts, logger.Get(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.sources, "source", "s", []string{kegg.SourceName, ncbi.SourceName}, "Sources to refresh (kegg, ncbi)")
	f.StringSliceVarP(&opts.tables, "tables", "t", nil, "Tables to refresh; defaults to every table of each source")
	f.BoolVar(&opts.createDatabase, "create-database", false, "Execute the schema file before loading")
	f.StringVar(&opts.schemaFile, "schema", "", "Schema DDL file (defaults to database.schema_file)")
	f.BoolVar(&opts.autoExtract, "auto-extract", false, "Always fetch fresh raw data instead of reading staging")
	f.BoolVar(&opts.overwrite, "overwrite", false, "Drop and recreate each table before loading")
	f.BoolVar(&opts.skipLoad, "skip-load", false, "Stop after staging processed tables")
	f.IntVarP(&opts.workers, "workers", "w", 0, "Concurrent table refreshes (defaults to performance.workers)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	}
}

// runRefresh refreshes every requested source, then loads what succeeded.
// A table fails when its refresh fails or any of its outputs fails to load.
// Failures do not stop other tables; the first one in refresh order is
// returned after the summary is written.
func runRefresh(ctx context.Context, cfg *config.Config, opts *refreshOptions, log *zap.Logger, out io.Writer) error {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	log = logger.Annotate(ctx, log.With(zap.String("component", "hgd-cli")))

	if opts.workers > 0 {
		cfg.Performance.Workers = opts.workers
	}

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "hgd",
			ServiceVersion: version,
			Environment:    string(cfg.Space),
			SamplingRate:   cfg.Observability.TracingSampleRate,
			Writer:         os.Stderr,
		})
		if err != nil {
			return hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "failed to initialize tracing")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" && cfg.Observability.EnableMetrics {
		metricsAddr = cfg.Observability.MetricsAddr
	}
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, log); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	client := clients.NewHTTPClient(clients.HTTPConfigFrom(cfg), log)
	defer client.Close()

	sources, err := selectSources(cfg, client, opts.sources, log)
	if err != nil {
		return err
	}
	plan, err := planTables(sources, opts.tables)
	if err != nil {
		return err
	}

	gateway, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer gateway.Close()
	for _, src := range sources {
		if n, ok := src.(*ncbi.Source); ok {
			n.SetArchive(gateway)
		}
	}

	var loader *pipeline.Loader
	if opts.createDatabase || !opts.skipLoad {
		db, err := sink.Open(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()
		loader = pipeline.NewLoader(db, gateway, log)
	}

	if opts.createDatabase {
		schema := opts.schemaFile
		if schema == "" {
			schema = cfg.Database.SchemaFile
		}
		if err := loader.CreateDatabase(ctx, schema); err != nil {
			return err
		}
		log.Info("database schema created", zap.String("schema", schema))
	}

	pipeOpts := pipeline.OptionsFrom(cfg)
	pipeOpts.AutoExtract = opts.autoExtract

	log.Info("starting refresh",
		zap.Strings("sources", opts.sources),
		zap.Int("workers", pipeOpts.Workers),
		zap.Bool("in_memory", pipeOpts.InMemory),
		zap.Bool("auto_extract", pipeOpts.AutoExtract))

	var all []pipeline.TableResult
	for _, src := range sources {
		names, ok := plan[src.Name()]
		if !ok {
			continue
		}
		orch := pipeline.NewOrchestrator(src, gateway, pipeOpts, log)
		results, err := orch.RefreshTables(ctx, names)
		if err != nil {
			return err
		}

		if loader != nil && !opts.skipLoad {
			if outputs := pipeline.Merge(results); len(outputs) > 0 {
				report, err := loader.Load(ctx, outputs, opts.overwrite)
				if report != nil {
					log.Info("loaded source",
						zap.String("source", src.Name()),
						zap.Any("rows", report.Rows),
						zap.Int("failed", len(report.Failed)))
				}
				pipeline.MarkLoadFailures(results, report, err)
			}
		}
		all = append(all, results...)
	}

	writeSummary(out, all)

	if failed := pipeline.Failed(all); len(failed) > 0 {
		first := failed[0]
		return hgderrors.Wrap(first.Err, hgderrors.TypeOf(first.Err),
			fmt.Sprintf("%d of %d tables failed, first %s.%s", len(failed), len(all), first.Source, first.Table))
	}
	return nil
}

// selectSources builds the named sources in the order given.
func selectSources(cfg *config.Config, client *clients.HTTPClient, names []string, log *zap.Logger) ([]pipeline.Source, error) {
	if len(names) == 0 {
		return nil, hgderrors.New(hgderrors.ErrorTypeConfig, "at least one --source is required")
	}
	var sources []pipeline.Source
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case kegg.SourceName:
			sources = append(sources, kegg.New(cfg, client, log))
		case ncbi.SourceName:
			sources = append(sources, ncbi.New(cfg, client, log))
		default:
			return nil, hgderrors.Newf(hgderrors.ErrorTypeConfig,
				"unsupported source %q, valid sources: %s, %s", name, kegg.SourceName, ncbi.SourceName)
		}
	}
	return sources, nil
}

// planTables assigns each requested table to the source that registers it.
// With no tables every source refreshes its whole registry. A table no
// selected source registers is a validation error. Sources left without a
// requested table are absent from the plan.
func planTables(sources []pipeline.Source, tables []string) (map[string][]string, error) {
	plan := make(map[string][]string, len(sources))
	if len(tables) == 0 {
		for _, src := range sources {
			plan[src.Name()] = src.Registry().Names()
		}
		return plan, nil
	}

	for _, table := range tables {
		table = strings.TrimSpace(table)
		owner := ""
		for _, src := range sources {
			if _, ok := src.Registry()[table]; ok {
				owner = src.Name()
				break
			}
		}
		if owner == "" {
			if len(sources) == 1 {
				_, err := sources[0].Registry().Lookup(sources[0].Name(), table)
				return nil, err
			}
			var valid []string
			for _, src := range sources {
				valid = append(valid, src.Registry().Names()...)
			}
			sort.Strings(valid)
			return nil, hgderrors.Newf(hgderrors.ErrorTypeValidation,
				"invalid table %q, valid tables: %s", table, strings.Join(valid, ", ")).
				WithDetail("table", table)
		}
		plan[owner] = append(plan[owner], table)
	}
	return plan, nil
}

// writeSummary prints one line per refreshed table.
func writeSummary(w io.Writer, results []pipeline.TableResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTABLE\tSTATUS\tOUTPUTS")
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = "failed: " + string(hgderrors.TypeOf(r.Err))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Source, r.Table, status, strings.Join(r.Outputs.Names(), ","))
	}
	_ = tw.Flush()
}
