package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/sink"
	"github.com/humangenomedb/hgd/pkg/storage"
)

// LoadReport lists per-table load outcomes.
type LoadReport struct {
	Rows   map[string]int
	Failed map[string]error
}

// Loader writes refresh outputs into the database sink.
type Loader struct {
	db      *sink.DB
	gateway *storage.Gateway
	logger  *zap.Logger
}

// NewLoader creates a loader. gateway resolves staged outputs and may be nil
// when every output is held in memory.
func NewLoader(db *sink.DB, gateway *storage.Gateway, logger *zap.Logger) *Loader {
	return &Loader{db: db, gateway: gateway, logger: logger.With(zap.String("component", "loader"))}
}

// Load writes every output through one sink session. With overwrite each
// destination table is dropped and recreated first; otherwise it is created
// if missing and appended to. A failing table is recorded and the rest
// still load. The session is closed exactly once, on every path.
func (l *Loader) Load(ctx context.Context, outputs Outputs, overwrite bool) (*LoadReport, error) {
	session, err := l.db.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	report := &LoadReport{Rows: make(map[string]int), Failed: make(map[string]error)}
	var errs []error
	for _, name := range outputs.Names() {
		n, err := l.loadOne(ctx, session, name, outputs[name], overwrite)
		if err != nil {
			l.logger.Error("table load failed", zap.String("table", name), zap.Error(err))
			report.Failed[name] = err
			errs = append(errs, err)
			continue
		}
		report.Rows[name] = n
	}

	if len(errs) > 0 {
		return report, hgderrors.Wrap(errors.Join(errs...), hgderrors.ErrorTypeLoad, "some tables failed to load").
			WithDetail("failed", len(errs))
	}
	return report, nil
}

func (l *Loader) loadOne(ctx context.Context, session *sink.Session, name string, res Result, overwrite bool) (int, error) {
	t, err := l.resolve(ctx, name, res)
	if err != nil {
		return 0, err
	}
	if overwrite {
		err = session.Recreate(ctx, t)
	} else {
		err = session.Ensure(ctx, t)
	}
	if err != nil {
		return 0, err
	}
	return session.Append(ctx, t)
}

// resolve returns the table of a result, reading it from staging when only
// its location is known.
func (l *Loader) resolve(ctx context.Context, name string, res Result) (*models.Table, error) {
	if res.Table != nil {
		if res.Table.Name == "" {
			res.Table.Name = name
		}
		return res.Table, nil
	}
	if l.gateway == nil || res.Location == "" {
		return nil, hgderrors.New(hgderrors.ErrorTypeInternal, "output has neither data nor location").
			WithDetail("table", name)
	}
	return l.gateway.Read(ctx, res.Location, name)
}

// CreateDatabase executes the schema DDL file.
func (l *Loader) CreateDatabase(ctx context.Context, schemaFile string) error {
	session, err := l.db.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	return session.ExecFile(ctx, schemaFile)
}

// MarkLoadFailures fails every successful result whose outputs did not all
// load. Without a report, loadErr fails every successful result.
func MarkLoadFailures(results []TableResult, report *LoadReport, loadErr error) {
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		if report == nil {
			if loadErr != nil {
				results[i].Err = hgderrors.Wrap(loadErr, hgderrors.ErrorTypeLoad, "load failed").
					WithDetail("table", r.Table)
			}
			continue
		}
		for _, name := range r.Outputs.Names() {
			if err, ok := report.Failed[name]; ok {
				results[i].Err = hgderrors.Wrap(err, hgderrors.ErrorTypeLoad, "failed to load output").
					WithDetail("table", r.Table).
					WithDetail("output", name)
				break
			}
		}
	}
}
