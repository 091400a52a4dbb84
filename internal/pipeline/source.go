package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
)

// Output maps output table names to the tables a transform produced.
type Output map[string]*models.Table

// Transform is the closed set of transform calling conventions: Standard or
// LinkTable.
type Transform interface {
	apply(raw *models.Table, name string) (Output, error)
}

// Standard transforms one raw table.
type Standard struct {
	Fn func(raw *models.Table) (Output, error)
}

func (s Standard) apply(raw *models.Table, _ string) (Output, error) { return s.Fn(raw) }

// LinkTable transforms a relationship table. The same function serves
// several differently keyed tables, so it receives the table name.
type LinkTable struct {
	Fn func(raw *models.Table, name string) (Output, error)
}

func (l LinkTable) apply(raw *models.Table, name string) (Output, error) { return l.Fn(raw, name) }

// Descriptor tells a source how to extract and transform one table.
type Descriptor struct {
	// Locator is the remote location: a URL, a bulk file name or a search term
	Locator string
	// Columns are the raw column names, when the remote format has no header
	Columns []string
	// DB is the remote sub-database for search-backed tables
	DB        string
	Transform Transform
}

// Registry maps logical table names to descriptors.
type Registry map[string]Descriptor

// Names returns the registered table names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the descriptor of name, or a validation error listing the
// valid names.
func (r Registry) Lookup(source, name string) (Descriptor, error) {
	d, ok := r[name]
	if !ok {
		return Descriptor{}, hgderrors.Newf(hgderrors.ErrorTypeValidation,
			"invalid table %q for source %s, valid tables: %s", name, source, strings.Join(r.Names(), ", ")).
			WithDetail("table", name).
			WithDetail("valid", r.Names())
	}
	return d, nil
}

// Apply runs the descriptor's transform on raw.
func Apply(d Descriptor, raw *models.Table, name string) (Output, error) {
	if d.Transform == nil {
		return nil, hgderrors.Newf(hgderrors.ErrorTypeInternal, "table %q has no transform", name)
	}
	out, err := d.Transform.apply(raw, name)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.TypeOf(err), "transform failed").WithDetail("table", name)
	}
	for outName, t := range out {
		t.Name = outName
	}
	return out, nil
}

// Source is one upstream system.
type Source interface {
	// Name is the short source name used in staging paths ("kegg", "ncbi").
	Name() string
	// Registry lists the tables the source can refresh.
	Registry() Registry
	// FetchOne extracts the raw table for name.
	FetchOne(ctx context.Context, name string) (*models.Table, error)
	// FetchAll extracts every registered raw table.
	FetchAll(ctx context.Context) (map[string]*models.Table, error)
}

// FetchEach extracts every registered table of s with at most workers
// concurrent requests. The first failure cancels the remaining fetches.
func FetchEach(ctx context.Context, s Source, workers int) (map[string]*models.Table, error) {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	out := make(map[string]*models.Table, len(s.Registry()))
	for _, name := range s.Registry().Names() {
		name := name
		g.Go(func() error {
			t, err := s.FetchOne(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
