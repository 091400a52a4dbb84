// Package normalize explodes multi-valued columns of a canonical table into
// lookup relations keyed back to the parent row.
//
// Missing-value sentinels are nulled before splitting, empty and sentinel
// pieces are dropped after splitting, and every lookup row carries a
// LOOKUP_SOURCE tag naming the table that produced it. Explode never mutates
// its input, so normalizing the same table twice yields identical output.
package normalize

import (
	"errors"
	"strings"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
)

// SourceColumn is the provenance column of every lookup relation.
const SourceColumn = "LOOKUP_SOURCE"

// ErrColumnNotFound is returned when the column to explode is absent, which
// is the case for an already normalized table.
var ErrColumnNotFound = errors.New("column not found")

// DefaultSentinels mark a missing value in the upstream files.
var DefaultSentinels = []string{"", "-", "NaN", "None", "nan"}

// Item is one exploded value. Key is set by the Pairs policy only.
type Item struct {
	Key   any
	Value any
}

// Policy splits one cell into items.
type Policy interface {
	Split(v any) []Item
}

// Delimited splits strings on Sep. List cells are exploded element-wise.
type Delimited struct {
	Sep string
}

// Split implements Policy.
func (p Delimited) Split(v any) []Item {
	switch x := v.(type) {
	case string:
		parts := strings.Split(x, p.Sep)
		items := make([]Item, len(parts))
		for i, s := range parts {
			items[i] = Item{Value: strings.TrimSpace(s)}
		}
		return items
	default:
		return List{}.Split(v)
	}
}

// Pairs splits on Sep, then takes the text before the first KV as the key and
// the text after the last KV as the value ("HGNC:HGNC:5" -> HGNC, 5). A piece
// without KV has a null key.
type Pairs struct {
	Sep string
	KV  string
}

// Split implements Policy.
func (p Pairs) Split(v any) []Item {
	pieces := Delimited{Sep: p.Sep}.Split(v)
	items := make([]Item, 0, len(pieces))
	for _, piece := range pieces {
		s, ok := piece.Value.(string)
		if !ok {
			items = append(items, piece)
			continue
		}
		if k, _, found := strings.Cut(s, p.KV); found {
			items = append(items, Item{Key: k, Value: s[strings.LastIndex(s, p.KV)+len(p.KV):]})
		} else {
			items = append(items, Item{Value: s})
		}
	}
	return items
}

// List explodes cells that already hold repeated values ([]any or
// []string). A scalar cell yields itself.
type List struct{}

// Split implements Policy.
func (List) Split(v any) []Item {
	switch x := v.(type) {
	case []any:
		items := make([]Item, len(x))
		for i, e := range x {
			items[i] = Item{Value: e}
		}
		return items
	case []string:
		items := make([]Item, len(x))
		for i, e := range x {
			items[i] = Item{Value: e}
		}
		return items
	default:
		return []Item{{Value: v}}
	}
}

// Func adapts a custom splitter.
type Func func(v any) []any

// Split implements Policy.
func (f Func) Split(v any) []Item {
	values := f(v)
	items := make([]Item, len(values))
	for i, e := range values {
		items[i] = Item{Value: e}
	}
	return items
}

// Spec describes how one column is exploded.
type Spec struct {
	// Column is the multi-valued column removed from the parent
	Column string
	Split  Policy
	// Output names the lookup relation
	Output string
	// ParentKey is the parent identifier copied into each lookup row
	ParentKey string
	// ValueColumn names the exploded value; defaults to Column
	ValueColumn string
	// PairColumns name the key and value columns for the Pairs policy
	PairColumns [2]string
	// Tag is the LOOKUP_SOURCE value; defaults to the parent table name
	Tag string
	// CountColumn, when set, receives the number of kept values per parent
	CountColumn string
	// OrdinalColumn, when set, numbers the lookup rows of a parent from 1
	OrdinalColumn string
	// Sentinels override DefaultSentinels
	Sentinels []string
}

func (s Spec) valueColumn() string {
	if s.ValueColumn != "" {
		return s.ValueColumn
	}
	return s.Column
}

func (s Spec) paired() bool {
	return s.PairColumns[0] != "" && s.PairColumns[1] != ""
}

func (s Spec) isMissing(v any) bool {
	if models.IsNull(v) {
		return true
	}
	str, ok := v.(string)
	if !ok {
		return false
	}
	str = strings.TrimSpace(str)
	sentinels := s.Sentinels
	if sentinels == nil {
		sentinels = DefaultSentinels
	}
	for _, m := range sentinels {
		if str == m {
			return true
		}
	}
	return false
}

// Explode removes spec.Column from a copy of parent and returns it together
// with the lookup relation built from the column's values.
func Explode(parent *models.Table, spec Spec) (*models.Table, *models.Table, error) {
	if !parent.HasColumn(spec.Column) {
		return nil, nil, hgderrors.Wrap(ErrColumnNotFound, hgderrors.ErrorTypeData, "cannot explode column").
			WithDetail("table", parent.Name).
			WithDetail("column", spec.Column)
	}
	if !parent.HasColumn(spec.ParentKey) {
		return nil, nil, hgderrors.Wrap(ErrColumnNotFound, hgderrors.ErrorTypeData, "parent key missing").
			WithDetail("table", parent.Name).
			WithDetail("column", spec.ParentKey)
	}

	tag := spec.Tag
	if tag == "" {
		tag = parent.Name
	}

	cols := []string{spec.ParentKey}
	if spec.paired() {
		cols = append(cols, spec.PairColumns[0], spec.PairColumns[1])
	} else {
		cols = append(cols, spec.valueColumn())
	}
	if spec.OrdinalColumn != "" {
		cols = append(cols, spec.OrdinalColumn)
	}
	cols = append(cols, SourceColumn)
	lookup := models.NewTable(spec.Output, cols...)

	out := parent.Clone()
	for _, r := range out.Rows {
		id := r[spec.ParentKey]
		cell := r[spec.Column]
		kept := 0
		if !models.IsNull(id) && !spec.isMissing(cell) {
			for _, item := range spec.Split.Split(cell) {
				if spec.isMissing(item.Value) {
					continue
				}
				kept++
				row := models.Row{spec.ParentKey: id, SourceColumn: tag}
				if spec.paired() {
					row[spec.PairColumns[0]] = item.Key
					row[spec.PairColumns[1]] = item.Value
				} else {
					row[spec.valueColumn()] = item.Value
				}
				if spec.OrdinalColumn != "" {
					row[spec.OrdinalColumn] = kept
				}
				lookup.Rows = append(lookup.Rows, row)
			}
		}
		if spec.CountColumn != "" {
			r[spec.CountColumn] = kept
		}
	}
	if spec.CountColumn != "" && !out.HasColumn(spec.CountColumn) {
		out.Columns = append(out.Columns, spec.CountColumn)
	}
	out.Drop(spec.Column)

	return out, lookup, nil
}

// ExplodeAll applies specs in order, threading the parent through each, and
// returns the final parent and the lookups keyed by output name.
func ExplodeAll(parent *models.Table, specs ...Spec) (*models.Table, map[string]*models.Table, error) {
	lookups := make(map[string]*models.Table, len(specs))
	for _, spec := range specs {
		next, lookup, err := Explode(parent, spec)
		if err != nil {
			return nil, nil, err
		}
		parent = next
		lookups[spec.Output] = lookup
	}
	return parent, lookups, nil
}

// Union concatenates same-typed lookups produced by different sources.
func Union(name string, lookups ...*models.Table) *models.Table {
	return models.Concat(name, lookups...)
}

// NullSentinels replaces sentinel values in cols with null, in place.
func NullSentinels(t *models.Table, sentinels []string, cols ...string) {
	spec := Spec{Sentinels: sentinels}
	for _, r := range t.Rows {
		for _, col := range cols {
			if v, ok := r[col]; ok && spec.isMissing(v) {
				r[col] = nil
			}
		}
	}
}
