// Package models provides the tabular data model shared by every stage of
// the HGD pipeline: raw record batches, canonical tables and lookup
// relations are all represented as a Table.
//
// A Row maps column names to cell values. A nil cell is the explicit null
// marker; strings, integers, floats, bools and nested []any / map[string]any
// values (decoded Entrez documents) are the other admissible cell types.
package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Row is a single record keyed by column name.
type Row map[string]any

// Table is a named, ordered collection of rows with a column order.
type Table struct {
	// Name identifies the table (e.g., "gene_info", "gene_symbol_lookup")
	Name string `json:"name"`

	// Columns defines the column order used for serialization
	Columns []string `json:"columns"`

	// Rows holds the records; cells for columns missing from a row are null
	Rows []Row `json:"rows"`
}

// NewTable creates an empty table with the given columns.
func NewTable(name string, columns ...string) *Table {
	return &Table{
		Name:    name,
		Columns: append([]string(nil), columns...),
	}
}

// FromRecords creates a table from positional string records. Records
// shorter than columns leave the trailing cells null; extra fields are an
// error.
func FromRecords(name string, columns []string, records [][]string) (*Table, error) {
	t := NewTable(name, columns...)
	t.Rows = make([]Row, 0, len(records))
	for i, rec := range records {
		if len(rec) > len(columns) {
			return nil, fmt.Errorf("record %d has %d fields, expected at most %d", i, len(rec), len(columns))
		}
		row := make(Row, len(columns))
		for j, col := range columns {
			if j < len(rec) {
				row[col] = rec[j]
			} else {
				row[col] = nil
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds a row. Columns not yet known to the table are appended to the
// column order in sorted order so serialization stays deterministic.
func (t *Table) Append(r Row) {
	var added []string
	for col := range r {
		if !t.HasColumn(col) {
			added = append(added, col)
		}
	}
	sort.Strings(added)
	t.Columns = append(t.Columns, added...)
	t.Rows = append(t.Rows, r)
}

// HasColumn reports whether col is part of the column order.
func (t *Table) HasColumn(col string) bool {
	return t.columnIndex(col) >= 0
}

func (t *Table) columnIndex(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Column returns the values of col in row order.
func (t *Table) Column(col string) []any {
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[col]
	}
	return out
}

// Clone returns a deep copy of the table. Nested cell values are shared;
// they are treated as immutable throughout the pipeline.
func (t *Table) Clone() *Table {
	c := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		c.Rows[i] = nr
	}
	return c
}

// Drop removes columns in place. Unknown columns are ignored.
func (t *Table) Drop(cols ...string) *Table {
	for _, col := range cols {
		idx := t.columnIndex(col)
		if idx < 0 {
			continue
		}
		t.Columns = append(t.Columns[:idx], t.Columns[idx+1:]...)
		for _, r := range t.Rows {
			delete(r, col)
		}
	}
	return t
}

// Rename renames columns in place according to mapping (old -> new).
func (t *Table) Rename(mapping map[string]string) *Table {
	for i, col := range t.Columns {
		if to, ok := mapping[col]; ok {
			t.Columns[i] = to
		}
	}
	for _, r := range t.Rows {
		for from, to := range mapping {
			if v, ok := r[from]; ok {
				delete(r, from)
				r[to] = v
			}
		}
	}
	return t
}

// UpperColumns upper-cases every column name in place.
func (t *Table) UpperColumns() *Table {
	mapping := make(map[string]string, len(t.Columns))
	for _, col := range t.Columns {
		if up := strings.ToUpper(col); up != col {
			mapping[col] = up
		}
	}
	return t.Rename(mapping)
}

// Select returns a new table holding only cols, in that order.
func (t *Table) Select(name string, cols ...string) (*Table, error) {
	for _, col := range cols {
		if !t.HasColumn(col) {
			return nil, fmt.Errorf("column %q not found in table %q", col, t.Name)
		}
	}
	out := NewTable(name, cols...)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		nr := make(Row, len(cols))
		for _, col := range cols {
			nr[col] = r[col]
		}
		out.Rows[i] = nr
	}
	return out, nil
}

// Filter keeps the rows for which keep returns true, in place.
func (t *Table) Filter(keep func(Row) bool) *Table {
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(t.Rows); i++ {
		t.Rows[i] = nil
	}
	t.Rows = kept
	return t
}

// SetColumn computes col for every row, adding it to the column order if
// needed.
func (t *Table) SetColumn(col string, fn func(Row) any) *Table {
	if !t.HasColumn(col) {
		t.Columns = append(t.Columns, col)
	}
	for _, r := range t.Rows {
		r[col] = fn(r)
	}
	return t
}

// Concat stacks tables into one named table. The column order is the union
// of the inputs in first-seen order.
func Concat(name string, tables ...*Table) *Table {
	out := NewTable(name)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, col := range t.Columns {
			if !out.HasColumn(col) {
				out.Columns = append(out.Columns, col)
			}
		}
		out.Rows = append(out.Rows, t.Clone().Rows...)
	}
	return out
}

// Equal reports whether a and b have the same name, columns and cells.
// Cells are compared by their string rendering so a value decoded from a
// file matches the typed value it was written from.
func Equal(a, b *Table) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || len(a.Columns) != len(b.Columns) || len(a.Rows) != len(b.Rows) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	for i := range a.Rows {
		for _, col := range a.Columns {
			av, bv := a.Rows[i][col], b.Rows[i][col]
			if IsNull(av) != IsNull(bv) {
				return false
			}
			if !IsNull(av) && Text(av) != Text(bv) {
				return false
			}
		}
	}
	return true
}

// IsNull reports whether v is the null marker.
func IsNull(v any) bool {
	return v == nil
}

// Text renders a cell as a string. Nested values are rendered as JSON.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any, map[string]any, []string:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// Nested returns v decoded when it is a JSON array or object rendered by
// Text, such as a nested value read back from a staged file. Any other
// value is returned unchanged.
func Nested(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || (trimmed[0] != '[' && trimmed[0] != '{') {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return v
	}
	return out
}
