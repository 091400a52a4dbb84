// Package mapper maps one source's raw field names and identifier formats
// onto the canonical schema. Every function is pure with respect to the
// columns it does not name.
package mapper

import (
	"sort"
	"strings"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
)

// Canonical identifier prefixes shared by every source so identifiers join
// across sources.
const (
	PathwayPrefix = "P"
	GenePrefix    = "G"
	DiseasePrefix = "DS"
	VariantPrefix = "V"
	SNPPrefix     = "rs"
)

// Mapping renames raw columns (keys) to canonical names (values). Every key
// must be present in the table.
type Mapping map[string]string

// Apply renames t's columns according to m and upper-cases the rest.
// A column named by m that is missing from t, or a row without a value for
// it, is a data error and nothing is modified.
func Apply(t *models.Table, m Mapping) (*models.Table, error) {
	if err := Require(t, m.keys()...); err != nil {
		return nil, err
	}
	for i, r := range t.Rows {
		for col := range m {
			if _, ok := r[col]; !ok {
				return nil, hgderrors.Newf(hgderrors.ErrorTypeData, "row %d is missing column %q", i, col).
					WithDetail("table", t.Name)
			}
		}
	}
	return t.Rename(m).UpperColumns(), nil
}

func (m Mapping) keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Require returns a data error naming the first of cols missing from t.
func Require(t *models.Table, cols ...string) error {
	for _, col := range cols {
		if !t.HasColumn(col) {
			return hgderrors.Newf(hgderrors.ErrorTypeData, "expected column %q not found", col).
				WithDetail("table", t.Name).
				WithDetail("columns", t.Columns)
		}
	}
	return nil
}

// Map replaces every non-null string value of col with fn(value).
func Map(t *models.Table, col string, fn func(string) any) error {
	if err := Require(t, col); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if s, ok := r[col].(string); ok {
			r[col] = fn(s)
		}
	}
	return nil
}

// ReplacePrefix swaps a leading old for new in col. Values without the
// prefix are left alone.
func ReplacePrefix(t *models.Table, col, old, new string) error {
	return Map(t, col, func(s string) any {
		if strings.HasPrefix(s, old) {
			return new + s[len(old):]
		}
		return s
	})
}

// Replace substitutes every occurrence of old with new in col.
func Replace(t *models.Table, col, old, new string) error {
	return Map(t, col, func(s string) any { return strings.ReplaceAll(s, old, new) })
}

// Prefix prepends p to every value of col, including numeric values.
func Prefix(t *models.Table, col, p string) error {
	if err := Require(t, col); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if v := r[col]; !models.IsNull(v) {
			r[col] = p + models.Text(v)
		}
	}
	return nil
}

// ParseTSV splits a newline-delimited, tab-separated body into a table with
// the given columns. The trailing empty line is dropped; a line with more
// fields than columns is a data error.
func ParseTSV(name string, body []byte, columns []string) (*models.Table, error) {
	text := strings.TrimRight(string(body), "\r\n")
	var records [][]string
	if text != "" {
		for _, line := range strings.Split(text, "\n") {
			records = append(records, strings.Split(strings.TrimSuffix(line, "\r"), "\t"))
		}
	}
	t, err := models.FromRecords(name, columns, records)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeData, "malformed tab-separated response").
			WithDetail("table", name)
	}
	return t, nil
}
