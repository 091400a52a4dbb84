package storage

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
)

// NullToken is the cell text written for a null value.
const NullToken = `\N`

// escape is the leading byte doubled on text cells so they never collide
// with NullToken.
const escape = `\`

// emptyRecord is a quoted empty field. csv.Writer renders a lone empty
// field as a blank line, which csv.Reader skips.
const emptyRecord = "\"\"\n"

// EncodeCSV writes t as comma-separated text with a header row. Null cells
// are written as NullToken, nested values as JSON, and text starting with a
// backslash gets one more.
func EncodeCSV(w io.Writer, t *models.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = encodeCell(row[col])
		}
		if len(record) == 1 && record[0] == "" {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			if _, err := io.WriteString(w, emptyRecord); err != nil {
				return err
			}
			continue
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func encodeCell(v any) string {
	if models.IsNull(v) {
		return NullToken
	}
	s := models.Text(v)
	if strings.HasPrefix(s, escape) {
		return escape + s
	}
	return s
}

func decodeCell(s string) any {
	if s == NullToken {
		return nil
	}
	if strings.HasPrefix(s, escape) {
		return s[len(escape):]
	}
	return s
}

// DecodeCSV reads a table written by EncodeCSV. Every non-null cell is a
// string.
func DecodeCSV(r io.Reader, name string) (*models.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return models.NewTable(name), nil
	}
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeData, "failed to read header").WithDetail("table", name)
	}

	t := models.NewTable(name, header...)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeData, "malformed row").WithDetail("table", name)
		}
		row := make(models.Row, len(header))
		for i, col := range t.Columns {
			row[col] = decodeCell(rec[i])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
