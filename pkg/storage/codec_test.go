package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humangenomedb/hgd/pkg/models"
)

func TestEncodeCSV_NullAndNested(t *testing.T) {
	tbl := models.NewTable("snp_summary", "SNP_ID", "GENES", "CLINICAL")
	tbl.Append(models.Row{
		"SNP_ID":   "rs1",
		"GENES":    []any{map[string]any{"name": "A1BG", "gene_id": "1"}},
		"CLINICAL": nil,
	})

	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, tbl))
	assert.Equal(t, "SNP_ID,GENES,CLINICAL\nrs1,\"[{\"\"gene_id\"\":\"\"1\"\",\"\"name\"\":\"\"A1BG\"\"}]\",\\N\n", buf.String())

	decoded, err := DecodeCSV(&buf, "snp_summary")
	require.NoError(t, err)
	assert.True(t, models.Equal(tbl, decoded))
	assert.Nil(t, decoded.Rows[0]["CLINICAL"])
}

func TestDecodeCSV_Empty(t *testing.T) {
	tbl, err := DecodeCSV(bytes.NewReader(nil), "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, tbl.Columns)
}

func TestDecodeCSV_HeaderOnly(t *testing.T) {
	tbl, err := DecodeCSV(bytes.NewBufferString("A,B\n"), "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, tbl.Columns)
	assert.Equal(t, 0, tbl.Len())
}

func TestDecodeCSV_Malformed(t *testing.T) {
	_, err := DecodeCSV(bytes.NewBufferString("A,B\n1,2,3\n"), "t")
	assert.Error(t, err)
}

func TestEncodeCSV_EscapesBackslashAndEmptySingleField(t *testing.T) {
	tbl := models.NewTable("gene_symbol_lookup", "GENE_SYMBOL")
	for _, v := range []any{`\N`, nil, "", `C:\tmp`} {
		tbl.Append(models.Row{"GENE_SYMBOL": v})
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, tbl))
	assert.Equal(t, "GENE_SYMBOL\n\\\\N\n\\N\n\"\"\nC:\\tmp\n", buf.String())

	decoded, err := DecodeCSV(&buf, "gene_symbol_lookup")
	require.NoError(t, err)
	assert.True(t, models.Equal(tbl, decoded))
	assert.Equal(t, `\N`, decoded.Rows[0]["GENE_SYMBOL"])
	assert.Nil(t, decoded.Rows[1]["GENE_SYMBOL"])
	assert.Equal(t, "", decoded.Rows[2]["GENE_SYMBOL"])
}
