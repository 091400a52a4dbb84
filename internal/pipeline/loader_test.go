package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/sink"
	"github.com/humangenomedb/hgd/pkg/storage"
)

func openSink(t *testing.T) *sink.DB {
	t.Helper()
	db, err := sink.Open(context.Background(), config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             "file:" + filepath.Join(t.TempDir(), "hgd.db"),
		InsertBatchSize: 100,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *sink.DB, table string) int {
	t.Helper()
	session, err := db.Session(context.Background())
	require.NoError(t, err)
	defer session.Close()
	n, err := session.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func TestLoader_InMemoryAndStagedOutputs(t *testing.T) {
	ctx := context.Background()
	db := openSink(t)
	gw := newGateway(t, storage.NewMemoryBackend())

	gene := models.NewTable("gene", "GENE_ID", "SYMBOL")
	gene.Append(models.Row{"GENE_ID": "G1", "SYMBOL": "A1BG"})
	gene.Append(models.Row{"GENE_ID": "G2", "SYMBOL": nil})

	gene2go := models.NewTable("gene2go", "GENE_ID", "GO_ID")
	gene2go.Append(models.Row{"GENE_ID": "G1", "GO_ID": "GO0005515"})
	key, err := gw.Save(ctx, gene2go, "gene2go", "ncbi", storage.Processed)
	require.NoError(t, err)

	outputs := Outputs{
		"gene":    {Table: gene},
		"gene2go": {Location: key},
	}

	loader := NewLoader(db, gw, zap.NewNop())
	report, err := loader.Load(ctx, outputs, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"gene": 2, "gene2go": 1}, report.Rows)

	// append mode keeps existing rows
	_, err = loader.Load(ctx, Outputs{"gene": {Table: gene}}, false)
	require.NoError(t, err)
	assert.Equal(t, 4, count(t, db, "gene"))

	// overwrite replaces them
	_, err = loader.Load(ctx, Outputs{"gene": {Table: gene}}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, db, "gene"))
}

func TestLoader_FailedTableDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	db := openSink(t)

	good := models.NewTable("pathway", "PATHWAY_ID")
	good.Append(models.Row{"PATHWAY_ID": "P00010"})

	outputs := Outputs{
		"broken":  {Table: models.NewTable("broken")},
		"missing": {Location: "data/processed/kegg/kegg_human_missing.csv"},
		"pathway": {Table: good},
	}

	report, err := NewLoader(db, newGateway(t, storage.NewMemoryBackend()), zap.NewNop()).Load(ctx, outputs, true)
	require.Error(t, err)
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeLoad))
	assert.Len(t, report.Failed, 2)
	assert.Equal(t, 1, report.Rows["pathway"])
	assert.Equal(t, 1, count(t, db, "pathway"))
}

func TestLoader_CreateDatabase(t *testing.T) {
	db := openSink(t)
	schema := filepath.Join(t.TempDir(), "schema.sql")
	require.NoError(t, os.WriteFile(schema, []byte("CREATE TABLE pathway (PATHWAY_ID TEXT);\n"), 0o600))

	loader := NewLoader(db, nil, zap.NewNop())
	require.NoError(t, loader.CreateDatabase(context.Background(), schema))
	assert.Zero(t, count(t, db, "pathway"))
}

func TestMarkLoadFailures(t *testing.T) {
	fetchErr := hgderrors.New(hgderrors.ErrorTypeConnection, "503")
	insertErr := hgderrors.New(hgderrors.ErrorTypeLoad, "no such column")

	results := []TableResult{
		{Source: "kegg", Table: "gene", Outputs: Outputs{"gene": {}, "gene_symbol_lookup": {}}},
		{Source: "kegg", Table: "pathway", Outputs: Outputs{"pathway": {}}},
		{Source: "kegg", Table: "disease", Err: fetchErr},
	}
	report := &LoadReport{
		Rows:   map[string]int{"gene": 2, "pathway": 2},
		Failed: map[string]error{"gene_symbol_lookup": insertErr},
	}

	MarkLoadFailures(results, report, insertErr)

	require.Error(t, results[0].Err)
	assert.Equal(t, hgderrors.ErrorTypeLoad, hgderrors.TypeOf(results[0].Err))
	assert.ErrorIs(t, results[0].Err, insertErr)
	assert.NoError(t, results[1].Err)
	assert.Same(t, fetchErr, results[2].Err)
}

func TestMarkLoadFailures_NoReport(t *testing.T) {
	results := []TableResult{
		{Source: "ncbi", Table: "gene_info", Outputs: Outputs{"gene_info": {}}},
		{Source: "ncbi", Table: "gene2go", Outputs: Outputs{"gene2go": {}}},
	}

	MarkLoadFailures(results, nil, nil)
	assert.Empty(t, Failed(results))

	MarkLoadFailures(results, nil, hgderrors.New(hgderrors.ErrorTypeConnection, "session refused"))
	require.Len(t, Failed(results), 2)
	for _, r := range results {
		assert.Equal(t, hgderrors.ErrorTypeLoad, hgderrors.TypeOf(r.Err))
	}
}
