package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
)

func openSQLite(t *testing.T, batch int) *DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             "file:" + filepath.Join(t.TempDir(), "hgd.db"),
		InsertBatchSize: batch,
	}
	db, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func geneTable() *models.Table {
	t := models.NewTable("gene", "GENE_ID", "GENE_NAME", "CHROMOSOME")
	t.Append(models.Row{"GENE_ID": "G1", "GENE_NAME": "alpha-1-B glycoprotein", "CHROMOSOME": "19"})
	t.Append(models.Row{"GENE_ID": "G2", "GENE_NAME": nil, "CHROMOSOME": "12"})
	t.Append(models.Row{"GENE_ID": "G9", "GENE_NAME": "N-acetyltransferase 1", "CHROMOSOME": "8"})
	return t
}

func TestSession_RecreateAndAppend(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t, 2)

	session, err := db.Session(ctx)
	require.NoError(t, err)
	defer session.Close()

	table := geneTable()
	require.NoError(t, session.Recreate(ctx, table))

	n, err := session.Append(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := session.Count(ctx, "gene")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var nulls int
	require.NoError(t, session.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM "gene" WHERE "GENE_NAME" IS NULL`).Scan(&nulls))
	assert.Equal(t, 1, nulls)

	// recreate drops previous rows
	require.NoError(t, session.Recreate(ctx, table))
	count, err = session.Count(ctx, "gene")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSession_AppendMissingTable(t *testing.T) {
	ctx := context.Background()
	session, err := openSQLite(t, 10).Session(ctx)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Append(ctx, geneTable())
	require.Error(t, err)
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeLoad))

	var loadErr *hgderrors.Error
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "gene", loadErr.Details["table"])
	assert.Equal(t, 0, loadErr.Details["offset"])
}

func TestSession_AppendEmpty(t *testing.T) {
	ctx := context.Background()
	session, err := openSQLite(t, 10).Session(ctx)
	require.NoError(t, err)
	defer session.Close()

	n, err := session.Append(ctx, models.NewTable("empty", "A"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSession_ExecFile(t *testing.T) {
	ctx := context.Background()
	session, err := openSQLite(t, 10).Session(ctx)
	require.NoError(t, err)
	defer session.Close()

	path := filepath.Join(t.TempDir(), "schema.sql")
	require.NoError(t, os.WriteFile(path, []byte(`
-- lookup tables
CREATE TABLE a (x TEXT);
CREATE TABLE b (y TEXT);
INSERT INTO a VALUES ('1');
`), 0o600))

	require.NoError(t, session.ExecFile(ctx, path))
	count, err := session.Count(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = session.ExecFile(ctx, filepath.Join(t.TempDir(), "missing.sql"))
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeFile))
}

func TestSession_CloseIdempotent(t *testing.T) {
	session, err := openSQLite(t, 10).Session(context.Background())
	require.NoError(t, err)

	require.NoError(t, session.Close())
	assert.Equal(t, session.Close(), session.Close())
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("-- header\nCREATE TABLE a (x TEXT);\n\n;DROP TABLE b;  ")
	assert.Equal(t, []string{"CREATE TABLE a (x TEXT)", "DROP TABLE b"}, got)
}

func TestDialects(t *testing.T) {
	tests := []struct {
		driver string
		quoted string
		create string
	}{
		{"mysql", "`GENE_ID`", "CREATE TABLE `gene` (`GENE_ID` TEXT)"},
		{"postgres", `"GENE_ID"`, `CREATE TABLE "gene" ("GENE_ID" TEXT)`},
		{"sqlite", `"GENE_ID"`, `CREATE TABLE "gene" ("GENE_ID" TEXT)`},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := DialectFor(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.quoted, d.Quote("GENE_ID"))
			assert.Equal(t, tt.create, createStatement(d, "gene", []string{"GENE_ID"}))
		})
	}

	_, err := DialectFor("oracle")
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeConfig))

	pg, _ := DialectFor("postgres")
	assert.Equal(t, "($3,$4)", placeholders(pg, 3, 2))
}

func TestMySQLConfig(t *testing.T) {
	mc, err := mysqlConfig(config.DatabaseConfig{
		Driver: "mysql", Host: "db.local", Port: 3306, User: "hgd", Password: "pw", Name: "human-genome-database",
	})
	require.NoError(t, err)
	assert.Equal(t, "db.local:3306", mc.Addr)
	assert.True(t, mc.MultiStatements)
	assert.Contains(t, mc.FormatDSN(), "hgd:pw@tcp(db.local:3306)/human-genome-database")
}

func TestSession_EnsureKeepsRows(t *testing.T) {
	ctx := context.Background()
	session, err := openSQLite(t, 10).Session(ctx)
	require.NoError(t, err)
	defer session.Close()

	table := geneTable()
	require.NoError(t, session.Ensure(ctx, table))
	_, err = session.Append(ctx, table)
	require.NoError(t, err)
	require.NoError(t, session.Ensure(ctx, table))

	count, err := session.Count(ctx, "gene")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
