package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/humangenomedb/hgd/internal/kegg"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/testutil"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain error", errors.New("boom"), exitInternal},
		{"config", hgderrors.New(hgderrors.ErrorTypeConfig, "bad space"), exitUsage},
		{"file", hgderrors.New(hgderrors.ErrorTypeFile, "missing schema"), exitUsage},
		{"unknown table", hgderrors.New(hgderrors.ErrorTypeValidation, "invalid table"), exitTableNotFound},
		{"remote", hgderrors.New(hgderrors.ErrorTypeRemote, "400"), exitRemote},
		{"connection", hgderrors.New(hgderrors.ErrorTypeConnection, "503"), exitRemote},
		{"rate limit", hgderrors.New(hgderrors.ErrorTypeRateLimit, "429"), exitRemote},
		{"not staged", hgderrors.New(hgderrors.ErrorTypeNotFound, "no staged raw file"), exitRemote},
		{"load", hgderrors.New(hgderrors.ErrorTypeLoad, "insert failed"), exitLoad},
		{"outer type wins", hgderrors.Wrap(hgderrors.New(hgderrors.ErrorTypeTimeout, "slow"), hgderrors.ErrorTypeLoad, "load"), exitLoad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestExecute_UsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"refresh", "--no-such-flag"},
		{"no-such-command"},
		{"tables", "extra"},
		{"tables", "--source", "ensembl"},
	} {
		root := newRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})

		err := execute(root, args)
		require.Error(t, err, args)
		assert.Equal(t, exitUsage, exitCode(err), args)
	}
}

func TestExecute_Version(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)

	require.NoError(t, execute(root, []string{"version"}))
	assert.Contains(t, out.String(), "hgd v"+version)
}

func TestTablesCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)

	require.NoError(t, execute(root, []string{"tables", "--source", "kegg"}))
	assert.Contains(t, out.String(), "pathway_gene")
	assert.Contains(t, out.String(), "/conv/hsa/ncbi-geneid")
	assert.NotContains(t, out.String(), "gene_summary")

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	require.NoError(t, execute(root, []string{"tables"}))
	assert.Contains(t, out.String(), "entrez:snp")
}

func TestConfigCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)

	require.NoError(t, execute(root, []string{"config", "--space", "local"}))
	assert.Contains(t, out.String(), "space: LOCAL")
	assert.Contains(t, out.String(), "schema_file: sql/models/hgd_database.sql")

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	err := execute(root, []string{"config", "--space", "moon"})
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

var keggBodies = map[string]string{
	"/list/pathway/hsa": "path:hsa00010\tGlycolysis / Gluconeogenesis - Homo sapiens (human)\n" +
		"path:hsa01100\tMetabolic pathways - Homo sapiens (human)\n",
	"/list/hsa": "hsa:1\tCDS\t19:complement(58345178..58362751)\tA1BG, ABG, GAB; alpha-1-B glycoprotein\n" +
		"hsa:100\tCDS\t20:44584896..44652233\tADA; adenosine deaminase\n",
	"/list/disease":         "H00001\tB-cell acute lymphoblastic leukemia; B-ALL\n",
	"/list/variant":         "hsa_var:1019v2\tCDK4 mutation\n",
	"/list/module":          "md:M00001\tGlycolysis (Embden-Meyerhof pathway), glucose => pyruvate\n",
	"/link/hsa/pathway":     "path:hsa00010\thsa:10327\npath:hsa00010\thsa:124\n",
	"/link/module/pathway":  "path:map00010\tmd:M00001\n",
	"/link/disease/pathway": "path:hsa05200\tds:H00001\n",
	"/link/disease/hsa":     "hsa:1019\tds:H00004\n",
	"/conv/hsa/ncbi-geneid": "ncbi-geneid:1\thsa:1\n",
}

type RefreshSuite struct {
	testutil.IntegrationTestSuite
	server *httptest.Server
	broken sync.Map
}

func (s *RefreshSuite) SetupSuite() {
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, down := s.broken.Load(r.URL.Path); down {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		body, ok := keggBodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	s.BaseURL = s.server.URL
	s.IntegrationTestSuite.SetupSuite()
}

func (s *RefreshSuite) TearDownSuite() {
	s.IntegrationTestSuite.TearDownSuite()
	s.server.Close()
}

func (s *RefreshSuite) SetupTest() {
	s.broken.Range(func(k, _ any) bool {
		s.broken.Delete(k)
		return true
	})
}

func (s *RefreshSuite) options(tables ...string) *refreshOptions {
	return &refreshOptions{
		sources:   []string{kegg.SourceName},
		tables:    tables,
		overwrite: true,
	}
}

func (s *RefreshSuite) TestRefreshLoadsEveryTable() {
	var out bytes.Buffer
	err := runRefresh(s.Context(), s.Config, s.options(), s.Logger, &out)
	s.Require().NoError(err)

	s.Equal(2, s.Count("pathway"))
	s.Equal(2, s.Count("gene"))
	s.Equal(4, s.Count("gene_symbol_lookup"))
	s.Equal(1, s.Count("disease"))
	s.Equal(2, s.Count("disease_name_lookup"))
	s.Equal(1, s.Count("variant"))
	s.Equal(2, s.Count("pathway_gene"))
	s.Equal(1, s.Count("gene_ncbi"))

	s.Contains(out.String(), "gene_symbol_lookup")
	s.NotContains(out.String(), "failed")
}

func (s *RefreshSuite) TestOverwriteReplacesRows() {
	opts := s.options("pathway")
	s.Require().NoError(runRefresh(s.Context(), s.Config, opts, s.Logger, &bytes.Buffer{}))
	s.Require().NoError(runRefresh(s.Context(), s.Config, opts, s.Logger, &bytes.Buffer{}))
	s.Equal(2, s.Count("pathway"))

	opts.overwrite = false
	s.Require().NoError(runRefresh(s.Context(), s.Config, opts, s.Logger, &bytes.Buffer{}))
	s.Equal(4, s.Count("pathway"))
}

func (s *RefreshSuite) TestCreateDatabaseWithoutLoad() {
	opts := s.options("variant")
	opts.createDatabase = true
	opts.schemaFile = "../../sql/models/hgd_database.sql"
	opts.skipLoad = true

	s.Require().NoError(runRefresh(s.Context(), s.Config, opts, s.Logger, &bytes.Buffer{}))
	s.Equal(0, s.Count("gene2go"))
	s.Equal(0, s.Count("snp_summary_ss_lookup"))
}

func (s *RefreshSuite) TestMissingSchemaFile() {
	opts := s.options("variant")
	opts.createDatabase = true
	opts.schemaFile = "does/not/exist.sql"

	err := runRefresh(s.Context(), s.Config, opts, s.Logger, &bytes.Buffer{})
	s.Require().Error(err)
	s.Equal(exitUsage, exitCode(err))
}

func (s *RefreshSuite) TestUnknownTable() {
	err := runRefresh(s.Context(), s.Config, s.options("gene_summary"), s.Logger, &bytes.Buffer{})
	s.Require().Error(err)
	s.Equal(exitTableNotFound, exitCode(err))
	s.Contains(err.Error(), "valid tables: disease, gene")
}

func (s *RefreshSuite) TestUnknownTableAcrossSources() {
	opts := s.options("nope")
	opts.sources = []string{"kegg", "ncbi"}

	err := runRefresh(s.Context(), s.Config, opts, s.Logger, &bytes.Buffer{})
	s.Require().Error(err)
	s.Equal(exitTableNotFound, exitCode(err))
	s.Contains(err.Error(), "gene_info")
}

func (s *RefreshSuite) TestUnsupportedSource() {
	opts := s.options()
	opts.sources = []string{"ensembl"}

	err := runRefresh(s.Context(), s.Config, opts, s.Logger, &bytes.Buffer{})
	s.Require().Error(err)
	s.Equal(exitUsage, exitCode(err))
}

func (s *RefreshSuite) TestRemoteFailureKeepsOtherTables() {
	s.broken.Store("/list/disease", true)

	var out bytes.Buffer
	err := runRefresh(s.Context(), s.Config, s.options("disease", "module"), s.Logger, &out)
	s.Require().Error(err)
	s.Equal(exitRemote, exitCode(err))
	s.Contains(err.Error(), "kegg.disease")

	s.Equal(1, s.Count("module"))
	s.Contains(out.String(), "failed: connection")
}

func (s *RefreshSuite) TestLoadFailureFailsOnlyThatTable() {
	session, err := s.DB.Session(s.Context())
	s.Require().NoError(err)
	s.Require().NoError(session.Exec(s.Context(),
		"DROP TABLE IF EXISTS variant; CREATE TABLE variant (UNRELATED TEXT);"))
	s.Require().NoError(session.Close())
	modules := s.countOrZero("pathway_module")

	opts := s.options("variant", "pathway_module")
	opts.overwrite = false

	var out bytes.Buffer
	err = runRefresh(s.Context(), s.Config, opts, s.Logger, &out)
	s.Require().Error(err)
	s.Equal(exitLoad, exitCode(err))
	s.Contains(err.Error(), "1 of 2 tables failed, first kegg.variant")

	s.Regexp(`variant\s+failed: load`, out.String())
	s.Regexp(`pathway_module\s+ok`, out.String())
	s.Equal(modules+1, s.Count("pathway_module"))
}

// countOrZero counts rows of a table that may not exist yet.
func (s *RefreshSuite) countOrZero(table string) int {
	session, err := s.DB.Session(s.Context())
	s.Require().NoError(err)
	defer session.Close()
	n, err := session.Count(s.Context(), table)
	if err != nil {
		return 0
	}
	return n
}

func TestRefreshSuite(t *testing.T) {
	suite.Run(t, new(RefreshSuite))
}
