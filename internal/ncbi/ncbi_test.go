package ncbi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humangenomedb/hgd/internal/pipeline"
	"github.com/humangenomedb/hgd/pkg/clients"
	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/testutil"
)

const geneInfoTSV = "#tax_id\tGeneID\tSymbol\tLocusTag\tSynonyms\tdbXrefs\tchromosome\tmap_location\tdescription\ttype_of_gene\tSymbol_from_nomenclature_authority\tFull_name_from_nomenclature_authority\tNomenclature_status\tOther_designations\tModification_date\tFeature_type\n" +
	"9606\t1\tA1BG\t-\tA1B|ABG|GAB\tMIM:138670|HGNC:HGNC:5\t19\t19q13.43\talpha-1-B glycoprotein\tprotein-coding\tA1BG\talpha-1-B glycoprotein\tO\talpha-1B-glycoprotein|HEL-S-163pA\t20240101\t-\n" +
	"10090\t11287\tPzp\t-\t-\t-\t6\t6 F1\tPZP\tprotein-coding\tPzp\t-\tO\t-\t20240101\t-\n" +
	"9606\t2\tXYZ\t-\t-\t-\tX|Y\t-\tpseudo\tunknown\t-\t-\t-\t-\t20240101\tregulatory:enhancer\n"

func gzipped(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

var geneDocs = []string{
	`{"uid":"1","name":"A1BG","description":"alpha-1-B glycoprotein","status":0,"currentid":0,"chromosome":"19",
	  "geneticsource":"genomic","maplocation":"19q13.43","otheraliases":"A1B, ABG, GAB","otherdesignations":"x",
	  "nomenclaturesymbol":"A1BG","nomenclaturename":"alpha-1-B glycoprotein","nomenclaturestatus":"Official",
	  "mim":["138670"],"genomicinfo":[{"chrloc":"19","chraccver":"NC_000019.10","chrstart":58353491,"chrstop":58345182,"exoncount":8}],
	  "geneweight":1234,"summary":"","chrsort":"19","chrstart":58345182,"organism":{"taxid":9606},"locationhist":[]}`,
	`{"uid":"4514","name":"COX3","description":"cytochrome c oxidase III","status":0,"currentid":0,"chromosome":"MT",
	  "geneticsource":"mitochondrion","maplocation":"","otheraliases":"","otherdesignations":"",
	  "nomenclaturesymbol":"MT-CO3","nomenclaturename":"","nomenclaturestatus":"Official",
	  "mim":[],"genomicinfo":[],"geneweight":10,"summary":"mito","chrsort":"MT","organism":{},"locationhist":[]}`,
	`{"uid":"100","name":"ADA","description":"adenosine deaminase","status":0,"currentid":0,"chromosome":"X, Y",
	  "geneticsource":"genomic","maplocation":"20q13.12","otheraliases":"ADA1","otherdesignations":"",
	  "nomenclaturesymbol":"ADA","nomenclaturename":"adenosine deaminase","nomenclaturestatus":"Official",
	  "mim":["608958"],"genomicinfo":[{"chraccver":"NC_000020.11","chrstart":999999999,"chrstop":44584895,"exoncount":12}],
	  "geneweight":99,"summary":"ADA summary","chrsort":"20","organism":{},"locationhist":[]}`,
}

type fakeNCBI struct {
	mu        sync.Mutex
	summaries []string
	queries   []string
}

func (f *fakeNCBI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gene_info.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gzipped(t, geneInfoTSV))
	})
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.RawQuery)
		f.mu.Unlock()
		if r.URL.Query().Get("db") != "gene" {
			_, _ = w.Write([]byte(`{"esearchresult":{"ERROR":"Invalid db name"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"esearchresult":{"count":"3","querykey":"1","webenv":"MCID_1"}}`))
	})
	mux.HandleFunc("/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f.mu.Lock()
		f.summaries = append(f.summaries, q.Get("retstart"))
		f.mu.Unlock()
		if q.Get("WebEnv") != "MCID_1" || q.Get("query_key") != "1" {
			_, _ = w.Write([]byte(`{"error":"Invalid query_key"}`))
			return
		}
		start, _ := strconv.Atoi(q.Get("retstart"))
		max, _ := strconv.Atoi(q.Get("retmax"))
		end := start + max
		if end > len(geneDocs) {
			end = len(geneDocs)
		}
		var uids, entries []string
		for _, doc := range geneDocs[start:end] {
			var head struct {
				UID string `json:"uid"`
			}
			require.NoError(t, json.Unmarshal([]byte(doc), &head))
			uids = append(uids, strconv.Quote(head.UID))
			entries = append(entries, strconv.Quote(head.UID)+":"+doc)
		}
		body := `{"result":{"uids":[` + strings.Join(uids, ",") + `]`
		if len(entries) > 0 {
			body += "," + strings.Join(entries, ",")
		}
		_, _ = w.Write([]byte(body + "}}"))
	})
	return mux
}

func newSource(t *testing.T, mutate func(*config.Config)) (*Source, *fakeNCBI) {
	fake := &fakeNCBI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := testutil.TestConfig(t, srv.URL)
	cfg.Sources.NCBI.APIKey = "secret"
	cfg.Sources.NCBI.Email = "dev@example.org"
	if mutate != nil {
		mutate(cfg)
	}
	logger := testutil.TestLogger(t)
	client := clients.NewHTTPClient(clients.HTTPConfigFrom(cfg), logger)
	t.Cleanup(func() { _ = client.Close() })
	return New(cfg, client, logger), fake
}

func refresh(t *testing.T, s *Source, name string) pipeline.Output {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	raw, err := s.FetchOne(ctx, name)
	require.NoError(t, err)
	desc, err := s.Registry().Lookup(SourceName, name)
	require.NoError(t, err)
	out, err := pipeline.Apply(desc, raw, name)
	require.NoError(t, err)
	return out
}

func TestParseBulk_FiltersOrganism(t *testing.T) {
	tbl, err := ParseBulk("gene_info", bytes.NewReader(gzipped(t, geneInfoTSV)), "9606")
	require.NoError(t, err)
	assert.Equal(t, TaxColumn, tbl.Columns[0])
	assert.Equal(t, "GENEID", tbl.Columns[1])
	assert.Equal(t, []string{"1", "2"}, testutil.Rows(tbl, "GENEID"))

	all, err := ParseBulk("gene_info", bytes.NewReader(gzipped(t, geneInfoTSV)), "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Len())
}

func TestParseBulk_Errors(t *testing.T) {
	_, err := ParseBulk("gene2go", strings.NewReader("not gzip"), "9606")
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeData))

	_, err = ParseBulk("gene2go", bytes.NewReader(gzipped(t, "#tax_id\tGeneID\n9606\t1\textra\n")), "9606")
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeData))

	empty, err := ParseBulk("gene2go", bytes.NewReader(gzipped(t, "")), "9606")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestGeneInfo(t *testing.T) {
	s, _ := newSource(t, nil)
	out := refresh(t, s, "gene_info")

	gene := out["gene_info"]
	require.NotNil(t, gene)
	assert.Equal(t, []string{"G1", "G2"}, testutil.Rows(gene, "GENE_ID"))
	assert.Equal(t, []string{"A1BG", "XYZ"}, testutil.Rows(gene, "GENE_SYMBOL"))
	assert.Equal(t, []string{"alpha-1-B glycoprotein", "<nil>"}, testutil.Rows(gene, "GENE_NAME"))
	assert.Equal(t, []string{"1", "0"}, testutil.Rows(gene, "NOMENCLATURE_STATUS"))
	assert.Equal(t, []string{"19", "X;Y"}, testutil.Rows(gene, "CHROMOSOME"))
	assert.Equal(t, []string{"19q13.43", Unknown}, testutil.Rows(gene, "MAP_LOCATION"))
	assert.Equal(t, []string{"CDS", Unknown}, testutil.Rows(gene, "GENE_TYPE"))
	for _, col := range []string{"SYMBOL", "TAX_ID", "LOCUSTAG", "MODIFICATION_DATE", "SYNONYMS", "DBXREFS", "FEATURE_TYPE"} {
		assert.False(t, gene.HasColumn(col), col)
	}

	symbols := out["gene_info_symbol_lookup"]
	assert.Equal(t, []string{"A1B", "ABG", "GAB"}, testutil.Rows(symbols, "GENE_SYMBOL"))
	assert.Equal(t, []string{"gene_info", "gene_info", "gene_info"}, testutil.Rows(symbols, "LOOKUP_SOURCE"))

	refs := out["gene_info_dbxref_lookup"]
	assert.Equal(t, []string{"MIM", "HGNC"}, testutil.Rows(refs, "REF"))
	assert.Equal(t, []string{"138670", "5"}, testutil.Rows(refs, "REF_ID"))

	assert.Equal(t, 2, out["gene_info_otherdesig_lookup"].Len())

	features := out["gene_info_feature_lookup"]
	assert.Equal(t, []string{"G2"}, testutil.Rows(features, "GENE_ID"))
	assert.Equal(t, []string{"regulatory"}, testutil.Rows(features, "FEATURE_CAT"))
	assert.Equal(t, []string{"enhancer"}, testutil.Rows(features, "FEATURE"))
}

func TestGeneInfo_ArchivesDownload(t *testing.T) {
	s, _ := newSource(t, func(cfg *config.Config) { cfg.Sources.NCBI.DownloadDir = "data/raw/tmp" })
	gw := testutil.MemoryGateway(t, testutil.TestConfig(t, "").Storage)
	s.SetArchive(gw)
	refresh(t, s, "gene_info")

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	rc, err := gw.GetObject(ctx, "data/raw/tmp/gene_info.gz")
	require.NoError(t, err)
	defer rc.Close()
	zr, err := gzip.NewReader(rc)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, geneInfoTSV, string(b))
}

type failingArchive struct{}

func (failingArchive) PutObject(context.Context, string, io.Reader) error {
	return errors.New("bucket is read-only")
}

func TestGeneInfo_ArchiveFailure(t *testing.T) {
	s, _ := newSource(t, func(cfg *config.Config) { cfg.Sources.NCBI.DownloadDir = "data/raw/tmp" })
	s.SetArchive(failingArchive{})

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	_, err := s.FetchOne(ctx, "gene_info")
	require.Error(t, err)
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeFile))
	assert.Contains(t, err.Error(), "bucket is read-only")
}

func TestGeneInfo_NoArchiveWithoutDownloadDir(t *testing.T) {
	s, _ := newSource(t, func(cfg *config.Config) { cfg.Sources.NCBI.DownloadDir = "" })
	s.SetArchive(failingArchive{})
	out := refresh(t, s, "gene_info")
	assert.Equal(t, 2, out["gene_info"].Len())
}

func TestGeneOrthologs(t *testing.T) {
	raw := testutil.Table("gene_orthologs",
		[]string{"#TAX_ID", "GENEID", "RELATIONSHIP", "OTHER_TAX_ID", "OTHER_GENEID"},
		[]any{"9606", "1", "Ortholog", "10090", "117586"},
		[]any{"10116", "24", "Ortholog", "9606", "5"},
	)
	desc, err := Registry("9606").Lookup(SourceName, "gene_orthologs")
	require.NoError(t, err)
	out, err := pipeline.Apply(desc, raw, "gene_orthologs")
	require.NoError(t, err)

	tbl := out["gene_orthologs"]
	assert.Equal(t, []string{"GENE_ID", "OTHER_TAX_ID", "OTHER_GENE_ID"}, tbl.Columns)
	assert.Equal(t, []string{"G1"}, testutil.Rows(tbl, "GENE_ID"))
	assert.Equal(t, []string{"G117586"}, testutil.Rows(tbl, "OTHER_GENE_ID"))
}

func TestGene2Go(t *testing.T) {
	raw := testutil.Table("gene2go",
		[]string{"#TAX_ID", "GENEID", "GO_ID", "EVIDENCE", "QUALIFIER", "GO_TERM", "PUBMED", "CATEGORY"},
		[]any{"9606", "1", "GO:0005515", "IPI", "enables", "protein binding", "123|456", "Function"},
	)
	desc, err := Registry("9606").Lookup(SourceName, "gene2go")
	require.NoError(t, err)
	out, err := pipeline.Apply(desc, raw, "gene2go")
	require.NoError(t, err)

	tbl := out["gene2go"]
	assert.False(t, tbl.HasColumn("PUBMED"))
	assert.Equal(t, []string{"GO0005515"}, testutil.Rows(tbl, "GO_ID"))
	assert.Equal(t, []string{"G1"}, testutil.Rows(tbl, "GENE_ID"))

	_, err = pipeline.Apply(desc, models.NewTable("gene2go", "#TAX_ID", "GENEID"), "gene2go")
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeData))
}

func TestGeneSummary_PagesAndTransforms(t *testing.T) {
	s, fake := newSource(t, func(cfg *config.Config) { cfg.Sources.NCBI.BatchSize = 2 })
	out := refresh(t, s, "gene_summary")

	assert.Equal(t, []string{"0", "2"}, fake.summaries)
	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0], "api_key=secret")
	assert.Contains(t, fake.queries[0], "usehistory=y")
	assert.Contains(t, fake.queries[0], "email=dev%40example.org")

	gene := out["gene_summary"]
	require.NotNil(t, gene)
	assert.Equal(t, []string{"GENE_ID", "GENE_SYMBOL"}, gene.Columns[:2])
	assert.Equal(t, []string{"G1", "G100", "G4514"}, testutil.Rows(gene, "GENE_ID"))
	assert.Equal(t, []string{"A1BG", "ADA", "MT-CO3"}, testutil.Rows(gene, "GENE_SYMBOL"))
	assert.Equal(t, []string{"58353491", "0", "0"}, testutil.Rows(gene, "CHRSTART"))
	assert.Equal(t, []string{"58345182", "44584895", "0"}, testutil.Rows(gene, "CHRSTOP"))
	assert.Equal(t, []string{"19", "X;Y", "MT"}, testutil.Rows(gene, "CHROMOSOME"))
	assert.Equal(t, []string{"<nil>", "ADA summary", "mito"}, testutil.Rows(gene, "SUMMARY"))
	for _, col := range []string{"GENOMICINFO", "OTHERALIASES", "MIM_ID", "GENE_SYMB_ALT", "CHRACCVER", "NOMENCLATURESYMBOL"} {
		assert.False(t, gene.HasColumn(col), col)
	}

	aliases := out["gene_summary_symbol_lookup"]
	assert.Equal(t, []string{"G1", "G1", "G1", "G100", "G4514"}, testutil.Rows(aliases, "GENE_ID"))
	assert.Equal(t, []string{"A1B", "ABG", "GAB", "ADA1", "COX3"}, testutil.Rows(aliases, "GENE_SYMBOL"))

	omim := out["gene_summary_omim_lookup"]
	assert.Equal(t, []string{"G1", "G100"}, testutil.Rows(omim, "GENE_ID"))
	assert.Equal(t, []string{"138670", "608958"}, testutil.Rows(omim, "OMIM_ID"))
}

func TestGeneSummary_FromStagedText(t *testing.T) {
	raw := testutil.Table("gene_summary",
		[]string{"UID", "NAME", "MIM", "NOMENCLATURENAME", "NOMENCLATURESYMBOL", "GENEWEIGHT", "MAPLOCATION",
			"OTHERALIASES", "GENOMICINFO", "CHROMOSOME", "SUMMARY"},
		[]any{"7", "TP53", `["191170"]`, "tumor protein p53", "TP53", "1", "17p13.1",
			"LFS1", `[{"chrstart":"7687489","chrstop":"7668401"}]`, "17", "guardian"},
	)
	out, err := ProcessGeneSummary(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"7687489"}, testutil.Rows(out["gene_summary"], "CHRSTART"))
	assert.Equal(t, []string{"191170"}, testutil.Rows(out["gene_summary_omim_lookup"], "OMIM_ID"))
}

func TestSearch_RemoteError(t *testing.T) {
	s, _ := newSource(t, nil)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	client := NewEntrezClient(config.NCBIConfig{EutilsURL: s.ftpURL}, s.client)
	_, err := client.Search(ctx, "snp", SNPSearchTerm)
	require.Error(t, err)
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeRemote))
	assert.Contains(t, err.Error(), "Invalid db name")
}

func TestSummary_RemoteError(t *testing.T) {
	s, _ := newSource(t, nil)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	client := NewEntrezClient(config.NCBIConfig{EutilsURL: s.ftpURL}, s.client)
	h, err := client.Search(ctx, "gene", GeneSearchTerm)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Count)

	h.QueryKey = "9"
	_, err = client.Summary(ctx, h, 0, 10)
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeRemote))
}

func TestFetchOne_UnknownTable(t *testing.T) {
	s, _ := newSource(t, nil)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	_, err := s.FetchOne(ctx, "nonexistent")
	require.Error(t, err)
	assert.True(t, hgderrors.IsType(err, hgderrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "gene2go, gene_info, gene_orthologs, gene_summary, snp_summary")
}

func TestSNPSummary(t *testing.T) {
	raw := testutil.Table("snp_summary",
		[]string{"uid", "snp_id", "genes", "fxn_class", "ss", "docsum", "clinical_significance", "chrpos_sort", "global_mafs"},
		[]any{"123", float64(123), []any{map[string]any{"name": "BRCA1", "gene_id": "672"}},
			"missense_variant,coding_sequence_variant", "ss1,ss2",
			"HGVS=NC_000017.11:g.1A>G|SEQ=[A/G]|LEN=1|GENE=BRCA1:672", "", "0017", []any{}},
		[]any{"456", "456", `[{"name":"TP53","gene_id":"7"},{"name":"WRAP53","gene_id":"55135"}]`,
			nil, "ss3", "SEQ=[C/T]", "pathogenic", "0017", "[]"},
	)
	out, err := ProcessSNPSummary(raw)
	require.NoError(t, err)

	snp := out["snp_summary"]
	assert.Equal(t, []string{"rs123", "rs456"}, testutil.Rows(snp, "SNP_ID"))
	assert.Equal(t, []string{"[A/G]", "[C/T]"}, testutil.Rows(snp, "SEQ"))
	assert.Equal(t, []string{"1", "<nil>"}, testutil.Rows(snp, "LEN"))
	assert.Equal(t, []string{"NC_000017.11:g.1A>G", "<nil>"}, testutil.Rows(snp, "HGVS"))
	assert.Equal(t, []string{"<nil>", "pathogenic"}, testutil.Rows(snp, "CLINICAL_SIGNIFICANCE"))
	for _, col := range []string{"UID", "GENES", "FXN_CLASS", "SS", "DOCSUM", "CHRPOS_SORT", "GLOBAL_MAFS"} {
		assert.False(t, snp.HasColumn(col), col)
	}

	genes := out["snp_summary_gene_lookup"]
	assert.Equal(t, []string{"rs123", "rs456", "rs456"}, testutil.Rows(genes, "SNP_ID"))
	assert.Equal(t, []string{"G672", "G7", "G55135"}, testutil.Rows(genes, "GENE_ID"))
	assert.Equal(t, []string{"missense_variant", "coding_sequence_variant"}, testutil.Rows(out["snp_summary_fxn_lookup"], "FXN_CLASS"))
	assert.Equal(t, []string{"ss1", "ss2", "ss3"}, testutil.Rows(out["snp_summary_ss_lookup"], "SS"))
}

func TestDocSum(t *testing.T) {
	assert.Equal(t, map[string]string{"SEQ": "[A/G]", "LEN": "1"}, DocSum("SEQ=[A/G]|LEN=1|junk"))
	assert.Nil(t, DocSum(nil))
}
