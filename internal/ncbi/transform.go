package ncbi

import (
	"sort"
	"strings"

	"github.com/humangenomedb/hgd/internal/mapper"
	"github.com/humangenomedb/hgd/internal/normalize"
	"github.com/humangenomedb/hgd/internal/pipeline"
	"github.com/humangenomedb/hgd/pkg/models"
)

// Unknown replaces unplaced chromosome and map locations.
const Unknown = "Unknown"

// gene_summary columns that never reach the output.
var geneSummaryDropped = []string{
	"LOCATIONHIST", "ORGANISM", "CHRSORT", "OTHERDESIGNATIONS", "GENOMICINFO",
	"OTHERALIASES", "MIM_ID", "CHRACCVER", "STATUS", "CURRENTID",
	"NOMENCLATURESTATUS", "NOMENCLATURESYMBOL", "GENE_SYMB_ALT", "GENETICSOURCE",
}

// snp_summary columns that never reach the output, besides any *_SORT.
var snpSummaryDropped = []string{
	"GLOBAL_SAMPLESIZE", "GLOBAL_POPULATION", "SUSPECTED", "ALLELE_ORIGIN",
	"ACC", "GLOBAL_MAFS", "GENE_LIST", "N_GENES", "TAX_ID", "CREATEDATE",
	"UPDATEDATE", "HANDLE", "ORIG_BUILD", "CHRPOS_PREV_ASSM", "TEXT", "UID",
	"GENES", "FXN_CLASS", "SS", "DOCSUM",
}

type transforms struct {
	taxID string
}

// bulkGene applies the renames shared by the gene DATA files, keeps the
// configured organism, drops TAX_ID and prefixes GENE_ID.
func (tx transforms) bulkGene(raw *models.Table, renames mapper.Mapping) (*models.Table, error) {
	m := mapper.Mapping{TaxColumn: "TAX_ID", "GENEID": "GENE_ID"}
	for k, v := range renames {
		m[k] = v
	}
	t, err := mapper.Apply(raw.Clone(), m)
	if err != nil {
		return nil, err
	}
	if tx.taxID != "" {
		t.Filter(func(r models.Row) bool { return models.Text(r["TAX_ID"]) == tx.taxID })
	}
	t.Drop("TAX_ID")
	if err := mapper.Prefix(t, "GENE_ID", mapper.GenePrefix); err != nil {
		return nil, err
	}
	return t, nil
}

func (tx transforms) geneInfo(raw *models.Table) (pipeline.Output, error) {
	t, err := tx.bulkGene(raw, mapper.Mapping{
		"FULL_NAME_FROM_NOMENCLATURE_AUTHORITY": "NAME",
		"TYPE_OF_GENE":                          "GENE_TYPE",
	})
	if err != nil {
		return nil, err
	}
	if err := mapper.Require(t, "SYMBOL", "SYMBOL_FROM_NOMENCLATURE_AUTHORITY", "NOMENCLATURE_STATUS",
		"CHROMOSOME", "MAP_LOCATION"); err != nil {
		return nil, err
	}
	t.Drop("LOCUSTAG", "MODIFICATION_DATE")

	bar := normalize.Delimited{Sep: "|"}
	pairs := normalize.Pairs{Sep: "|", KV: ":"}
	gene, lookups, err := normalize.ExplodeAll(t,
		normalize.Spec{
			Column: "SYNONYMS", Split: bar, Output: "gene_info_symbol_lookup",
			ParentKey: "GENE_ID", ValueColumn: "GENE_SYMBOL", Tag: "gene_info",
		},
		normalize.Spec{
			Column: "DBXREFS", Split: pairs, Output: "gene_info_dbxref_lookup",
			ParentKey: "GENE_ID", PairColumns: [2]string{"REF", "REF_ID"}, Tag: "gene_info",
		},
		normalize.Spec{
			Column: "OTHER_DESIGNATIONS", Split: bar, Output: "gene_info_otherdesig_lookup",
			ParentKey: "GENE_ID", Tag: "gene_info",
		},
		normalize.Spec{
			Column: "FEATURE_TYPE", Split: pairs, Output: "gene_info_feature_lookup",
			ParentKey: "GENE_ID", PairColumns: [2]string{"FEATURE_CAT", "FEATURE"}, Tag: "gene_info",
		},
	)
	if err != nil {
		return nil, err
	}

	for _, r := range gene.Rows {
		if r["NOMENCLATURE_STATUS"] == "O" {
			r["NOMENCLATURE_STATUS"] = 1
		} else {
			r["NOMENCLATURE_STATUS"] = 0
		}
		if r["SYMBOL_FROM_NOMENCLATURE_AUTHORITY"] == "-" {
			r["SYMBOL_FROM_NOMENCLATURE_AUTHORITY"] = r["SYMBOL"]
		}
		r["CHROMOSOME"] = bulkLocation(r["CHROMOSOME"])
		r["MAP_LOCATION"] = bulkLocation(r["MAP_LOCATION"])
		r["GENE_TYPE"] = GeneType(r["GENE_TYPE"])
	}
	normalize.NullSentinels(gene, []string{"-"}, "SYMBOL_FROM_NOMENCLATURE_AUTHORITY", "NAME")

	gene.Drop("SYMBOL")
	gene.Rename(map[string]string{"SYMBOL_FROM_NOMENCLATURE_AUTHORITY": "GENE_SYMBOL", "NAME": "GENE_NAME"})

	out := pipeline.Output{"gene_info": gene}
	for name, lookup := range lookups {
		out[name] = lookup
	}
	return out, nil
}

// bulkLocation normalizes a gene_info chromosome or map location.
func bulkLocation(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch {
	case s == "-" || s == "Un":
		return Unknown
	case s == "X|Y" || s == "XY":
		return "X;Y"
	default:
		return strings.ReplaceAll(s, "|", ";")
	}
}

// GeneType standardizes gene_info type names to the KEGG vocabulary.
func GeneType(v any) any {
	switch v {
	case "protein-coding":
		return "CDS"
	case "unknown":
		return Unknown
	default:
		return v
	}
}

func (tx transforms) geneOrthologs(raw *models.Table) (pipeline.Output, error) {
	t, err := tx.bulkGene(raw, mapper.Mapping{"OTHER_GENEID": "OTHER_GENE_ID"})
	if err != nil {
		return nil, err
	}
	if err := mapper.Prefix(t, "OTHER_GENE_ID", mapper.GenePrefix); err != nil {
		return nil, err
	}
	t.Drop("RELATIONSHIP")
	return pipeline.Output{"gene_orthologs": t}, nil
}

func (tx transforms) gene2go(raw *models.Table) (pipeline.Output, error) {
	t, err := tx.bulkGene(raw, mapper.Mapping{"GO_ID": "GO_ID"})
	if err != nil {
		return nil, err
	}
	t.Drop("PUBMED")
	if err := mapper.Replace(t, "GO_ID", ":", ""); err != nil {
		return nil, err
	}
	return pipeline.Output{"gene2go": t}, nil
}

// ProcessGeneSummary canonicalizes Entrez gene summaries, lifting the first
// genomic-info entry and splitting aliases and OMIM links into lookups.
func ProcessGeneSummary(raw *models.Table) (pipeline.Output, error) {
	t, err := mapper.Apply(raw.Clone().UpperColumns(), mapper.Mapping{
		"UID":              "GENE_ID",
		"MIM":              "MIM_ID",
		"NOMENCLATURENAME": "GENE_NAME",
		"NAME":             "GENE_SYMB_ALT",
		"GENEWEIGHT":       "GENE_WEIGHT",
		"MAPLOCATION":      "MAP_LOCATION",
	})
	if err != nil {
		return nil, err
	}
	if err := mapper.Require(t, "GENOMICINFO", "NOMENCLATURESYMBOL", "OTHERALIASES"); err != nil {
		return nil, err
	}
	if err := mapper.Prefix(t, "GENE_ID", mapper.GenePrefix); err != nil {
		return nil, err
	}

	for _, attr := range []string{"CHRSTART", "CHRSTOP", "EXONCOUNT", "CHRACCVER"} {
		t.SetColumn(attr, func(r models.Row) any { return genomicInfo(r["GENOMICINFO"], attr) })
	}
	t.SetColumn("GENE_SYMBOL", func(r models.Row) any {
		if sym, ok := r["NOMENCLATURESYMBOL"].(string); ok {
			return sym
		}
		return ""
	})
	for _, r := range t.Rows {
		if models.IsNull(r["CHRSTOP"]) {
			r["CHRSTOP"] = 0
		}
		if start := r["CHRSTART"]; models.IsNull(start) || models.Text(start) == "999999999" {
			r["CHRSTART"] = 0
		}
		r["CHROMOSOME"] = summaryChromosome(r["CHROMOSOME"])
	}
	normalize.NullSentinels(t, []string{""}, "GENE_NAME", "SUMMARY", "MAP_LOCATION")

	aliases, err := summaryAliases(t)
	if err != nil {
		return nil, err
	}
	_, omim, err := normalize.Explode(t, normalize.Spec{
		Column: "MIM_ID", Split: normalize.Func(nestedList), Output: "gene_summary_omim_lookup",
		ParentKey: "GENE_ID", ValueColumn: "OMIM_ID", Tag: "gene_summary",
	})
	if err != nil {
		return nil, err
	}

	normalize.NullSentinels(t, []string{""}, "GENE_SYMBOL")
	t.Drop(geneSummaryDropped...)
	reorder(t, "GENE_ID", "GENE_SYMBOL")
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return models.Text(t.Rows[i]["GENE_ID"]) < models.Text(t.Rows[j]["GENE_ID"])
	})

	return pipeline.Output{
		"gene_summary":               t,
		"gene_summary_symbol_lookup": aliases,
		"gene_summary_omim_lookup":   omim,
	}, nil
}

// summaryAliases explodes OTHERALIASES and adds the alternate symbol of
// each gene whose official symbol, without an MT- prefix, differs from it.
func summaryAliases(t *models.Table) (*models.Table, error) {
	_, aliases, err := normalize.Explode(t, normalize.Spec{
		Column: "OTHERALIASES", Split: normalize.Delimited{Sep: ","}, Output: "gene_summary_symbol_lookup",
		ParentKey: "GENE_ID", ValueColumn: "GENE_SYMBOL", Tag: "gene_summary",
	})
	if err != nil {
		return nil, err
	}

	alt := models.NewTable("gene_summary_symbol_lookup", aliases.Columns...)
	for _, r := range t.Rows {
		sym, ok := r["GENE_SYMBOL"].(string)
		if !ok {
			continue
		}
		altSym := r["GENE_SYMB_ALT"]
		if models.IsNull(altSym) || models.Text(altSym) == strings.TrimPrefix(sym, "MT-") {
			continue
		}
		alt.Rows = append(alt.Rows, models.Row{
			"GENE_ID":              r["GENE_ID"],
			"GENE_SYMBOL":          altSym,
			normalize.SourceColumn: "gene_summary",
		})
	}
	return normalize.Union("gene_summary_symbol_lookup", aliases, alt), nil
}

// genomicInfo returns attr of the first genomic-info entry, matching keys
// case-insensitively, or nil.
func genomicInfo(v any, attr string) any {
	list, ok := models.Nested(v).([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	entry, ok := list[0].(map[string]any)
	if !ok {
		return nil
	}
	for k, val := range entry {
		if strings.EqualFold(k, attr) {
			return val
		}
	}
	return nil
}

// summaryChromosome normalizes an Entrez chromosome value.
func summaryChromosome(v any) any {
	s := ""
	if !models.IsNull(v) {
		s = models.Text(v)
	}
	switch {
	case s == "" || s == "Un":
		return Unknown
	case s == "X, Y":
		return "X;Y"
	default:
		return strings.ReplaceAll(s, ", ", ";")
	}
}

// nestedList splits a list value, including one read back from staging.
func nestedList(v any) []any {
	switch x := models.Nested(v).(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{x}
	}
}

// reorder moves first to the front of the column order.
func reorder(t *models.Table, first ...string) {
	cols := make([]string, 0, len(t.Columns))
	for _, col := range first {
		if t.HasColumn(col) {
			cols = append(cols, col)
		}
	}
	for _, col := range t.Columns {
		if !contains(first, col) {
			cols = append(cols, col)
		}
	}
	t.Columns = cols
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ProcessSNPSummary canonicalizes Entrez SNP summaries. Gene links, function
// classes and submitter ids become lookups; DOCSUM is split into SEQ, LEN
// and HGVS.
func ProcessSNPSummary(raw *models.Table) (pipeline.Output, error) {
	t := raw.Clone().UpperColumns()
	if err := mapper.Require(t, "SNP_ID", "GENES", "FXN_CLASS", "SS", "DOCSUM"); err != nil {
		return nil, err
	}
	if err := mapper.Prefix(t, "SNP_ID", mapper.SNPPrefix); err != nil {
		return nil, err
	}

	_, lookups, err := normalize.ExplodeAll(t,
		normalize.Spec{
			Column: "GENES", Split: normalize.Func(snpGenes), Output: "snp_summary_gene_lookup",
			ParentKey: "SNP_ID", ValueColumn: "GENE_ID", Tag: "snp_summary",
		},
		normalize.Spec{
			Column: "FXN_CLASS", Split: normalize.Delimited{Sep: ","}, Output: "snp_summary_fxn_lookup",
			ParentKey: "SNP_ID", Tag: "snp_summary",
		},
		normalize.Spec{
			Column: "SS", Split: normalize.Delimited{Sep: ","}, Output: "snp_summary_ss_lookup",
			ParentKey: "SNP_ID", Tag: "snp_summary",
		},
	)
	if err != nil {
		return nil, err
	}

	for _, key := range []string{"SEQ", "LEN", "HGVS"} {
		t.SetColumn(key, func(r models.Row) any {
			if v, ok := DocSum(r["DOCSUM"])[key]; ok {
				return v
			}
			return nil
		})
	}
	if t.HasColumn("CLINICAL_SIGNIFICANCE") {
		normalize.NullSentinels(t, []string{""}, "CLINICAL_SIGNIFICANCE")
	}

	drop := append([]string(nil), snpSummaryDropped...)
	for _, col := range t.Columns {
		if strings.Contains(col, "_SORT") {
			drop = append(drop, col)
		}
	}
	t.Drop(drop...)

	out := pipeline.Output{"snp_summary": t}
	for name, lookup := range lookups {
		out[name] = lookup
	}
	return out, nil
}

// snpGenes returns the G-prefixed gene ids of a GENES list.
func snpGenes(v any) []any {
	var ids []any
	for _, item := range nestedList(v) {
		gene, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for k, id := range gene {
			if strings.EqualFold(k, "gene_id") && !models.IsNull(id) && models.Text(id) != "" {
				ids = append(ids, mapper.GenePrefix+models.Text(id))
			}
		}
	}
	return ids
}

// DocSum parses "K1=v1|K2=v2". Pieces without "=" are ignored.
func DocSum(v any) map[string]string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, piece := range strings.Split(s, "|") {
		if k, val, found := strings.Cut(piece, "="); found {
			out[strings.TrimSpace(k)] = val
		}
	}
	return out
}
