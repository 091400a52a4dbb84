package kegg

import (
	"regexp"
	"strings"

	"github.com/humangenomedb/hgd/internal/mapper"
	"github.com/humangenomedb/hgd/internal/normalize"
	"github.com/humangenomedb/hgd/internal/pipeline"
	"github.com/humangenomedb/hgd/pkg/models"
)

// Pathway map classes derived from the five digit map number.
const (
	GlobalMap   = "global_map"
	OverviewMap = "overview_map"
	ChemicalMap = "chemical_struc_map"
	DrugMap     = "drug_struc_map"
	RegularMap  = "regular_map"
)

// positionPattern matches "19:complement(58345178..58362751)" and
// "1:1000..2000".
var positionPattern = regexp.MustCompile(`^([^:]+):(complement\()?<?(\d+)\.\.>?(\d+)\)?$`)

// canonical copies raw and upper-cases its columns, requiring every raw
// column to be present.
func canonical(raw *models.Table) (*models.Table, error) {
	m := make(mapper.Mapping, len(raw.Columns))
	for _, col := range raw.Columns {
		m[col] = strings.ToUpper(col)
	}
	return mapper.Apply(raw.Clone(), m)
}

// canonicalIDs rewrites every KEGG identifier column present in t.
func canonicalIDs(t *models.Table) error {
	rewrites := []struct{ col, old, new string }{
		{"PATHWAY_ID", "path:", ""},
		{"PATHWAY_ID", "hsa", mapper.PathwayPrefix},
		{"PATHWAY_ID", "map", mapper.PathwayPrefix},
		{"GENE_ID", "hsa:", mapper.GenePrefix},
		{"DISEASE_ID", "ds:", ""},
		{"DISEASE_ID", "H", mapper.DiseasePrefix},
		{"MODULE_ID", "md:", ""},
		{"NCBI_GENE_ID", "ncbi-geneid:", mapper.GenePrefix},
	}
	for _, rw := range rewrites {
		if !t.HasColumn(rw.col) {
			continue
		}
		if err := mapper.ReplacePrefix(t, rw.col, rw.old, rw.new); err != nil {
			return err
		}
	}
	return nil
}

// ProcessLink canonicalizes a two-column link or conversion table. The output
// keeps the table's own name.
func ProcessLink(raw *models.Table, name string) (pipeline.Output, error) {
	t, err := canonical(raw)
	if err != nil {
		return nil, err
	}
	if err := canonicalIDs(t); err != nil {
		return nil, err
	}
	return pipeline.Output{name: t}, nil
}

// ProcessPathway classifies each pathway map and strips the organism suffix
// from its name.
func ProcessPathway(raw *models.Table) (pipeline.Output, error) {
	t, err := canonical(raw)
	if err != nil {
		return nil, err
	}
	if err := mapper.ReplacePrefix(t, "PATHWAY_ID", "path:", ""); err != nil {
		return nil, err
	}
	t.SetColumn("PATHWAY_TYPE", func(r models.Row) any {
		id, ok := r["PATHWAY_ID"].(string)
		if !ok {
			return nil
		}
		return PathwayType(strings.TrimLeft(id, "abcdefghijklmnopqrstuvwxyz"))
	})
	if err := canonicalIDs(t); err != nil {
		return nil, err
	}
	if err := mapper.Map(t, "PATHWAY_NAME", func(s string) any {
		name, _, _ := strings.Cut(s, " - ")
		return strings.TrimSpace(name)
	}); err != nil {
		return nil, err
	}
	return pipeline.Output{"pathway": t}, nil
}

// PathwayType classifies a five digit KEGG map number.
func PathwayType(number string) string {
	switch {
	case strings.HasPrefix(number, "011"):
		return GlobalMap
	case strings.HasPrefix(number, "012"):
		return OverviewMap
	case strings.HasPrefix(number, "010"):
		return ChemicalMap
	case strings.HasPrefix(number, "07"):
		return DrugMap
	default:
		return RegularMap
	}
}

// ProcessGene splits "SYM1, SYM2; name" into GENE_NAME and the
// gene_symbol_lookup relation, and parses the chromosomal position.
func ProcessGene(raw *models.Table) (pipeline.Output, error) {
	t, err := canonical(raw)
	if err != nil {
		return nil, err
	}
	if err := canonicalIDs(t); err != nil {
		return nil, err
	}

	t.SetColumn("GENE_NAME", func(r models.Row) any {
		s, ok := r["GENE_SYMBOL_AND_NAME"].(string)
		if !ok {
			return nil
		}
		if _, name, found := strings.Cut(s, ";"); found {
			return strings.TrimSpace(name)
		}
		return strings.TrimSpace(s)
	})
	t.SetColumn("GENE_SYMBOL", func(r models.Row) any {
		s, ok := r["GENE_SYMBOL_AND_NAME"].(string)
		if !ok {
			return nil
		}
		symbols, _, found := strings.Cut(s, ";")
		if !found {
			return nil
		}
		return symbols
	})
	addPosition(t)
	t.Drop("GENE_SYMBOL_AND_NAME")

	gene, lookup, err := normalize.Explode(t, normalize.Spec{
		Column:        "GENE_SYMBOL",
		Split:         normalize.Delimited{Sep: ","},
		Output:        "gene_symbol_lookup",
		ParentKey:     "GENE_ID",
		OrdinalColumn: "GENE_ALIAS_NO",
	})
	if err != nil {
		return nil, err
	}
	return pipeline.Output{"gene": gene, "gene_symbol_lookup": lookup}, nil
}

// addPosition parses CHROMOSOMAL_POSITION into CHROMOSOME, CHR_COMPLEMENT,
// CHRSTART and CHRSTOP. Unparseable positions leave all four null.
func addPosition(t *models.Table) {
	cols := []string{"CHROMOSOME", "CHR_COMPLEMENT", "CHRSTART", "CHRSTOP"}
	for _, col := range cols {
		if !t.HasColumn(col) {
			t.Columns = append(t.Columns, col)
		}
	}
	for _, r := range t.Rows {
		for _, col := range cols {
			r[col] = nil
		}
		s, ok := r["CHROMOSOMAL_POSITION"].(string)
		if !ok {
			continue
		}
		m := positionPattern.FindStringSubmatch(strings.TrimSpace(s))
		if m == nil {
			continue
		}
		r["CHROMOSOME"] = m[1]
		r["CHR_COMPLEMENT"] = 0
		if m[2] != "" {
			r["CHR_COMPLEMENT"] = 1
		}
		r["CHRSTART"] = m[3]
		r["CHRSTOP"] = m[4]
	}
}

// ProcessDisease maps H numbers to DS identifiers and explodes the
// semicolon-separated disease names.
func ProcessDisease(raw *models.Table) (pipeline.Output, error) {
	t, err := canonical(raw)
	if err != nil {
		return nil, err
	}
	if err := canonicalIDs(t); err != nil {
		return nil, err
	}
	disease, lookup, err := normalize.Explode(t, normalize.Spec{
		Column:      "DISEASE_NAME",
		Split:       normalize.Delimited{Sep: ";"},
		Output:      "disease_name_lookup",
		ParentKey:   "DISEASE_ID",
		CountColumn: "DISEASE_NAME_COUNT",
	})
	if err != nil {
		return nil, err
	}
	return pipeline.Output{"disease": disease, "disease_name_lookup": lookup}, nil
}

// ProcessVariant splits "1019v2" into VARIANT_ID V1019 and VARIANT_VERSION 2
// and takes the gene symbol from the first word of the name.
func ProcessVariant(raw *models.Table) (pipeline.Output, error) {
	t, err := canonical(raw)
	if err != nil {
		return nil, err
	}
	if err := mapper.Map(t, "VARIANT_ID", func(s string) any {
		if _, id, found := strings.Cut(s, ":"); found {
			return id
		}
		return s
	}); err != nil {
		return nil, err
	}

	t.SetColumn("VARIANT_VERSION", func(r models.Row) any {
		s, ok := r["VARIANT_ID"].(string)
		if !ok {
			return nil
		}
		if i := strings.LastIndex(s, "v"); i >= 0 {
			return s[i+1:]
		}
		return nil
	})
	if err := mapper.Map(t, "VARIANT_ID", func(s string) any {
		if i := strings.LastIndex(s, "v"); i >= 0 {
			s = s[:i]
		}
		return mapper.VariantPrefix + s
	}); err != nil {
		return nil, err
	}
	t.SetColumn("GENE_SYMBOL", func(r models.Row) any {
		s, ok := r["VARIANT_NAME"].(string)
		if !ok {
			return nil
		}
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return nil
		}
		return fields[0]
	})
	return pipeline.Output{"variant": t}, nil
}

// ProcessModule explodes module names. The trailing ", reaction" clause is
// dropped and a parenthesized alias becomes a separate name.
func ProcessModule(raw *models.Table) (pipeline.Output, error) {
	t, err := canonical(raw)
	if err != nil {
		return nil, err
	}
	if err := canonicalIDs(t); err != nil {
		return nil, err
	}
	module, lookup, err := normalize.Explode(t, normalize.Spec{
		Column:      "MODULE_NAME",
		Split:       normalize.Func(ModuleNames),
		Output:      "module_name_lookup",
		ParentKey:   "MODULE_ID",
		CountColumn: "MODULE_NAME_COUNT",
	})
	if err != nil {
		return nil, err
	}
	return pipeline.Output{"module": module, "module_name_lookup": lookup}, nil
}

// ModuleNames splits "Glycolysis (Embden-Meyerhof pathway), glucose =>
// pyruvate" into ["Glycolysis", "Embden-Meyerhof pathway"].
func ModuleNames(v any) []any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	if i := strings.LastIndex(s, ","); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, " (", ",")
	s = strings.ReplaceAll(s, ")", "")
	var names []any
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
