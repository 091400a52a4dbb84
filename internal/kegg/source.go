// Package kegg extracts the human pathway, gene, disease, variant and module
// lists and their link tables from the KEGG REST API.
package kegg

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/internal/mapper"
	"github.com/humangenomedb/hgd/internal/pipeline"
	"github.com/humangenomedb/hgd/pkg/clients"
	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/retry"
)

// SourceName prefixes every KEGG staging file.
const SourceName = "kegg"

// Source is the KEGG REST source.
type Source struct {
	client   *clients.HTTPClient
	baseURL  string
	workers  int
	retry    *retry.Policy
	registry pipeline.Registry
	logger   *zap.Logger
}

// New creates the KEGG source.
func New(cfg *config.Config, client *clients.HTTPClient, logger *zap.Logger) *Source {
	return &Source{
		client:   client,
		baseURL:  strings.TrimRight(cfg.Sources.KEGG.BaseURL, "/"),
		workers:  cfg.Performance.GetWorkers(),
		retry:    retry.FromConfig(cfg.Reliability),
		registry: Registry(),
		logger:   logger.With(zap.String("component", "kegg")),
	}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return SourceName }

// Registry implements pipeline.Source.
func (s *Source) Registry() pipeline.Registry { return s.registry }

// FetchOne downloads the list or link endpoint of name and parses the
// tab-separated body into the descriptor's columns.
func (s *Source) FetchOne(ctx context.Context, name string) (*models.Table, error) {
	desc, err := s.registry.Lookup(SourceName, name)
	if err != nil {
		return nil, err
	}

	url := s.baseURL + desc.Locator
	var body []byte
	err = s.retry.Do(ctx, "kegg "+name, s.logger, func(ctx context.Context) error {
		var err error
		body, err = s.client.GetBytes(ctx, url, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	t, err := mapper.ParseTSV(name, body, desc.Columns)
	if err != nil {
		return nil, err
	}
	s.logger.Info("extracted table", zap.String("table", name), zap.Int("rows", t.Len()), zap.String("url", url))
	return t, nil
}

// FetchAll downloads every endpoint with the configured concurrency.
func (s *Source) FetchAll(ctx context.Context) (map[string]*models.Table, error) {
	return pipeline.FetchEach(ctx, s, s.workers)
}

// Registry returns the KEGG table registry.
func Registry() pipeline.Registry {
	link := pipeline.LinkTable{Fn: ProcessLink}
	return pipeline.Registry{
		"pathway": {
			Locator:   "/list/pathway/hsa",
			Columns:   []string{"pathway_id", "pathway_name"},
			Transform: pipeline.Standard{Fn: ProcessPathway},
		},
		"gene": {
			Locator:   "/list/hsa",
			Columns:   []string{"gene_id", "gene_type", "chromosomal_position", "gene_symbol_and_name"},
			Transform: pipeline.Standard{Fn: ProcessGene},
		},
		"disease": {
			Locator:   "/list/disease",
			Columns:   []string{"disease_id", "disease_name"},
			Transform: pipeline.Standard{Fn: ProcessDisease},
		},
		"variant": {
			Locator:   "/list/variant",
			Columns:   []string{"variant_id", "variant_name"},
			Transform: pipeline.Standard{Fn: ProcessVariant},
		},
		"module": {
			Locator:   "/list/module",
			Columns:   []string{"module_id", "module_name"},
			Transform: pipeline.Standard{Fn: ProcessModule},
		},
		"pathway_gene": {
			Locator:   "/link/hsa/pathway",
			Columns:   []string{"pathway_id", "gene_id"},
			Transform: link,
		},
		"pathway_module": {
			Locator:   "/link/module/pathway",
			Columns:   []string{"pathway_id", "module_id"},
			Transform: link,
		},
		"pathway_disease": {
			Locator:   "/link/disease/pathway",
			Columns:   []string{"pathway_id", "disease_id"},
			Transform: link,
		},
		"gene_disease": {
			Locator:   "/link/disease/hsa",
			Columns:   []string{"gene_id", "disease_id"},
			Transform: link,
		},
		"gene_ncbi": {
			Locator:   "/conv/hsa/ncbi-geneid",
			Columns:   []string{"ncbi_gene_id", "gene_id"},
			Transform: link,
		},
	}
}
