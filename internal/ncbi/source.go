// Package ncbi extracts human gene records from NCBI: the gene_info,
// gene_orthologs and gene2go bulk files of the gene DATA directory, and the
// gene and snp document summaries of the Entrez E-utilities.
package ncbi

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/internal/fetcher"
	"github.com/humangenomedb/hgd/internal/pipeline"
	"github.com/humangenomedb/hgd/pkg/clients"
	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/retry"
)

// SourceName prefixes every NCBI staging file.
const SourceName = "ncbi"

// Entrez search terms.
const (
	GeneSearchTerm = "9606[TID] NOT (replaced[Properties] OR discontinued[Properties])"
	SNPSearchTerm  = "homo sapien[ORGN] AND common variant[Filter] AND snp gene[Filter]"
)

// Archive keeps copies of downloaded bulk files.
type Archive interface {
	PutObject(ctx context.Context, key string, r io.Reader) error
}

// Source is the NCBI source.
type Source struct {
	client      *clients.HTTPClient
	fetcher     *fetcher.Fetcher
	ftpURL      string
	downloadDir string
	archive     Archive
	taxID       string
	workers     int
	retry       *retry.Policy
	registry    pipeline.Registry
	logger      *zap.Logger
}

// New creates the NCBI source. Entrez summaries are paged by the configured
// batch size.
func New(cfg *config.Config, client *clients.HTTPClient, logger *zap.Logger) *Source {
	logger = logger.With(zap.String("component", "ncbi"))
	policy := retry.FromConfig(cfg.Reliability)
	ncbi := cfg.Sources.NCBI
	return &Source{
		client:      client,
		fetcher:     fetcher.New(NewEntrezClient(ncbi, client), ncbi.BatchSize, policy, logger),
		ftpURL:      strings.TrimRight(ncbi.FTPURL, "/"),
		downloadDir: ncbi.DownloadDir,
		taxID:       ncbi.TaxID,
		workers:     cfg.Performance.GetWorkers(),
		retry:       policy,
		registry:    Registry(ncbi.TaxID),
		logger:      logger,
	}
}

// SetArchive makes bulk downloads keep a copy in a.
func (s *Source) SetArchive(a Archive) {
	s.archive = a
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return SourceName }

// Registry implements pipeline.Source.
func (s *Source) Registry() pipeline.Registry { return s.registry }

// FetchOne extracts one raw table: a paged Entrez summary when the
// descriptor names a database, a bulk file download otherwise. Raw column
// names are upper-cased.
func (s *Source) FetchOne(ctx context.Context, name string) (*models.Table, error) {
	desc, err := s.registry.Lookup(SourceName, name)
	if err != nil {
		return nil, err
	}

	var t *models.Table
	if desc.DB != "" {
		t, err = s.fetcher.FetchAll(ctx, desc.DB, desc.Locator)
	} else {
		err = s.retry.Do(ctx, "download "+name, s.logger, func(ctx context.Context) error {
			var err error
			t, err = s.download(ctx, name, desc.Locator)
			return err
		})
	}
	if err != nil {
		return nil, err
	}

	t.Name = name
	return t.UpperColumns(), nil
}

// FetchAll extracts every table with the configured concurrency.
func (s *Source) FetchAll(ctx context.Context) (map[string]*models.Table, error) {
	return pipeline.FetchEach(ctx, s, s.workers)
}

// Registry returns the NCBI table registry. Bulk rows are kept only for
// taxID.
func Registry(taxID string) pipeline.Registry {
	tx := transforms{taxID: taxID}
	return pipeline.Registry{
		"gene_info": {
			Locator:   "gene_info.gz",
			Transform: pipeline.Standard{Fn: tx.geneInfo},
		},
		"gene_orthologs": {
			Locator:   "gene_orthologs.gz",
			Transform: pipeline.Standard{Fn: tx.geneOrthologs},
		},
		"gene2go": {
			Locator:   "gene2go.gz",
			Transform: pipeline.Standard{Fn: tx.gene2go},
		},
		"gene_summary": {
			Locator:   GeneSearchTerm,
			DB:        "gene",
			Transform: pipeline.Standard{Fn: ProcessGeneSummary},
		},
		"snp_summary": {
			Locator:   SNPSearchTerm,
			DB:        "snp",
			Transform: pipeline.Standard{Fn: ProcessSNPSummary},
		},
	}
}
