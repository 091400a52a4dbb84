// Package config provides the configuration system for the HGD pipeline.
// A single Config is constructed once at startup and passed by reference to
// every component constructor; nothing reads configuration from globals.
//
// The configuration is organized into logical sections:
//   - Storage: where staged raw/processed tables live (local, s3, gcs, memory)
//   - Database: the SQL sink the processed tables are loaded into
//   - Sources: endpoints and credentials for KEGG and NCBI
//   - Performance: batch sizes, worker count and per-table timeouts
//   - Reliability: retry, circuit breaker and rate limiting for remote calls
//   - Logging and Observability: zap, Prometheus and OpenTelemetry settings
//
// Profiles are selected by the HGD_CONFIG_SPACE environment variable (LOCAL,
// STAGING or PRODUCTION). See Load.
//
// Example usage:
//
//	cfg, err := config.Load(config.LoadOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gateway, err := storage.NewGateway(ctx, cfg.Storage, logger)
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// Space identifies a configuration profile.
type Space string

const (
	// SpaceLocal stages files on local disk and is meant for development
	SpaceLocal Space = "LOCAL"
	// SpaceStaging processes in memory against object storage
	SpaceStaging Space = "STAGING"
	// SpaceProduction processes in memory against object storage
	SpaceProduction Space = "PRODUCTION"
)

// Config is the complete pipeline configuration.
type Config struct {
	// Space is the profile this configuration was built from
	Space Space `yaml:"space" json:"space"`
	// InMemory passes intermediate tables between stages as live values
	// instead of round-tripping them through the storage gateway
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Sources       SourcesConfig       `yaml:"sources" json:"sources"`
	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// StorageConfig selects and configures the storage gateway backend.
type StorageConfig struct {
	// Backend is one of "local", "s3", "gcs" or "memory"
	Backend string `yaml:"backend" json:"backend"`
	// LocalRoot is the base directory for the local backend
	LocalRoot string `yaml:"local_root" json:"local_root"`
	// Bucket is the object storage bucket for s3 and gcs
	Bucket string `yaml:"bucket" json:"bucket"`
	// Prefix is prepended to every object key
	Prefix string `yaml:"prefix" json:"prefix"`
	// Region is the AWS region for s3
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the s3 endpoint (MinIO and friends)
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// PathStyle forces path-style s3 addressing
	PathStyle bool `yaml:"path_style" json:"path_style"`
	// ProjectID is the GCP project for gcs
	ProjectID string `yaml:"project_id" json:"project_id"`
	// CredentialsFile is an optional GCP service account file
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// CompressedTables are stored with the compressed encoding
	CompressedTables []string `yaml:"compressed_tables" json:"compressed_tables"`
	// Compression is the algorithm for compressed tables (gzip, zstd, lz4)
	Compression string `yaml:"compression" json:"compression"`
	// UploadPartSize is the multipart part size for s3 uploads
	UploadPartSize int64 `yaml:"upload_part_size" json:"upload_part_size"`
}

// DatabaseConfig configures the SQL sink.
type DatabaseConfig struct {
	// Driver is one of "mysql", "postgres" or "sqlite"
	Driver   string `yaml:"driver" json:"driver"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	Name     string `yaml:"name" json:"name"`
	// DSN overrides the connection string built from the fields above
	DSN string `yaml:"dsn" json:"-"`
	// InsertBatchSize is the number of rows per multi-row INSERT
	InsertBatchSize int `yaml:"insert_batch_size" json:"insert_batch_size"`
	// SchemaFile is the DDL file executed by create-database
	SchemaFile string `yaml:"schema_file" json:"schema_file"`
}

// SourcesConfig holds per-source settings.
type SourcesConfig struct {
	KEGG KEGGConfig `yaml:"kegg" json:"kegg"`
	NCBI NCBIConfig `yaml:"ncbi" json:"ncbi"`
}

// KEGGConfig configures the KEGG REST source.
type KEGGConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// NCBIConfig configures the NCBI bulk file and Entrez sources.
type NCBIConfig struct {
	// EutilsURL is the E-utilities base URL
	EutilsURL string `yaml:"eutils_url" json:"eutils_url"`
	// FTPURL is the base URL of the gene DATA directory
	FTPURL string `yaml:"ftp_url" json:"ftp_url"`
	Email  string `yaml:"email" json:"email"`
	APIKey string `yaml:"api_key" json:"-"`
	Tool   string `yaml:"tool" json:"tool"`
	// BatchSize is the esummary page size
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// TaxID filters bulk files to one organism
	TaxID string `yaml:"tax_id" json:"tax_id"`
	// DownloadDir is the storage key prefix bulk files are archived under;
	// empty disables archiving
	DownloadDir string `yaml:"download_dir" json:"download_dir"`
}

// PerformanceConfig contains throughput settings.
type PerformanceConfig struct {
	// Workers bounds concurrent table refreshes; 1 means sequential
	Workers int `yaml:"workers" json:"workers"`
	// TableTimeout bounds one table's extract, transform and persist
	TableTimeout time.Duration `yaml:"table_timeout" json:"table_timeout"`
	// RequestTimeout bounds a single HTTP request
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// ReliabilityConfig contains retry and protection settings for remote calls.
type ReliabilityConfig struct {
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier" json:"retry_multiplier"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	CircuitBreaker  bool          `yaml:"circuit_breaker" json:"circuit_breaker"`
	// RateLimitPerSec limits requests per second. Unset follows the NCBI
	// rule for the configured api_key; 0 disables the limit.
	RateLimitPerSec *float64 `yaml:"rate_limit_per_sec,omitempty" json:"rate_limit_per_sec,omitempty"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string   `yaml:"level" json:"level"`
	Encoding    string   `yaml:"encoding" json:"encoding"`
	Development bool     `yaml:"development" json:"development"`
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
}

// ObservabilityConfig contains metrics and tracing settings.
type ObservabilityConfig struct {
	EnableMetrics     bool    `yaml:"enable_metrics" json:"enable_metrics"`
	MetricsAddr       string  `yaml:"metrics_addr" json:"metrics_addr"`
	EnableTracing     bool    `yaml:"enable_tracing" json:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// DefaultCompressedTables are the tables whose staged files are compressed.
var DefaultCompressedTables = []string{"gene2go", "gene_summary", "snp_summary"}

// common returns the settings shared by every profile.
func common() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:          "local",
			LocalRoot:        ".",
			Bucket:           "human-genome-data",
			Prefix:           "database",
			Region:           "us-east-1",
			CompressedTables: append([]string(nil), DefaultCompressedTables...),
			Compression:      "gzip",
			UploadPartSize:   5 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			Port:            3306,
			InsertBatchSize: 1000,
			SchemaFile:      "sql/models/hgd_database.sql",
		},
		Sources: SourcesConfig{
			KEGG: KEGGConfig{BaseURL: "https://rest.kegg.jp"},
			NCBI: NCBIConfig{
				EutilsURL:   "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
				FTPURL:      "https://ftp.ncbi.nlm.nih.gov/gene/DATA",
				Tool:        "hgd",
				BatchSize:   5000,
				TaxID:       "9606",
				DownloadDir: "data/raw/tmp",
			},
		},
		Performance: PerformanceConfig{
			Workers:        1,
			TableTimeout:   2 * time.Hour,
			RequestTimeout: 5 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   30 * time.Second,
			CircuitBreaker:  true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Observability: ObservabilityConfig{
			MetricsAddr:       ":9090",
			TracingSampleRate: 0.1,
		},
	}
}

// ForSpace returns the built-in profile for space.
func ForSpace(space Space) (*Config, error) {
	cfg := common()
	cfg.Space = space

	switch space {
	case SpaceLocal:
		cfg.InMemory = false
		cfg.Storage.Backend = "local"
		cfg.Database.Host = "localhost"
		cfg.Database.Name = "human-genome-database"
		cfg.Logging.Encoding = "console"
		cfg.Logging.Development = true
	case SpaceStaging:
		cfg.InMemory = true
		cfg.Storage.Backend = "s3"
		cfg.Database.Name = "human-genome-database-dev1"
		cfg.Logging.Level = "debug"
	case SpaceProduction:
		cfg.InMemory = true
		cfg.Storage.Backend = "s3"
		cfg.Database.Name = "human-genome-database-dev1"
		cfg.Observability.EnableMetrics = true
	default:
		return nil, hgderrors.Newf(hgderrors.ErrorTypeConfig,
			"config space is unexpected value: %q (want one of %s, %s, %s)",
			space, SpaceLocal, SpaceStaging, SpaceProduction)
	}

	return cfg, nil
}

// ParseSpace normalizes a selector value. An empty selector is an error.
func ParseSpace(value string) (Space, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", hgderrors.New(hgderrors.ErrorTypeConfig, "HGD_CONFIG_SPACE environment variable is not set")
	}
	space := Space(strings.ToUpper(value))
	switch space {
	case SpaceLocal, SpaceStaging, SpaceProduction:
		return space, nil
	default:
		return "", hgderrors.Newf(hgderrors.ErrorTypeConfig, "config space is unexpected value: %q", value)
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local", "memory":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			return hgderrors.Newf(hgderrors.ErrorTypeConfig, "storage bucket is required for %s backend", c.Storage.Backend)
		}
		if c.Storage.Backend == "gcs" && c.Storage.ProjectID == "" {
			return hgderrors.New(hgderrors.ErrorTypeConfig, "storage project_id is required for gcs backend")
		}
	default:
		return hgderrors.Newf(hgderrors.ErrorTypeConfig, "unsupported storage backend: %q", c.Storage.Backend)
	}

	switch c.Storage.Compression {
	case "gzip", "zstd", "lz4":
	default:
		return hgderrors.Newf(hgderrors.ErrorTypeConfig, "unsupported compression: %q", c.Storage.Compression)
	}

	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return hgderrors.Newf(hgderrors.ErrorTypeConfig, "unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.InsertBatchSize <= 0 {
		return hgderrors.New(hgderrors.ErrorTypeConfig, "insert_batch_size must be positive")
	}
	if c.Sources.NCBI.BatchSize <= 0 {
		return hgderrors.New(hgderrors.ErrorTypeConfig, "ncbi batch_size must be positive")
	}
	if c.Performance.Workers < 0 {
		return hgderrors.New(hgderrors.ErrorTypeConfig, "workers cannot be negative")
	}
	if c.Reliability.RetryAttempts < 0 {
		return hgderrors.New(hgderrors.ErrorTypeConfig, "retry_attempts cannot be negative")
	}
	if r := c.Reliability.RateLimitPerSec; r != nil && *r < 0 {
		return hgderrors.New(hgderrors.ErrorTypeConfig, "rate_limit_per_sec cannot be negative")
	}
	return nil
}

// GetWorkers returns the number of workers, ensuring it's at least 1 and no
// more than the CPU count times two.
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return 1
	}
	if limit := runtime.NumCPU() * 2; p.Workers > limit {
		return limit
	}
	return p.Workers
}

// IsCompressed reports whether table uses the compressed encoding.
func (s *StorageConfig) IsCompressed(table string) bool {
	for _, name := range s.CompressedTables {
		if name == table {
			return true
		}
	}
	return false
}

// ConnectionString builds the driver-specific DSN unless DSN is set.
func (d *DatabaseConfig) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}

	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		if d.Name == "" {
			return "file:hgd.db"
		}
		return "file:" + d.Name + ".db"
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", d.User, d.Password, d.Host, d.Port, d.Name)
	}
}
