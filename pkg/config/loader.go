package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "HGD"

// LoadOptions controls Load.
type LoadOptions struct {
	// Space overrides the HGD_CONFIG_SPACE selector when non-empty
	Space string
	// File is an optional YAML overlay applied on top of the profile
	File string
}

// Load builds the configuration in three layers: the built-in profile chosen
// by the space selector, an optional YAML file, then HGD_* environment
// overrides. The result is validated before it is returned.
func Load(opts LoadOptions) (*Config, error) {
	v := newEnvViper()

	selector := opts.Space
	if selector == "" {
		selector = v.GetString("config_space")
	}

	space, err := ParseSpace(selector)
	if err != nil {
		return nil, err
	}

	cfg, err := ForSpace(space)
	if err != nil {
		return nil, err
	}

	if opts.File != "" {
		if err := LoadFile(opts.File, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg. ${VAR} references
// are replaced with environment values before parsing.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the --config flag
	if err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", path)
	}

	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "failed to parse YAML").
			WithDetail("path", path)
	}
	return nil
}

// Write renders cfg as YAML. Secrets are included, so callers should only
// write to a terminal or a private file.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR_NAME} with the variable's value. Unset variables
// expand to the empty string.
func expandEnv(content string) string {
	return envRef.ReplaceAllStringFunc(content, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names kept from the deployment environment.
	_ = v.BindEnv("config_space", "HGD_CONFIG_SPACE", "CONFIG_SPACE")
	_ = v.BindEnv("database.user", "HGD_USER")
	_ = v.BindEnv("database.password", "HGD_PASSWORD")
	_ = v.BindEnv("database.host", "HGD_HOST")
	_ = v.BindEnv("sources.ncbi.email", "HGD_ENTREZ_EMAIL", "ENTREZ_EMAIL")
	_ = v.BindEnv("sources.ncbi.api_key", "HGD_ENTREZ_API_KEY", "ENTREZ_API_KEY")
	return v
}

func applyEnv(v *viper.Viper, cfg *Config) {
	setBool(v, "in_memory", &cfg.InMemory)

	setString(v, "storage.backend", &cfg.Storage.Backend)
	setString(v, "storage.local_root", &cfg.Storage.LocalRoot)
	setString(v, "storage.bucket", &cfg.Storage.Bucket)
	setString(v, "storage.prefix", &cfg.Storage.Prefix)
	setString(v, "storage.region", &cfg.Storage.Region)
	setString(v, "storage.endpoint", &cfg.Storage.Endpoint)
	setString(v, "storage.project_id", &cfg.Storage.ProjectID)
	setString(v, "storage.compression", &cfg.Storage.Compression)
	if v.IsSet("storage.compressed_tables") {
		cfg.Storage.CompressedTables = splitList(v.GetString("storage.compressed_tables"))
	}

	setString(v, "database.driver", &cfg.Database.Driver)
	setString(v, "database.host", &cfg.Database.Host)
	setInt(v, "database.port", &cfg.Database.Port)
	setString(v, "database.user", &cfg.Database.User)
	setString(v, "database.password", &cfg.Database.Password)
	setString(v, "database.name", &cfg.Database.Name)
	setString(v, "database.dsn", &cfg.Database.DSN)

	setString(v, "sources.kegg.base_url", &cfg.Sources.KEGG.BaseURL)
	setString(v, "sources.ncbi.eutils_url", &cfg.Sources.NCBI.EutilsURL)
	setString(v, "sources.ncbi.ftp_url", &cfg.Sources.NCBI.FTPURL)
	setString(v, "sources.ncbi.email", &cfg.Sources.NCBI.Email)
	setString(v, "sources.ncbi.api_key", &cfg.Sources.NCBI.APIKey)
	setInt(v, "sources.ncbi.batch_size", &cfg.Sources.NCBI.BatchSize)

	setInt(v, "performance.workers", &cfg.Performance.Workers)
	setString(v, "logging.level", &cfg.Logging.Level)
	setBool(v, "observability.enable_metrics", &cfg.Observability.EnableMetrics)
	setBool(v, "observability.enable_tracing", &cfg.Observability.EnableTracing)
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
