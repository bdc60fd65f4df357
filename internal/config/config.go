// Package config defines the run configuration for the reconciliation
// engine and the loose Options bag used by parsers.
//
// Configuration is an explicit value passed into ingestion, normalization
// and resolution calls. Nothing in this package is process-global; in
// particular the store-code mapping travels inside Config rather than
// living in a mutable package variable.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level run configuration.
type Config struct {
	Storage StorageConfig `json:"storage" mapstructure:"storage"`
	Ingest  IngestConfig  `json:"ingest" mapstructure:"ingest"`
	Resolve ResolveConfig `json:"resolve" mapstructure:"resolve"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	API     APIConfig     `json:"api" mapstructure:"api"`

	// Stores maps location-code spelling variants to canonical store codes.
	// When empty, DefaultStoreMapping is used.
	Stores map[string]string `json:"stores" mapstructure:"stores"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	// Kind: "postgres" | "sqlite" | "mssql".
	Kind string `json:"kind" mapstructure:"kind"`
	// DSN is backend-specific. ${ENV} references are expanded by the caller.
	DSN string `json:"dsn" mapstructure:"dsn"`
}

// IngestConfig controls batch ingestion behavior.
type IngestConfig struct {
	// ChunkSize bounds memory per staged/committed unit. Default 1000.
	ChunkSize int `json:"chunk_size" mapstructure:"chunk_size"`
	// Parser options forwarded to the format readers (comma, charset,
	// has_header, header_map, ...).
	Parser Options `json:"parser" mapstructure:"parser"`
	// DateFormats overrides the ordered date-format probe list.
	DateFormats []string `json:"date_formats" mapstructure:"date_formats"`
}

// ResolveConfig controls the correlation resolver.
type ResolveConfig struct {
	// NameTokens is the leading-token count for the baseline name matcher.
	// Default 2.
	NameTokens int `json:"name_tokens" mapstructure:"name_tokens"`
	// Schedule is a cron expression for the `recon schedule` daemon.
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Kind: "noop" (default) | "datadog".
	Kind    string   `json:"kind" mapstructure:"kind"`
	JobName string   `json:"job_name" mapstructure:"job_name"`
	Tags    []string `json:"tags" mapstructure:"tags"`
}

// APIConfig controls the read-only query API server.
type APIConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// Load reads configuration from an optional file plus RECON_* environment
// variables. A missing path is not an error; env-only runs are supported.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("storage.kind", "sqlite")
	v.SetDefault("storage.dsn", "file:recon.db")
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("resolve.name_tokens", 2)
	v.SetDefault("metrics.kind", "noop")
	v.SetDefault("metrics.job_name", "recon")
	v.SetDefault("api.addr", ":8084")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// StoreMapping resolves location-code spelling variants to canonical codes.
// Lookup is case-insensitive on the variant side.
type StoreMapping struct {
	canon map[string]string
}

// NewStoreMapping builds a mapping from variant -> canonical pairs.
// Canonical codes map to themselves implicitly.
func NewStoreMapping(pairs map[string]string) StoreMapping {
	m := StoreMapping{canon: make(map[string]string, len(pairs)*2)}
	for variant, code := range pairs {
		m.canon[strings.ToLower(strings.TrimSpace(variant))] = code
		m.canon[strings.ToLower(code)] = code
	}
	return m
}

// Canonicalize returns the canonical store code for a raw location code.
// Unknown codes return ("", false); callers decide whether to bucket them.
func (m StoreMapping) Canonicalize(code string) (string, bool) {
	if m.canon == nil {
		return "", false
	}
	c, ok := m.canon[strings.ToLower(strings.TrimSpace(code))]
	return c, ok
}

// Len reports the number of known variants.
func (m StoreMapping) Len() int { return len(m.canon) }

// DefaultStoreMapping covers the store codes seen in production exports,
// including the legacy name spellings that show up in scorecard headers.
func DefaultStoreMapping() StoreMapping {
	return NewStoreMapping(map[string]string{
		"wayzata":     "3607",
		"brooklyn":    "6800",
		"brooklyn pk": "6800",
		"fridley":     "8101",
		"elk river":   "728",
		"elkriver":    "728",
		"3607":        "3607",
		"6800":        "6800",
		"8101":        "8101",
		"728":         "728",
	})
}

// Mapping returns the configured store mapping, falling back to the
// default set when the config carries none.
func (c Config) Mapping() StoreMapping {
	if len(c.Stores) == 0 {
		return DefaultStoreMapping()
	}
	return NewStoreMapping(c.Stores)
}
