// Package config loads and validates application configuration from a YAML
// file and IDRESOLVE_-prefixed environment variables. Validation is fail-fast:
// a malformed override table or missing salt aborts before any row is
// processed.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	EQC      EQCConfig      `yaml:"eqc" mapstructure:"eqc"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Queue    QueueConfig    `yaml:"queue" mapstructure:"queue"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the enrichment index and queue backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// EQCConfig holds the enrichment provider API settings. The token is
// short-lived and sourced from the environment, never from the config file.
type EQCConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Token      string  `yaml:"token" mapstructure:"token"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// ResolverConfig configures the resolution cascade.
type ResolverConfig struct {
	EnrichmentEnabled bool `yaml:"enrichment_enabled" mapstructure:"enrichment_enabled"`
	SyncBudget        int  `yaml:"sync_budget" mapstructure:"sync_budget"`

	// Salt keys the temporary-identifier HMAC. Set once per deployment and
	// never rotated: changing it invalidates every previously issued temp id.
	Salt string `yaml:"salt" mapstructure:"salt"`

	// OverridesPath points at a YAML file mapping literal source values to
	// company identifiers.
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`

	ConfidenceByMatchType map[string]float64 `yaml:"confidence_by_match_type" mapstructure:"confidence_by_match_type"`
	DefaultConfidence     float64            `yaml:"default_confidence" mapstructure:"default_confidence"`
}

// QueueConfig configures the async drain worker.
type QueueConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IDRESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only surfaces keys viper already knows about (a default or
	// a config-file entry). Secrets and deployment-specific keys have neither,
	// so they need explicit bindings or Unmarshal drops them.
	for _, key := range []string{
		"store.database_url",
		"eqc.base_url",
		"eqc.token",
		"resolver.salt",
		"resolver.enrichment_enabled",
		"resolver.overrides_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "idresolve.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("eqc.rate_limit", 5.0)
	v.SetDefault("eqc.burst", 1)
	v.SetDefault("eqc.max_retries", 3)
	v.SetDefault("resolver.sync_budget", 50)
	v.SetDefault("resolver.default_confidence", 0.50)
	v.SetDefault("resolver.confidence_by_match_type", map[string]float64{
		"exact":    1.00,
		"fuzzy":    0.80,
		"phonetic": 0.60,
	})
	v.SetDefault("queue.batch_size", 100)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.max_attempts", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the invariants a run depends on. Called once at startup,
// before any batch work.
func (c *Config) Validate() error {
	if c.Resolver.Salt == "" {
		return eris.New("config: resolver.salt is required")
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return eris.New("config: store.sqlite_path is required for the sqlite driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Resolver.EnrichmentEnabled {
		if c.EQC.BaseURL == "" {
			return eris.New("config: eqc.base_url is required when enrichment is enabled")
		}
		if c.EQC.Token == "" {
			return eris.New("config: eqc.token is required when enrichment is enabled")
		}
		if c.Resolver.SyncBudget < 0 {
			return eris.Errorf("config: resolver.sync_budget must not be negative, got %d", c.Resolver.SyncBudget)
		}
		for label, score := range c.Resolver.ConfidenceByMatchType {
			if score < 0 || score > 1 {
				return eris.Errorf("config: confidence for match type %q out of [0,1]: %v", label, score)
			}
		}
	}
	return nil
}

// LoadOverrides reads the P3 override table from a YAML file. Keys and
// values are preserved exactly as written; no normalization, trimming, or
// case folding. A missing path yields an empty table; a malformed file is a
// hard error.
func LoadOverrides(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read overrides %s", path)
	}
	overrides := make(map[string]string)
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, eris.Wrapf(err, "config: parse overrides %s", path)
	}
	for key, id := range overrides {
		if key == "" || id == "" {
			return nil, eris.Errorf("config: override entry %q -> %q has an empty side", key, id)
		}
	}
	return overrides, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
