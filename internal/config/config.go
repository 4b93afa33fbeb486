// Package config loads pipeline configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the full pipeline configuration.
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Selection SelectionConfig `mapstructure:"selection"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type PipelineConfig struct {
	Version       string `mapstructure:"version"`
	SearchLimit   int    `mapstructure:"search_limit_per_query"`
	FetchMaxDocs  int    `mapstructure:"fetch_max_docs"`
	RecentRunsMax int    `mapstructure:"recent_runs_max"`
}

type SelectionConfig struct {
	// TrustPrior switches the composite score to the learned
	// domain-reliability blend. The one core behavior knob.
	TrustPrior       bool `mapstructure:"trust_prior"`
	MaxPerDomainType int  `mapstructure:"max_per_domain_type"`
	TypeEnforceAfter int  `mapstructure:"type_enforce_after"`
}

type DedupConfig struct {
	TitleSimilarity   float64 `mapstructure:"title_similarity"`
	ContentSimilarity float64 `mapstructure:"content_similarity"`
	MinSnippetLength  int     `mapstructure:"min_snippet_length"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DefaultTTL: time.Hour,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "./citepipe.db",
		},
		Pipeline: PipelineConfig{
			Version:       "1",
			SearchLimit:   20,
			FetchMaxDocs:  20,
			RecentRunsMax: 100,
		},
		Selection: SelectionConfig{
			TrustPrior:       false,
			MaxPerDomainType: 4,
			TypeEnforceAfter: 3,
		},
		Dedup: DedupConfig{
			TitleSimilarity:   0.9,
			ContentSimilarity: 0.85,
			MinSnippetLength:  50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from CONFIG_PATH (default /app/config/citepipe.yaml),
// falling back to defaults when no file exists, then applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/citepipe.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err == nil {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	} else if _, statErr := os.Stat(cfgPath); statErr == nil {
		// File exists but did not parse; that is a real error.
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
		cfg.Database.Driver = "postgres"
	}
	if ver := os.Getenv("PIPELINE_VERSION"); ver != "" {
		cfg.Pipeline.Version = ver
	}
	if limit := os.Getenv("SEARCH_LIMIT_PER_QUERY"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Pipeline.SearchLimit = n
		}
	}
	if max := os.Getenv("FETCH_MAX_DOCS"); max != "" {
		if n, err := strconv.Atoi(max); err == nil && n > 0 {
			cfg.Pipeline.FetchMaxDocs = n
		}
	}
	if tp := os.Getenv("TRUST_PRIOR_ENABLED"); tp != "" {
		cfg.Selection.TrustPrior = tp == "1" || tp == "true" || tp == "on"
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
}
