// Package common provides shared utilities for the ledger daemon.
package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for ledgerd. §6's "Process env" names the
// three inputs the core itself requires: the quote provider API key, the
// database URL, and the cron timezone; everything else here is ambient.
type Config struct {
	Environment string          `toml:"environment"`
	Database    DatabaseConfig  `toml:"database"`
	Quote       QuoteConfig     `toml:"quote"`
	FX          FXConfig        `toml:"fx"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// QuoteConfig holds the quote provider's connection details.
type QuoteConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the quote client's HTTP timeout.
func (c *QuoteConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// FXConfig lists the currency pairs the operator requires refreshed.
// §4.1 performs no transitive inversion, so every needed pair must be
// listed explicitly.
type FXConfig struct {
	Pairs []string `toml:"pairs"`
}

// SchedulerConfig selects the timezone cron expressions are interpreted in.
type SchedulerConfig struct {
	Timezone string `toml:"timezone"`
}

// Location resolves the configured timezone, defaulting to UTC on any
// parse failure so the scheduler always starts.
func (c *SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseConfig{
			Path: "data/ledger.db",
		},
		Quote: QuoteConfig{
			BaseURL: "https://api.twelvedata.com",
			Timeout: "30s",
		},
		FX: FXConfig{
			Pairs: []string{"EUR/USD", "PLN/USD", "GBP/USD"},
		},
		Scheduler: SchedulerConfig{
			Timezone: "UTC",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/ledgerd.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides,
// merging each path in order so later files override earlier ones.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config, per
// §6's process-env contract.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LEDGERD_ENV"); env != "" {
		config.Environment = env
	}
	if path := os.Getenv("LEDGERD_DATABASE_URL"); path != "" {
		config.Database.Path = path
	}
	if key := os.Getenv("LEDGERD_QUOTE_API_KEY"); key != "" {
		config.Quote.APIKey = key
	}
	if base := os.Getenv("LEDGERD_QUOTE_BASE_URL"); base != "" {
		config.Quote.BaseURL = base
	}
	if tz := os.Getenv("LEDGERD_TIMEZONE"); tz != "" {
		config.Scheduler.Timezone = tz
	}
	if level := os.Getenv("LEDGERD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if pairs := os.Getenv("LEDGERD_FX_PAIRS"); pairs != "" {
		config.FX.Pairs = strings.Split(pairs, ",")
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
