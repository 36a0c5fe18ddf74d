// Package config loads the pmdata YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as the Redis password stay out of the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/polymarket-data/pkg/logging"
)

// Config is the root configuration.
type Config struct {
	UserAgent string          `yaml:"user_agent"`
	CacheDir  string          `yaml:"cache_dir"`
	API       APIConfig       `yaml:"api"`
	Redis     RedisConfig     `yaml:"redis"`
	Retry     RetryConfig     `yaml:"retry"`
	Collector CollectorConfig `yaml:"collector"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// APIConfig holds provider endpoints and pacing.
type APIConfig struct {
	GammaURL          string        `yaml:"gamma_url"`
	CLOBURL           string        `yaml:"clob_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// RedisConfig enables the shared provider cooldown. An empty Addr keeps the
// cooldown in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RetryConfig overrides the retry schedule. Zero values keep the per-class
// defaults.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// CollectorConfig holds listing collection settings.
type CollectorConfig struct {
	PageLimit              int `yaml:"page_limit"`
	ShortPageRetries       int `yaml:"short_page_retries"`
	MaxDaysWithoutForce    int `yaml:"max_days_without_force"`
	MaxRecordsWithoutForce int `yaml:"max_records_without_force"`
}

// HistoryConfig holds price history settings.
type HistoryConfig struct {
	ChunkDays    int           `yaml:"chunk_days"`
	SettleWindow time.Duration `yaml:"settle_window"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string              `yaml:"level"`
	Pretty bool                `yaml:"pretty"`
	File   *logging.FileConfig `yaml:"file"`
}

// MetricsConfig holds the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = "data/cache"
	}
	if c.API.GammaURL == "" {
		c.API.GammaURL = "https://gamma-api.polymarket.com"
	}
	if c.API.CLOBURL == "" {
		c.API.CLOBURL = "https://clob.polymarket.com"
	}
	if c.API.RequestsPerSecond == 0 {
		c.API.RequestsPerSecond = 5
	}
	if c.API.Burst == 0 {
		c.API.Burst = 1
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 20 * time.Second
	}
	if c.Collector.PageLimit == 0 {
		c.Collector.PageLimit = 1000
	}
	if c.Collector.ShortPageRetries == 0 {
		c.Collector.ShortPageRetries = 2
	}
	if c.Collector.MaxDaysWithoutForce == 0 {
		c.Collector.MaxDaysWithoutForce = 120
	}
	if c.Collector.MaxRecordsWithoutForce == 0 {
		c.Collector.MaxRecordsWithoutForce = 100_000
	}
	if c.History.ChunkDays == 0 {
		c.History.ChunkDays = 7
	}
	if c.History.SettleWindow == 0 {
		c.History.SettleWindow = time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for values the collectors cannot use.
func (c *Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	for name, raw := range map[string]string{"api.gamma_url": c.API.GammaURL, "api.clob_url": c.API.CLOBURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL (got %q)", name, raw)
		}
	}
	if c.API.RequestsPerSecond < 0 || c.API.Burst < 0 {
		return fmt.Errorf("api.requests_per_second and api.burst must be positive")
	}
	if c.Collector.PageLimit < 0 || c.Collector.ShortPageRetries < 0 {
		return fmt.Errorf("collector.page_limit and collector.short_page_retries must not be negative")
	}
	if c.Collector.MaxDaysWithoutForce < 0 || c.Collector.MaxRecordsWithoutForce < 0 {
		return fmt.Errorf("collector safety limits must not be negative")
	}
	if c.History.ChunkDays < 0 || c.History.SettleWindow < 0 {
		return fmt.Errorf("history.chunk_days and history.settle_window must not be negative")
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		return fmt.Errorf("retry values must not be negative")
	}
	if c.Logging.File != nil && c.Logging.File.Path == "" {
		return fmt.Errorf("logging.file.path is required when logging.file is set")
	}
	return nil
}
