// Package config loads the enricher configuration from a YAML file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/epireve/uk-gateway/pkg/cache"
	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/enrichment"
	"github.com/epireve/uk-gateway/pkg/logging"
	"github.com/epireve/uk-gateway/pkg/progress"
	"github.com/epireve/uk-gateway/pkg/ratelimit"
)

// Config holds all configuration for the enricher.
type Config struct {
	CompaniesHouse CompaniesHouseConfig `yaml:"companies_house"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Enrichment     EnrichmentConfig     `yaml:"enrichment"`
	Progress       ProgressConfig       `yaml:"progress"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// CompaniesHouseConfig holds the API credentials and their rate limit.
type CompaniesHouseConfig struct {
	APIKeys           []string      `yaml:"api_keys"`
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RateLimit         int           `yaml:"rate_limit"`
	RateWindow        time.Duration `yaml:"rate_window"`
	Threshold         float64       `yaml:"exhaustion_threshold"`
	ForbiddenCooldown time.Duration `yaml:"forbidden_cooldown"`
}

// DatabaseConfig holds the Postgres connection string.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig enables the lookup cache and the Redis progress feed. Both are
// off when URL is empty.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	ProgressFeed bool          `yaml:"progress_feed"`
}

// EnrichmentConfig holds the orchestrator pacing.
type EnrichmentConfig struct {
	PageSize             int           `yaml:"page_size"`
	BatchSize            int           `yaml:"batch_size"`
	Concurrency          int           `yaml:"concurrency"`
	InterCallDelay       time.Duration `yaml:"inter_call_delay"`
	BatchPause           time.Duration `yaml:"batch_pause"`
	PagePause            time.Duration `yaml:"page_pause"`
	RateLimitRPS         float64       `yaml:"rate_limit_rps"`
	ExhaustionMargin     time.Duration `yaml:"exhaustion_margin"`
	ForbiddenCooldownMin time.Duration `yaml:"forbidden_cooldown_min"`
	ForbiddenCooldownMax time.Duration `yaml:"forbidden_cooldown_max"`
	MaxAttempts          int           `yaml:"max_attempts"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay"`
	RetryDelayStep       time.Duration `yaml:"retry_delay_step"`
	RetryMaxDelay        time.Duration `yaml:"retry_max_delay"`
	RetryPauseEvery      int           `yaml:"retry_pause_every"`
	RetryPause           time.Duration `yaml:"retry_pause"`
}

// ProgressConfig throttles job progress updates.
type ProgressConfig struct {
	Every    int           `yaml:"every"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig holds the address of the /metrics and /healthz listener.
// An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used for every field a file or the
// environment does not set.
func Default() *Config {
	rl := ratelimit.DefaultConfig()
	cl := client.DefaultConfig()
	en := enrichment.DefaultConfig()

	return &Config{
		CompaniesHouse: CompaniesHouseConfig{
			BaseURL:           cl.BaseURL,
			UserAgent:         cl.UserAgent,
			Timeout:           cl.Timeout,
			RateLimit:         rl.Limit,
			RateWindow:        rl.Window,
			Threshold:         rl.Threshold,
			ForbiddenCooldown: cl.ForbiddenCooldown,
		},
		Redis: RedisConfig{
			CacheTTL: cache.DefaultTTL,
		},
		Enrichment: EnrichmentConfig{
			PageSize:             en.PageSize,
			BatchSize:            en.BatchSize,
			Concurrency:          en.Concurrency,
			InterCallDelay:       en.InterCallDelay,
			BatchPause:           en.BatchPause,
			PagePause:            en.PagePause,
			RateLimitRPS:         en.RateLimitRPS,
			ExhaustionMargin:     en.ExhaustionMargin,
			ForbiddenCooldownMin: en.ForbiddenCooldownMin,
			ForbiddenCooldownMax: en.ForbiddenCooldownMax,
			MaxAttempts:          en.MaxAttempts,
			RetryBaseDelay:       en.RetryBaseDelay,
			RetryDelayStep:       en.RetryDelayStep,
			RetryMaxDelay:        en.RetryMaxDelay,
			RetryPauseEvery:      en.RetryPauseEvery,
			RetryPause:           en.RetryPause,
		},
		Progress: ProgressConfig{
			Every:    progress.DefaultEvery,
			Interval: progress.DefaultInterval,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads and parses the configuration file over the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.CompaniesHouse.APIKeys = splitKeys(cfg.CompaniesHouse.APIKeys...)
	return cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file in the working directory is loaded first when present; it
// never overrides variables already set.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CH_API_KEYS"); v != "" {
		cfg.CompaniesHouse.APIKeys = splitKeys(v)
	}
	if v := os.Getenv("CH_BASE_URL"); v != "" {
		cfg.CompaniesHouse.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.Metrics.Addr = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"ENRICH_CONCURRENCY", &cfg.Enrichment.Concurrency},
		{"ENRICH_BATCH_SIZE", &cfg.Enrichment.BatchSize},
		{"ENRICH_PAGE_SIZE", &cfg.Enrichment.PageSize},
		{"CH_RATE_LIMIT", &cfg.CompaniesHouse.RateLimit},
	}
	for _, e := range ints {
		if v := os.Getenv(e.name); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s: invalid integer %q", e.name, v)
			}
			*e.dst = n
		}
	}

	if v := os.Getenv("ENRICH_INTER_CALL_DELAY"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("ENRICH_INTER_CALL_DELAY: invalid duration %q", v)
		}
		cfg.Enrichment.InterCallDelay = d
	}
	if v := os.Getenv("ENRICH_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("ENRICH_RATE_LIMIT_RPS: invalid number %q", v)
		}
		cfg.Enrichment.RateLimitRPS = f
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent. Credentials are not
// required here since migrate and sic-import run without them.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	if err := c.RateLimit().Validate(); err != nil {
		return err
	}
	if c.CompaniesHouse.Timeout <= 0 {
		return fmt.Errorf("companies house timeout must be positive (got %s)", c.CompaniesHouse.Timeout)
	}
	if err := c.EnrichmentConfig().Validate(); err != nil {
		return err
	}
	if c.Progress.Every < 0 || c.Progress.Interval < 0 {
		return fmt.Errorf("progress throttling must not be negative")
	}
	return nil
}

// RateLimit returns the per-credential limits.
func (c *Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		Limit:     c.CompaniesHouse.RateLimit,
		Window:    c.CompaniesHouse.RateWindow,
		Threshold: c.CompaniesHouse.Threshold,
	}
}

// Client returns the lookup client configuration, without a cache.
func (c *Config) Client() client.Config {
	return client.Config{
		BaseURL:           c.CompaniesHouse.BaseURL,
		UserAgent:         c.CompaniesHouse.UserAgent,
		Timeout:           c.CompaniesHouse.Timeout,
		ForbiddenCooldown: c.CompaniesHouse.ForbiddenCooldown,
	}
}

// EnrichmentConfig returns the orchestrator configuration.
func (c *Config) EnrichmentConfig() enrichment.Config {
	e := c.Enrichment
	return enrichment.Config{
		PageSize:             e.PageSize,
		BatchSize:            e.BatchSize,
		Concurrency:          e.Concurrency,
		InterCallDelay:       e.InterCallDelay,
		BatchPause:           e.BatchPause,
		PagePause:            e.PagePause,
		RateLimitRPS:         e.RateLimitRPS,
		ExhaustionMargin:     e.ExhaustionMargin,
		ForbiddenCooldownMin: e.ForbiddenCooldownMin,
		ForbiddenCooldownMax: e.ForbiddenCooldownMax,
		MaxAttempts:          e.MaxAttempts,
		RetryBaseDelay:       e.RetryBaseDelay,
		RetryDelayStep:       e.RetryDelayStep,
		RetryMaxDelay:        e.RetryMaxDelay,
		RetryPauseEvery:      e.RetryPauseEvery,
		RetryPause:           e.RetryPause,
	}
}

// LoggingConfig returns the logger setup.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// splitKeys flattens comma-separated entries and drops blanks.
func splitKeys(vals ...string) []string {
	var keys []string
	for _, v := range vals {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}
