// Package common provides shared utilities for rawfeed.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for rawfeed. It is built once at startup,
// validated, and read-only afterwards.
type Config struct {
	Environment string         `toml:"environment"`
	API         APIConfig      `toml:"api"`
	Fetch       FetchConfig    `toml:"fetch"`
	Exchange    ExchangeConfig `toml:"exchange"`
	DB          DBConfig       `toml:"db"`
	Features    FeaturesConfig `toml:"features"`
	Logging     LoggingConfig  `toml:"logging"`
}

// APIConfig holds provider credentials and concurrency ceilings.
type APIConfig struct {
	PrimaryKey           string `toml:"primary_key"`
	SecondaryKey         string `toml:"secondary_key"` // empty disables the secondary provider
	TertiaryKey          string `toml:"tertiary_key"`
	PrimaryConcurrency   int    `toml:"primary_concurrency"`
	SecondaryConcurrency int    `toml:"secondary_concurrency"`
	TertiaryConcurrency  int    `toml:"tertiary_concurrency"`
	Timeout              string `toml:"timeout"`
}

// GetTimeout parses and returns the per-request HTTP timeout.
func (c *APIConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// FetchConfig holds incremental-fetch behavior.
type FetchConfig struct {
	UseBatchEOD            bool   `toml:"use_batch_eod"`
	BatchEODDays           int    `toml:"batch_eod_days"`
	UseBatchQuoteFilter    bool   `toml:"use_batch_quote_filter"`
	FilterDividendSymbols  bool   `toml:"filter_dividend_symbols"`
	CacheCompanyData       bool   `toml:"cache_company_data"`
	CompanyCacheDays       int    `toml:"company_cache_days"`
	StalenessHours         int    `toml:"staleness_hours"`
	PricesStartDate        string `toml:"prices_start_date"`
	EmptyRunsBeforeExclude int    `toml:"empty_runs_before_exclude"`
	FutureDividendDays     int    `toml:"future_dividend_days"`
}

// GetPricesStartDate parses the configured backfill floor.
func (c *FetchConfig) GetPricesStartDate() time.Time {
	d, err := time.Parse("2006-01-02", c.PricesStartDate)
	if err != nil {
		return time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return d
}

// StalenessWindow returns the staleness skip window as a duration.
func (c *FetchConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessHours) * time.Hour
}

// CompanyCacheWindow returns the company TTL as a duration.
func (c *FetchConfig) CompanyCacheWindow() time.Duration {
	return time.Duration(c.CompanyCacheDays) * 24 * time.Hour
}

// ExchangeConfig holds the symbol universe filters.
type ExchangeConfig struct {
	Allowed         []string `toml:"allowed"`
	BlockedSuffixes []string `toml:"blocked_suffixes"`
}

// AllowedSet returns the allowed exchanges as a lookup set.
func (c *ExchangeConfig) AllowedSet() map[string]bool {
	set := make(map[string]bool, len(c.Allowed))
	for _, e := range c.Allowed {
		set[strings.ToUpper(e)] = true
	}
	return set
}

// DBConfig holds database access configuration.
type DBConfig struct {
	URL             string `toml:"url"`
	ServiceKey      string `toml:"service_key"`
	UpsertBatchSize int    `toml:"upsert_batch_size"`
}

// FeaturesConfig holds feature flags.
type FeaturesConfig struct {
	UseAdjustedClose bool `toml:"use_adjusted_close"`
	TrackAUM         bool `toml:"track_aum"`
	TrackIV          bool `toml:"track_iv"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Suffixes of non-target listings dropped at discovery. Overridable via
// exchange.blocked_suffixes.
var defaultBlockedSuffixes = []string{
	".L", ".AX", ".DE", ".AS", ".MI", ".PA", ".SW", ".HK", ".BR", ".LS",
	".MC", ".CO", ".ST", ".OL", ".HE", ".IC", ".VI", ".AT", ".WA", ".PR",
	".BD", ".SA", ".MX", ".JK", ".KL", ".SI", ".BK", ".TW", ".KS", ".KQ",
	".T", ".F", ".NZ", ".JO", ".SG", ".BO", ".NS", ".NE", ".ME",
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		API: APIConfig{
			PrimaryConcurrency:   60,
			SecondaryConcurrency: 10,
			TertiaryConcurrency:  10,
			Timeout:              "30s",
		},
		Fetch: FetchConfig{
			UseBatchEOD:            true,
			BatchEODDays:           30,
			UseBatchQuoteFilter:    true,
			FilterDividendSymbols:  true,
			CacheCompanyData:       true,
			CompanyCacheDays:       90,
			StalenessHours:         20,
			PricesStartDate:        "1960-01-01",
			EmptyRunsBeforeExclude: 5,
			FutureDividendDays:     90,
		},
		Exchange: ExchangeConfig{
			Allowed:         []string{"NYSE", "NASDAQ", "AMEX", "TSX", "TSXV", "CBOE"},
			BlockedSuffixes: defaultBlockedSuffixes,
		},
		DB: DBConfig{
			UpsertBatchSize: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
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

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PRIMARY_API_KEY"); v != "" {
		config.API.PrimaryKey = v
	}
	if v := os.Getenv("SECONDARY_API_KEY"); v != "" {
		config.API.SecondaryKey = v
	}
	if v := os.Getenv("TERTIARY_API_KEY"); v != "" {
		config.API.TertiaryKey = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		config.DB.URL = v
	}
	if v := os.Getenv("DB_SERVICE_KEY"); v != "" {
		config.DB.ServiceKey = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("RAWFEED_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("RAWFEED_UPSERT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.DB.UpsertBatchSize = n
		}
	}
}

// ForceRun reports whether the FORCE_RUN environment variable is truthy.
func ForceRun() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("FORCE_RUN"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// SecondaryEnabled reports whether the secondary provider is configured.
func (c *Config) SecondaryEnabled() bool {
	return c.API.SecondaryKey != ""
}

// Validate fails fast on missing credentials or out-of-range numerics.
// The returned error is fatal: the process should exit 2.
func (c *Config) Validate() error {
	var problems []string

	if c.API.PrimaryKey == "" {
		problems = append(problems, "api.primary_key is required")
	}
	if c.API.TertiaryKey == "" {
		problems = append(problems, "api.tertiary_key is required")
	}
	if c.DB.URL == "" {
		problems = append(problems, "db.url is required")
	}
	if c.API.PrimaryConcurrency < 1 || c.API.PrimaryConcurrency > 500 {
		problems = append(problems, fmt.Sprintf("api.primary_concurrency %d out of range [1,500]", c.API.PrimaryConcurrency))
	}
	if c.API.SecondaryConcurrency < 1 || c.API.SecondaryConcurrency > 500 {
		problems = append(problems, fmt.Sprintf("api.secondary_concurrency %d out of range [1,500]", c.API.SecondaryConcurrency))
	}
	if c.API.TertiaryConcurrency < 1 || c.API.TertiaryConcurrency > 500 {
		problems = append(problems, fmt.Sprintf("api.tertiary_concurrency %d out of range [1,500]", c.API.TertiaryConcurrency))
	}
	if c.Fetch.BatchEODDays < 1 || c.Fetch.BatchEODDays > 365 {
		problems = append(problems, fmt.Sprintf("fetch.batch_eod_days %d out of range [1,365]", c.Fetch.BatchEODDays))
	}
	if c.Fetch.StalenessHours < 0 {
		problems = append(problems, "fetch.staleness_hours must be >= 0")
	}
	if c.Fetch.CompanyCacheDays < 0 {
		problems = append(problems, "fetch.company_cache_days must be >= 0")
	}
	if c.Fetch.EmptyRunsBeforeExclude < 1 {
		problems = append(problems, "fetch.empty_runs_before_exclude must be >= 1")
	}
	if c.DB.UpsertBatchSize < 1 || c.DB.UpsertBatchSize > 10000 {
		problems = append(problems, fmt.Sprintf("db.upsert_batch_size %d out of range [1,10000]", c.DB.UpsertBatchSize))
	}
	if _, err := time.Parse("2006-01-02", c.Fetch.PricesStartDate); err != nil {
		problems = append(problems, fmt.Sprintf("fetch.prices_start_date %q is not YYYY-MM-DD", c.Fetch.PricesStartDate))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
