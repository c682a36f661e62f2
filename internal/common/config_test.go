package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.API.PrimaryKey = "pk"
	cfg.API.TertiaryKey = "tk"
	cfg.DB.URL = "postgres://localhost/rawfeed"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 60, cfg.API.PrimaryConcurrency)
	assert.Equal(t, 30, cfg.Fetch.BatchEODDays)
	assert.Equal(t, 20, cfg.Fetch.StalenessHours)
	assert.Equal(t, 5, cfg.Fetch.EmptyRunsBeforeExclude)
	assert.Equal(t, 500, cfg.DB.UpsertBatchSize)
	assert.True(t, cfg.Fetch.UseBatchEOD)
	assert.Contains(t, cfg.Exchange.Allowed, "NYSE")
	assert.Contains(t, cfg.Exchange.BlockedSuffixes, ".HK")
	assert.Equal(t, time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Fetch.GetPricesStartDate())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rawfeed.toml")
	content := `
environment = "production"

[api]
primary_key = "file-key"
primary_concurrency = 10

[fetch]
staleness_hours = 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "file-key", cfg.API.PrimaryKey)
	assert.Equal(t, 10, cfg.API.PrimaryConcurrency)
	assert.Equal(t, 6, cfg.Fetch.StalenessHours)
	// Untouched defaults survive.
	assert.Equal(t, 30, cfg.Fetch.BatchEODDays)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRIMARY_API_KEY", "env-primary")
	t.Setenv("SECONDARY_API_KEY", "env-secondary")
	t.Setenv("DB_URL", "postgres://env/db")
	t.Setenv("RAWFEED_LOG_LEVEL", "debug")
	t.Setenv("RAWFEED_UPSERT_BATCH_SIZE", "250")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "env-primary", cfg.API.PrimaryKey)
	assert.Equal(t, "env-secondary", cfg.API.SecondaryKey)
	assert.True(t, cfg.SecondaryEnabled())
	assert.Equal(t, "postgres://env/db", cfg.DB.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 250, cfg.DB.UpsertBatchSize)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	missing := validConfig()
	missing.API.PrimaryKey = ""
	missing.DB.URL = ""
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.primary_key")
	assert.Contains(t, err.Error(), "db.url")

	outOfRange := validConfig()
	outOfRange.API.PrimaryConcurrency = 0
	outOfRange.Fetch.BatchEODDays = 400
	err = outOfRange.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "primary_concurrency"))
	assert.True(t, strings.Contains(err.Error(), "batch_eod_days"))

	badDate := validConfig()
	badDate.Fetch.PricesStartDate = "01/01/1960"
	require.Error(t, badDate.Validate())
}

func TestForceRun(t *testing.T) {
	t.Setenv("FORCE_RUN", "")
	assert.False(t, ForceRun())

	for _, v := range []string{"1", "true", "YES", "on"} {
		t.Setenv("FORCE_RUN", v)
		assert.True(t, ForceRun(), v)
	}

	t.Setenv("FORCE_RUN", "0")
	assert.False(t, ForceRun())
}

func TestIsFresh(t *testing.T) {
	now := time.Now().UTC()
	assert.True(t, IsFresh(now.Add(-time.Hour), 20*time.Hour))
	assert.False(t, IsFresh(now.Add(-21*time.Hour), 20*time.Hour))
	assert.False(t, IsFresh(time.Time{}, 20*time.Hour))
}
