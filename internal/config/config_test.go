package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, SubmitDirect, cfg.SubmitMode)
	assert.Equal(t, 2, cfg.ParseWorkers)
	assert.Equal(t, 2, cfg.TranslateWorkers)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 85, cfg.ParseCloudBand)
	assert.Equal(t, time.Duration(0), cfg.RecordTTL())
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RETRY_BACKOFF_SECONDS", "0.5")
	t.Setenv("PARSE_WORKERS", "4")
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("RECORD_TTL_HOURS", "24")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 4, cfg.ParseWorkers)
	assert.Equal(t, StoreRedis, cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.RecordTTL())
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreDriver:      StoreSQLite,
			SubmitMode:       SubmitDirect,
			ParseWorkers:     1,
			TranslateWorkers: 1,
			PageSize:         10,
			RetryMaxAttempts: 3,
			ParseCloudBand:   85,
		}
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"driver":   func(c *Config) { c.StoreDriver = "mysql" },
		"mode":     func(c *Config) { c.SubmitMode = "later" },
		"attempts": func(c *Config) { c.RetryMaxAttempts = 0 },
		"page":     func(c *Config) { c.PageSize = 0 },
		"band":     func(c *Config) { c.ParseCloudBand = 100 },
		"backoff":  func(c *Config) { c.RetryBackoff = -time.Second },
		"release":  func(c *Config) { c.GinMode = "release" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
