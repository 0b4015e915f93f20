package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/npamcp/internal/errortypes"
)

func validConfig() *Config {
	cfg := NewConfig()
	cfg.API.BaseURL = "https://tenant.goskope.com/api/v2"
	cfg.API.Token = "secret-token-1234"
	return cfg
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, DefaultTimeoutMs, cfg.API.TimeoutMs)
	assert.Equal(t, DefaultRetryAttempts, cfg.API.RetryAttempts)
	assert.Equal(t, DefaultRetryDelayMs, cfg.API.RetryDelayMs)
	assert.Equal(t, DefaultCacheTTLSeconds, cfg.Cache.TTLSeconds)
	assert.Equal(t, DefaultCacheMaxEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)

	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, time.Second, cfg.RetryDelay())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"missing_base_url", func(c *Config) { c.API.BaseURL = "" }, ErrMissingBaseURL},
		{"relative_base_url", func(c *Config) { c.API.BaseURL = "/api/v2" }, ErrInvalidBaseURL},
		{"bad_scheme", func(c *Config) { c.API.BaseURL = "ftp://tenant.example.com" }, ErrInvalidBaseURL},
		{"missing_token", func(c *Config) { c.API.Token = "" }, ErrMissingToken},
		{"zero_timeout", func(c *Config) { c.API.TimeoutMs = 0 }, nil},
		{"zero_attempts", func(c *Config) { c.API.RetryAttempts = 0 }, nil},
		{"negative_delay", func(c *Config) { c.API.RetryDelayMs = -1 }, nil},
		{"negative_cache", func(c *Config) { c.Cache.MaxEntries = -5 }, nil},
		{"token_with_space", func(c *Config) { c.API.Token = "abc def" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.name == "valid" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errortypes.IsType(err, errortypes.ErrorTypeConfig))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestApplyAliasesUsesLegacyKey(t *testing.T) {
	cfg := validConfig()
	cfg.API.Token = ""
	cfg.API.LegacyKey = "  legacy-key  "
	cfg.API.BaseURL = " https://tenant.goskope.com/api/v2 "

	cfg.ApplyAliases()

	assert.Equal(t, "legacy-key", cfg.API.Token)
	assert.Equal(t, "https://tenant.goskope.com/api/v2", cfg.API.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestApplyAliasesPrefersToken(t *testing.T) {
	cfg := validConfig()
	cfg.API.LegacyKey = "legacy-key"

	cfg.ApplyAliases()

	assert.Equal(t, "secret-token-1234", cfg.API.Token)
}

func TestRedactedMasksToken(t *testing.T) {
	cfg := validConfig()
	summary := cfg.Redacted()

	assert.Equal(t, "*************1234", summary["api_token"])
	assert.Equal(t, cfg.API.BaseURL, summary["base_url"])

	cfg.API.Token = "abc"
	assert.Equal(t, "****", cfg.Redacted()["api_token"])
}

func TestSaveToFileRoundTrip(t *testing.T) {
	for _, key := range []string{"BASE_URL", "API_TOKEN", "API_KEY", "TIMEOUT_MS", "CACHE_TTL_SECONDS", "JOURNAL_PATH"} {
		t.Setenv(EnvPrefix+"_"+key, "")
	}

	cfg := validConfig()
	cfg.API.TimeoutMs = 5000
	cfg.Cache.TTLSeconds = 60
	cfg.Journal.SQLitePath = "/var/lib/npamcp/journal.db"

	path := filepath.Join(t.TempDir(), "nested", "npamcp.json")
	require.NoError(t, cfg.SaveToFile(path))
	assert.Equal(t, path, cfg.GetConfigPath())

	loaded, err := LoadConfigWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.API.BaseURL, loaded.API.BaseURL)
	assert.Equal(t, cfg.API.Token, loaded.API.Token)
	assert.Equal(t, 5*time.Second, loaded.Timeout())
	assert.Equal(t, time.Minute, loaded.CacheTTL())
	assert.Equal(t, "/var/lib/npamcp/journal.db", loaded.Journal.SQLitePath)
	assert.Equal(t, path, loaded.GetConfigPath())
	assert.Equal(t, path, loaded.Redacted()["config_path"])
}

func TestEnvOverridesFile(t *testing.T) {
	cfg := validConfig()
	path := filepath.Join(t.TempDir(), "npamcp.json")
	require.NoError(t, cfg.SaveToFile(path))

	t.Setenv(EnvPrefix+"_API_TOKEN", "")
	t.Setenv(EnvPrefix+"_BASE_URL", "https://other.goskope.com/api/v2")

	loaded, err := LoadConfigWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, "https://other.goskope.com/api/v2", loaded.API.BaseURL)
	assert.Equal(t, cfg.API.Token, loaded.API.Token)
}
