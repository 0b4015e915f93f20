package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/configurator"

	"github.com/localrivet/npamcp/internal/errortypes"
)

// Config represents the npamcp configuration. It is loaded once at process
// start and treated as read-only afterwards.
type Config struct {
	// API contains the Resource API connection settings.
	API struct {
		// BaseURL is the absolute URL of the Resource API, e.g. https://tenant.goskope.com/api/v2.
		BaseURL string `json:"base_url" env:"BASE_URL"`

		// Token is the bearer token sent with every request.
		Token string `json:"api_token" env:"API_TOKEN"`

		// LegacyKey is the older name for Token. Used only when Token is empty.
		LegacyKey string `json:"api_key,omitempty" env:"API_KEY"`

		// TimeoutMs bounds a single HTTP attempt.
		TimeoutMs int `json:"timeout_ms" env:"TIMEOUT_MS" validate:"min:1"`

		// RetryAttempts is the total number of attempts, including the first.
		RetryAttempts int `json:"retry_attempts" env:"RETRY_ATTEMPTS" validate:"min:1"`

		// RetryDelayMs is the base backoff delay; attempt n waits RetryDelayMs*2^n plus jitter.
		RetryDelayMs int `json:"retry_delay_ms" env:"RETRY_DELAY_MS"`

		// RateLimitPerSecond caps outbound requests. Zero disables the limiter.
		RateLimitPerSecond float64 `json:"rate_limit_per_second" env:"RATE_LIMIT_PER_SECOND"`
	} `json:"api"`

	// Cache contains GET response cache settings.
	Cache struct {
		TTLSeconds int `json:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
		MaxEntries int `json:"max_entries" env:"CACHE_MAX_ENTRIES"`
	} `json:"cache"`

	// Journal contains the deletion journal settings.
	Journal struct {
		// SQLitePath is the path to the SQLite database file. Empty disables the journal.
		SQLitePath string `json:"sqlite_path" env:"JOURNAL_PATH"`
	} `json:"journal"`

	// Metrics contains the Prometheus listener settings.
	Metrics struct {
		// Addr is the listen address for /metrics, e.g. "127.0.0.1:9464". Empty disables it.
		Addr string `json:"addr" env:"METRICS_ADDR"`
	} `json:"metrics"`

	// Logging contains logging-related configuration.
	Logging struct {
		// Level is the minimum log level to display ("debug", "info", "warn", "error").
		Level string `json:"level" env:"LOG_LEVEL" validate:"required"`

		// Format is the log format to use ("text", "json").
		Format string `json:"format" env:"LOG_FORMAT"`
	} `json:"logging"`

	// Internal state (not saved to config file)
	configPath string       `json:"-"`
	mutex      sync.RWMutex `json:"-"`
}

// Default configuration values
const (
	DefaultConfigFilename = ".npamcpconfig"
	EnvPrefix             = "NETSKOPE"

	DefaultTimeoutMs       = 30000
	DefaultRetryAttempts   = 3
	DefaultRetryDelayMs    = 1000
	DefaultCacheTTLSeconds = 300
	DefaultCacheMaxEntries = 100
	DefaultJournalPath     = ".npamcp.db"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Validation failures surfaced by Validate.
var (
	ErrMissingBaseURL = errors.New("base URL is required")
	ErrInvalidBaseURL = errors.New("base URL must be an absolute http(s) URL")
	ErrMissingToken   = errors.New("API token is required")
)

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	config := &Config{}
	config.API.TimeoutMs = DefaultTimeoutMs
	config.API.RetryAttempts = DefaultRetryAttempts
	config.API.RetryDelayMs = DefaultRetryDelayMs
	config.Cache.TTLSeconds = DefaultCacheTTLSeconds
	config.Cache.MaxEntries = DefaultCacheMaxEntries
	config.Journal.SQLitePath = DefaultJournalPath
	config.Logging.Level = DefaultLogLevel
	config.Logging.Format = DefaultLogFormat
	return config
}

// LoadConfig loads the configuration from the default path
func LoadConfig() (*Config, error) {
	return LoadConfigWithPath(DefaultConfigFilename)
}

// LoadConfigWithPath loads defaults, then the file at configPath if it exists,
// then NETSKOPE_* environment variables, and validates the result.
func LoadConfigWithPath(configPath string) (*Config, error) {
	// Log to stderr; stdout belongs to the MCP transport.
	stdLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := NewConfig()

	if configPath == DefaultConfigFilename {
		foundPath, err := configurator.FindConfigFile(configPath)
		if err == nil {
			configPath = foundPath
			stdLogger.Debug("Found config file at " + foundPath)
		}
	}

	loader := configurator.New(stdLogger).
		WithProvider(configurator.NewDefaultProvider())

	if _, err := os.Stat(configPath); err == nil {
		stdLogger.Info("Loading configuration", "path", configPath)
		loader = loader.WithProvider(configurator.NewFileProvider(configPath))
	} else {
		stdLogger.Info("Config file not found, using defaults and environment", "path", configPath)
	}

	loader = loader.
		WithProvider(configurator.NewEnvProvider(EnvPrefix)).
		WithValidator(configurator.NewDefaultValidator())

	ctx := context.Background()
	if err := loader.Load(ctx, cfg); err != nil {
		return nil, errortypes.ConfigError(err, "failed to load configuration")
	}

	cfg.ApplyAliases()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.configPath = configPath

	return cfg, nil
}

// ApplyAliases resolves legacy setting names. The legacy API key is used
// only when no token is configured.
func (c *Config) ApplyAliases() {
	c.API.BaseURL = strings.TrimSpace(c.API.BaseURL)
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		c.API.Token = strings.TrimSpace(c.API.LegacyKey)
	}
}

// Validate fails fast on a missing or malformed base URL or token and on
// nonsensical numeric settings.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errortypes.ConfigError(ErrMissingBaseURL, "invalid configuration").
			WithField("env", EnvPrefix+"_BASE_URL")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return errortypes.ConfigError(ErrInvalidBaseURL, "invalid configuration").
			WithField("base_url", c.API.BaseURL)
	}
	if c.API.Token == "" {
		return errortypes.ConfigError(ErrMissingToken, "invalid configuration").
			WithField("env", EnvPrefix+"_API_TOKEN")
	}
	if strings.ContainsAny(c.API.Token, " \t\r\n") {
		return errortypes.ConfigError(errors.New("API token must not contain whitespace"), "invalid configuration")
	}
	if c.API.TimeoutMs <= 0 {
		return errortypes.ConfigError(fmt.Errorf("timeout_ms must be positive, got %d", c.API.TimeoutMs), "invalid configuration")
	}
	if c.API.RetryAttempts < 1 {
		return errortypes.ConfigError(fmt.Errorf("retry_attempts must be at least 1, got %d", c.API.RetryAttempts), "invalid configuration")
	}
	if c.API.RetryDelayMs < 0 {
		return errortypes.ConfigError(fmt.Errorf("retry_delay_ms must not be negative, got %d", c.API.RetryDelayMs), "invalid configuration")
	}
	if c.API.RateLimitPerSecond < 0 {
		return errortypes.ConfigError(fmt.Errorf("rate_limit_per_second must not be negative"), "invalid configuration")
	}
	if c.Cache.TTLSeconds < 0 || c.Cache.MaxEntries < 0 {
		return errortypes.ConfigError(errors.New("cache settings must not be negative"), "invalid configuration")
	}
	return nil
}

// Timeout returns the per-attempt timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the base retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.API.RetryDelayMs) * time.Millisecond
}

// CacheTTL returns the GET cache time-to-live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SaveToFile saves the configuration to the specified file
func (c *Config) SaveToFile(path string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := configurator.SaveToFile(c, path, configurator.FormatJSON); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.configPath = path

	return nil
}

// GetConfigPath returns the path the configuration was loaded from or last
// saved to. The file may not exist when only defaults and env were used.
func (c *Config) GetConfigPath() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.configPath
}

// Redacted returns a loggable summary with the token masked.
func (c *Config) Redacted() map[string]interface{} {
	token := ""
	if n := len(c.API.Token); n > 4 {
		token = strings.Repeat("*", n-4) + c.API.Token[n-4:]
	} else if n > 0 {
		token = "****"
	}
	return map[string]interface{}{
		"base_url":          c.API.BaseURL,
		"api_token":         token,
		"timeout_ms":        c.API.TimeoutMs,
		"retry_attempts":    c.API.RetryAttempts,
		"retry_delay_ms":    c.API.RetryDelayMs,
		"cache_ttl_seconds": c.Cache.TTLSeconds,
		"cache_max_entries": c.Cache.MaxEntries,
		"journal_path":      c.Journal.SQLitePath,
		"metrics_addr":      c.Metrics.Addr,
		"config_path":       c.GetConfigPath(),
	}
}
