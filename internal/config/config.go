package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/validate"
)

// Environment variables that override file values.
const (
	EnvBaseURL  = "ARRDECK_BASE_URL"
	EnvAPIToken = "ARRDECK_API_TOKEN"
	EnvLogLevel = "ARRDECK_LOG_LEVEL"
	EnvListen   = "ARRDECK_LISTEN"
)

// Config is the runtime configuration of an arrdeck process.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Cache     CacheConfig     `yaml:"cache"`
	Retry     RetryConfig     `yaml:"retry"`
	Validator ValidatorConfig `yaml:"validator"`
	Poller    PollerConfig    `yaml:"poller"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Log       LogConfig       `yaml:"log"`

	// Apps lists the application scopes the dashboard manages.
	// Empty means every known application.
	Apps []string `yaml:"apps"`
}

// BackendConfig locates the settings backend.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig controls the fetcher cache.
type CacheConfig struct {
	// TTL is the freshness window for configuration documents.
	TTL time.Duration `yaml:"ttl"`

	// StatusTTL is the freshness window for status endpoints.
	StatusTTL time.Duration `yaml:"status_ttl"`

	// Persist enables the on-disk last-known-good cache.
	Persist bool `yaml:"persist"`
}

// RetryConfig controls the read retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ValidatorConfig controls connection validation.
type ValidatorConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	MinURLLength int           `yaml:"min_url_length"`
	MinKeyLength int           `yaml:"min_key_length"`
}

// PollerConfig controls status polling.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// BridgeConfig controls the WebSocket bridge.
type BridgeConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is "info" or "debug".
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://127.0.0.1:9705",
			Timeout: constants.BackendRequestTimeout,
		},
		Cache: CacheConfig{
			TTL:       constants.DocumentCacheTTL,
			StatusTTL: constants.StatusCacheTTL,
			Persist:   true,
		},
		Retry: RetryConfig{
			MaxAttempts: constants.RetryMaxAttempts,
			BaseDelay:   constants.RetryBaseDelay,
			MaxDelay:    constants.RetryMaxDelay,
		},
		Validator: ValidatorConfig{
			Debounce:     constants.ValidatorDebounce,
			MinURLLength: constants.ValidatorMinURLLength,
			MinKeyLength: constants.ValidatorMinKeyLength,
		},
		Poller: PollerConfig{
			Interval: constants.StatusPollPeriod,
		},
		Bridge: BridgeConfig{
			Listen: "127.0.0.1:9706",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		c.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvAPIToken)); v != "" {
		c.Backend.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvListen)); v != "" {
		c.Bridge.Listen = v
	}
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	if err := validate.HTTPURL(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"backend.timeout", c.Backend.Timeout},
		{"cache.ttl", c.Cache.TTL},
		{"cache.status_ttl", c.Cache.StatusTTL},
		{"retry.base_delay", c.Retry.BaseDelay},
		{"retry.max_delay", c.Retry.MaxDelay},
		{"validator.debounce", c.Validator.Debounce},
		{"poller.interval", c.Poller.Interval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay (%s) is below retry.base_delay (%s)", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if c.Validator.MinURLLength < 0 || c.Validator.MinKeyLength < 0 {
		return fmt.Errorf("validator minimum lengths must not be negative")
	}

	switch c.Log.Level {
	case "info", "debug":
	default:
		return fmt.Errorf("log.level %q not supported (info, debug)", c.Log.Level)
	}

	for _, app := range c.Apps {
		if _, ok := constants.ApplicationScopeSet[app]; !ok {
			return fmt.Errorf("apps: unknown application %q", app)
		}
	}
	return nil
}

// EnabledApps returns the application scopes to manage, in canonical order.
func (c *Config) EnabledApps() []string {
	if len(c.Apps) == 0 {
		return append([]string(nil), constants.ApplicationScopes...)
	}
	want := make(map[string]struct{}, len(c.Apps))
	for _, app := range c.Apps {
		want[app] = struct{}{}
	}
	out := make([]string, 0, len(want))
	for _, app := range constants.ApplicationScopes {
		if _, ok := want[app]; ok {
			out = append(out, app)
		}
	}
	return out
}
