package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all shell core configuration. It is built once at
// startup and passed by value into the server; nothing mutates it at
// runtime.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Policy    PolicyConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8750"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// StorageConfig holds on-disk storage configuration.
type StorageConfig struct {
	// DataDir is the root for all persisted state. Conversation
	// records live under DataDir/conversations.
	DataDir string `envconfig:"DATA_DIR" default:""`
}

// PolicyConfig holds navigation policy configuration.
type PolicyConfig struct {
	// AllowlistPath optionally points at a YAML ruleset that replaces
	// the built-in domain allow-list.
	AllowlistPath string `envconfig:"POLICY_ALLOWLIST" default:""`

	// ExternalRedirects controls non-user-initiated navigations to
	// external hosts: "allow" (default, matches upstream behavior) or
	// "block". Flagged default pending product confirmation.
	ExternalRedirects string `envconfig:"POLICY_EXTERNAL_REDIRECTS" default:"allow"`

	// PopupCloseDelayMs is how long a login popup lingers after
	// returning to the application before it is closed.
	PopupCloseDelayMs int `envconfig:"POLICY_POPUP_CLOSE_DELAY_MS" default:"1500"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir()
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8750",
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Policy: PolicyConfig{
			ExternalRedirects: "allow",
			PopupCloseDelayMs: 1500,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects values the rest of the system cannot act on.
func (c *Config) Validate() error {
	switch c.Policy.ExternalRedirects {
	case "allow", "block":
	default:
		return fmt.Errorf("invalid POLICY_EXTERNAL_REDIRECTS %q: must be allow or block", c.Policy.ExternalRedirects)
	}
	if c.Policy.PopupCloseDelayMs < 0 {
		return fmt.Errorf("invalid POLICY_POPUP_CLOSE_DELAY_MS %d: must be >= 0", c.Policy.PopupCloseDelayMs)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "claudedesk")
	}
	return filepath.Join(home, ".config", "claudedesk")
}
