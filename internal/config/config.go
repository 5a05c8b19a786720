// Package config loads and validates the SearchX gateway configuration.
//
// DESIGN: All configuration comes from YAML files. Required fields have no
// silent defaults; the binary ships an embedded config that spells them out.
// Values may reference the environment with ${VAR} or ${VAR:-default}.
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate()
//   - completion.go: Completion endpoint settings
//   - monitoring.go: Logging and telemetry settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the SearchX gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`        // HTTP server settings
	Completion    CompletionConfig    `yaml:"completion"`    // Chat-completion endpoint
	Store         StoreConfig         `yaml:"store"`         // Settings store backend
	Notifications NotificationsConfig `yaml:"notifications"` // Adapter push channel
	Monitoring    MonitoringConfig    `yaml:"monitoring"`    // Telemetry and logging
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`            // Port to listen on (loopback only)
	ReadTimeout    time.Duration `yaml:"read_timeout"`    // Max time to read request
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // Max time to write response
	RateLimit      int           `yaml:"rate_limit"`      // Requests per second per client, 0 disables
	AllowedOrigins []string      `yaml:"allowed_origins"` // Extra CORS/WebSocket origin patterns
}

// StoreConfig selects the settings store backend.
type StoreConfig struct {
	Type           string `yaml:"type"`            // "memory" or "sqlite"
	Path           string `yaml:"path"`            // SQLite file, empty = XDG data dir
	Keyring        bool   `yaml:"keyring"`         // Keep the API key in the OS keychain
	KeyringService string `yaml:"keyring_service"` // Keychain service name
}

// NotificationsConfig controls the best-effort push channel to adapters.
type NotificationsConfig struct {
	BufferSize int `yaml:"buffer_size"` // Per-subscriber queue length
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default}.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets packaging scripts relocate files without editing YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SEARCHX_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("SEARCHX_COMPLETION_ENDPOINT"); v != "" {
		c.Completion.Endpoint = v
	}
	if v := os.Getenv("SEARCHX_TELEMETRY_LOG"); v != "" {
		c.Monitoring.TelemetryPath = v
		c.Monitoring.TelemetryEnabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout == 0 {
		return fmt.Errorf("server.write_timeout is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}

	switch c.Store.Type {
	case "":
		return fmt.Errorf("store.type is required")
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store.type: %q (must be memory or sqlite)", c.Store.Type)
	}

	if c.Notifications.BufferSize <= 0 {
		return fmt.Errorf("notifications.buffer_size must be > 0")
	}

	if err := c.Completion.Validate(); err != nil {
		return err
	}
	return c.Monitoring.Validate()
}
