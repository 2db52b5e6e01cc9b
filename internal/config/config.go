package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dhofer/chargesync/internal/gateway"
	"github.com/dhofer/chargesync/internal/push"
	"github.com/dhofer/chargesync/internal/store"
)

// Config represents the application configuration
type Config struct {
	Store   store.Config   `toml:"store"`
	Gateway gateway.Config `toml:"gateway"`
	Push    push.Config    `toml:"push"`
	HTTP    HTTPConfig     `toml:"http"`
	Logging LoggingConfig  `toml:"logging"`
}

// HTTPConfig holds admin HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: store.Config{
			Driver:          "sqlite3",
			DSN:             "chargesync.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Gateway: gateway.DefaultConfig(),
		Push:    push.DefaultConfig(),
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// If no config file specified, return defaults
	if configPath == "" {
		return config, nil
	}

	// Load from file if it exists
	fileConfig, err := LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	return fileConfig, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Store validation
	if c.Store.Driver == "" {
		return fmt.Errorf("store driver must be specified")
	}
	if c.Store.Driver != "sqlite3" {
		return fmt.Errorf("unsupported store driver: %s (must be sqlite3)", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store DSN must be specified")
	}

	// Gateway validation
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url must be specified")
	}
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway request_timeout must be positive")
	}

	// Push validation
	if c.Push.DataFlushInterval <= 0 {
		return fmt.Errorf("push data_flush_interval must be positive")
	}
	if c.Push.StatusFlushInterval <= 0 {
		return fmt.Errorf("push status_flush_interval must be positive")
	}
	if c.Push.StatusLockWait <= 0 {
		return fmt.Errorf("push status_lock_wait must be positive")
	}
	if c.Push.EventBufferSize <= 0 {
		return fmt.Errorf("push event_buffer_size must be positive")
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
