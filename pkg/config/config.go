package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete nxtree configuration.
//
// This structure captures all configurable aspects of the tooling:
//   - Logging configuration
//   - Container store selection and configuration (store-specific)
//   - Write-lock behavior
//   - Memory ceiling and slab sizing for lazy field access
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NXTREE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store Configuration Pattern:
// Each store backend defines its own option set. The Config struct
// contains type-specific sections (store.native, store.badger, ...) and
// only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Store specifies the container store type and type-specific options
	Store StoreConfig `mapstructure:"store"`

	// Lock controls write-lock acquisition and staleness
	Lock LockConfig `mapstructure:"lock"`

	// Memory bounds in-memory payload staging and slab iteration
	Memory MemoryConfig `mapstructure:"memory"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// StoreConfig specifies container store configuration.
//
// The Type field determines which backend is used. Only the corresponding
// type-specific section is consulted.
type StoreConfig struct {
	// Type specifies which store backend to use
	// Valid values: native, memory, badger, s3
	Type string `mapstructure:"type" validate:"required,oneof=native memory badger s3"`

	// Native contains single-file backend options
	// Only used when Type = "native"
	Native map[string]any `mapstructure:"native"`

	// Badger contains BadgerDB backend options
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// S3 contains S3 backend options
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// LockConfig controls the container write lock.
type LockConfig struct {
	// Timeout bounds how long lock acquisition polls before giving up
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0"`

	// PollInterval is the delay between acquisition attempts
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`

	// Expiry is the age past which a foreign lock marker is considered
	// stale regardless of holder liveness; zero disables age-based expiry
	Expiry time.Duration `mapstructure:"expiry" validate:"gte=0"`
}

// MemoryConfig bounds in-memory payload handling.
type MemoryConfig struct {
	// CeilingBytes is the largest payload loaded whole into memory;
	// larger fields must be accessed slab by slab
	CeilingBytes uint64 `mapstructure:"ceiling_bytes" validate:"required,gt=0"`

	// SlabBytes is the target slab size for iteration
	SlabBytes uint64 `mapstructure:"slab_bytes" validate:"required,gt=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NXTREE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the NXTREE_ prefix and underscores.
	// Example: NXTREE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NXTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/nxtree/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable: use defaults.
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// the current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nxtree")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nxtree")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
