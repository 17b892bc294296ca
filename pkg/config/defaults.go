package config

import (
	"strings"
	"time"
)

// Default sizing for lazy field access.
const (
	DefaultMemoryCeilingBytes = 64 * 1024 * 1024
	DefaultSlabBytes          = 1024 * 1024
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by the backends themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStoreDefaults(&cfg.Store)
	applyLockDefaults(&cfg.Lock)
	applyMemoryDefaults(&cfg.Memory)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyStoreDefaults sets store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "native"
	}

	if cfg.Native == nil {
		cfg.Native = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}

// applyLockDefaults sets write-lock defaults.
func applyLockDefaults(cfg *LockConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = 30 * time.Minute
	}
}

// applyMemoryDefaults sets payload sizing defaults.
func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.CeilingBytes == 0 {
		cfg.CeilingBytes = DefaultMemoryCeilingBytes
	}
	if cfg.SlabBytes == 0 {
		cfg.SlabBytes = DefaultSlabBytes
	}
}
