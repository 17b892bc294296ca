package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that
// cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Slabs larger than the ceiling would make slab iteration exceed the
	// very bound it exists to honor.
	if cfg.Memory.SlabBytes > cfg.Memory.CeilingBytes {
		return fmt.Errorf("memory: slab_bytes (%d) exceeds ceiling_bytes (%d)",
			cfg.Memory.SlabBytes, cfg.Memory.CeilingBytes)
	}

	// Polling slower than the timeout would allow at most one attempt.
	if cfg.Lock.PollInterval > cfg.Lock.Timeout {
		return fmt.Errorf("lock: poll_interval (%s) exceeds timeout (%s)",
			cfg.Lock.PollInterval, cfg.Lock.Timeout)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
