package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Loop guard must stay a guard
	if c.Memory.MaxDispatches < 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_MAX_DISPATCHES must be at least 1, got %d", c.Memory.MaxDispatches))
	}
	if c.Memory.LockTTL <= 0 {
		errs = append(errs, "MEMORY_LOCK_TTL must be positive")
	}
	if c.Memory.LockRetry <= 0 {
		errs = append(errs, "MEMORY_LOCK_RETRY must be positive")
	} else if c.Memory.LockTTL > 0 && c.Memory.LockRetry >= c.Memory.LockTTL {
		errs = append(errs, "MEMORY_LOCK_RETRY must be shorter than MEMORY_LOCK_TTL")
	}

	// Anthropic API key: warn only, stub capabilities may be in use
	if c.Anthropic.APIKey == "" {
		slog.Warn("ANTHROPIC_API_KEY is empty; model and extraction capabilities will fail")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
