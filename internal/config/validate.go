package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota: the timezone must load, the fail policy must be an
	// explicit choice, and the fallback limit must be usable.
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("QUOTA_TIMEZONE %q is not a valid IANA timezone", c.Quota.Timezone))
	}
	if c.Quota.FailPolicy != "open" && c.Quota.FailPolicy != "closed" {
		errs = append(errs, fmt.Sprintf("QUOTA_FAIL_POLICY must be \"open\" or \"closed\", got %q", c.Quota.FailPolicy))
	}
	if c.Quota.FallbackDailyLimit < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_FALLBACK_DAILY_LIMIT must be positive, got %d", c.Quota.FallbackDailyLimit))
	}

	if c.RateLimit.ToolsPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("RATELIMIT_TOOLS_PER_MINUTE must be positive, got %d", c.RateLimit.ToolsPerMinute))
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
