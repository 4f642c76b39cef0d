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

	// JWT secret
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
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
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Sprintf("GRPC_PORT must be 1–65535, got %d", c.GRPC.Port))
	}

	// Stores and policies
	if !oneOf(c.RateLimit.Store, "redis", "memory") {
		errs = append(errs, fmt.Sprintf("RATELIMIT_STORE must be redis or memory, got %q", c.RateLimit.Store))
	}
	if !oneOf(c.RateLimit.FailurePolicy, "fail_open", "fail_closed") {
		errs = append(errs, fmt.Sprintf("RATELIMIT_FAILURE_POLICY must be fail_open or fail_closed, got %q", c.RateLimit.FailurePolicy))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, "RATELIMIT_WINDOW must be positive")
	}
	for tier, limit := range c.RateLimit.TierLimits {
		if limit < 1 {
			errs = append(errs, fmt.Sprintf("RATELIMIT_TIER_%s must be at least 1, got %d", tier, limit))
		}
	}
	if !oneOf(c.Breaker.Store, "redis", "memory") {
		errs = append(errs, fmt.Sprintf("BREAKER_STORE must be redis or memory, got %q", c.Breaker.Store))
	}
	if !oneOf(c.Breaker.UnavailablePolicy, "assume_open", "assume_closed") {
		errs = append(errs, fmt.Sprintf("BREAKER_UNAVAILABLE_POLICY must be assume_open or assume_closed, got %q", c.Breaker.UnavailablePolicy))
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		errs = append(errs, "BREAKER_SUCCESS_THRESHOLD must be at least 1")
	}
	if c.Breaker.OpenDuration <= 0 {
		errs = append(errs, "BREAKER_OPEN_DURATION must be positive")
	}

	// Warn only
	if c.GRPC.APIKey == "" {
		slog.Warn("GRPC_API_KEY is empty, gRPC health endpoint has no authentication")
	}
	if c.RateLimit.Store == "memory" || c.Breaker.Store == "memory" {
		slog.Warn("in-process stores configured, state is not shared between instances and is lost on restart")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
