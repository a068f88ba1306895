// Package cloudprobe provides uniform accessors for AWS CloudWatch/RDS,
// Azure Monitor, and Instaclustr's managed-service HTTP API, plus the
// shared retry/backoff helper they all use.
package cloudprobe

import (
	"context"
	"strings"
	"time"
)

// RetryConfig controls Retry's attempt count and backoff schedule.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
}

// DefaultRetryConfig is 3 attempts with doubling backoff: a 1s wait after
// the first failure and a 2s wait after the second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: time.Second, Backoff: 2.0}
}

// retryableSubstrings mirrors should_retry_error's default code list.
var retryableSubstrings = []string{
	"throttling", "requestlimitexceeded", "serviceunavailable",
	"internalerror", "toomanyrequests", "429", "500", "502", "503", "504",
}

// IsTransient classifies an error as retryable by matching its message
// against the known transient-failure vocabulary (rate limiting,
// service unavailability, and 5xx-class responses).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping cfg.Delay after the
// first failed attempt and multiplying the wait by cfg.Backoff after each
// later one (cfg.Delay * cfg.Backoff^(attempt-1)), but only when the error is
// transient per IsTransient; a non-transient error returns immediately.
// It never panics: the caller always receives either a result or the
// last error encountered.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := cfg.Delay
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts || !IsTransient(err) {
			return zero, lastErr
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Backoff)
	}
	return zero, lastErr
}
