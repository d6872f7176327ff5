package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// HTTPError carries a non-200 provider response so callers can classify it.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// RetryConfig controls backoff for transient provider failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryDo runs fn with exponential backoff on retryable errors. Rate-limit
// responses carrying Retry-After override the computed delay.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt, lastErr)
			slog.Warn("provider.retry", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("retries exhausted: %w", lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int, err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	delay := cfg.BaseDelay << (attempt - 1)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// Full jitter keeps concurrent turns from hammering in lockstep.
	return time.Duration(rand.Int64N(int64(delay)) + int64(cfg.BaseDelay)/2)
}

func isRetryable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		// Network-level failures (connection reset, timeout) are retryable.
		return true
	}
	switch httpErr.Status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		529: // anthropic "overloaded"
		return true
	}
	return false
}

// ParseRetryAfter reads a Retry-After header value as delay seconds.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
