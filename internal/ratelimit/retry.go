package ratelimit

import (
	"math"
	"math/rand"
	"strconv"
	"time"
)

// RetryConfig holds retry/backoff settings for outbound gateway calls.
type RetryConfig struct {
	MaxRetries       int
	InitialBackoffMs int
	MaxBackoffMs     int
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		InitialBackoffMs: 100,
		MaxBackoffMs:     30000,
	}
}

// RetryError represents an error when all retry attempts are exhausted.
type RetryError struct {
	Endpoint   string
	Attempts   int
	LastStatus int
	LastError  error
}

func (e *RetryError) Error() string {
	msg := "failed to call " + e.Endpoint + " after " + strconv.Itoa(e.Attempts) + " attempts"
	if e.LastStatus != 0 {
		msg += " (HTTP " + strconv.Itoa(e.LastStatus) + ")"
	}
	if e.LastError != nil {
		msg += ": " + e.LastError.Error()
	}
	return msg
}

func (e *RetryError) Unwrap() error { return e.LastError }

// IsRetryableStatus checks if an HTTP status code is retryable.
// Retryable: 429, 500-599.
func IsRetryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status < 600)
}

// Backoff calculates exponential backoff delay for a given attempt,
// with 0-25% jitter to prevent thundering herd.
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	exponential := float64(cfg.InitialBackoffMs) * math.Pow(2.0, float64(attempt))
	capped := math.Min(exponential, float64(cfg.MaxBackoffMs))
	jitter := rand.Float64() * 0.25 * capped
	return time.Duration(capped+jitter) * time.Millisecond
}

// RateLimitBackoff calculates backoff for HTTP 429 responses. The server's
// Retry-After header is respected when present; otherwise a steeper 3x
// multiplier is used instead of the usual 2x.
func RateLimitBackoff(attempt int, cfg RetryConfig, retryAfterHeader string) time.Duration {
	if retryAfterHeader != "" {
		if seconds, err := strconv.Atoi(retryAfterHeader); err == nil && seconds > 0 {
			jitter := time.Duration(rand.Int63n(1000)) * time.Millisecond
			return time.Duration(seconds)*time.Second + jitter
		}
	}

	exponential := float64(cfg.InitialBackoffMs) * math.Pow(3.0, float64(attempt))
	capped := math.Min(exponential, float64(cfg.MaxBackoffMs))
	jitter := rand.Float64() * 0.25 * capped
	return time.Duration(capped+jitter) * time.Millisecond
}
