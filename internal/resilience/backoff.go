package resilience

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

// BackoffConfig holds configuration for exponential backoff between
// reconnect attempts.
type BackoffConfig struct {
	Base       time.Duration // Delay after the first failure
	Max        time.Duration // Delay ceiling
	Multiplier float64       // Growth factor per consecutive failure
	Jitter     time.Duration // Upper bound of the random jitter added per delay
}

// DefaultBackoffConfig returns the reconnect backoff defaults.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Base:       500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
		Jitter:     250 * time.Millisecond,
	}
}

// Delay returns the backoff for the given zero-based consecutive failure
// count: base, base*m, base*m^2, ... capped at Max, plus random jitter to
// avoid thundering-herd reconnects.
func (c *BackoffConfig) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := time.Duration(float64(c.Base) * math.Pow(c.Multiplier, float64(failures)))
	if d > c.Max || d <= 0 {
		d = c.Max
	}
	if c.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.Jitter)))
	}
	return d
}

// RetryConfig holds configuration for bounded retry of short operations.
type RetryConfig struct {
	MaxAttempts    int           // Maximum number of attempts
	InitialBackoff time.Duration // Backoff after the first failure
	MaxBackoff     time.Duration // Backoff ceiling
	Multiplier     float64       // Growth factor
}

// DefaultRetryConfig returns a default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// IsRetryableError decides whether an error is worth retrying.
type IsRetryableError func(error) bool

// Retry executes fn with exponential backoff until it succeeds, a
// non-retryable error occurs, or MaxAttempts is reached.
func Retry(fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < config.MaxAttempts-1 {
			time.Sleep(backoff)
			backoff = time.Duration(float64(backoff) * config.Multiplier)
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return lastErr
}

// IsRetryableNetworkError reports whether an error looks like a transient
// network condition worth reconnecting through.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Connection errors
	if containsAny(errStr, []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"abnormal closure",
		"unavailable",
		"network is unreachable",
		"no route to host",
		"broken pipe",
	}) {
		return true
	}

	// Timeout errors
	if containsAny(errStr, []string{
		"deadline exceeded",
		"context deadline exceeded",
		"timeout",
		"i/o timeout",
	}) {
		return true
	}

	// Resource exhaustion (may be temporary)
	if containsAny(errStr, []string{
		"resource exhausted",
		"too many connections",
		"rate limit",
	}) {
		return true
	}

	return false
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// RetryableError wraps an error to mark it as retryable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable; nil stays nil.
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
