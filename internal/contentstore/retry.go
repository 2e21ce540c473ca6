package contentstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for uploads that might fail transiently.
type RetryConfig struct {
	// MaxRetries is the maximum number of retries before giving up
	MaxRetries int

	// InitialBackoff is the duration to wait before the first retry
	InitialBackoff time.Duration

	// MaxBackoff is the maximum duration to wait between retries
	MaxBackoff time.Duration

	// BackoffFactor is the factor by which to increase backoff after each retry
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry policy used by the network-backed stores.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// statusError is returned by HTTP-backed stores for non-success responses.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// retryableCodes are S3 and gateway error codes worth another attempt.
var retryableCodes = []string{
	"RequestTimeout",
	"InternalError",
	"SlowDown",
	"ServiceUnavailable",
	"ThrottlingException",
	"RequestLimitExceeded",
}

// IsRetryable determines if an error should be retried based on its type or message.
func (rc RetryConfig) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests
	}

	for _, code := range retryableCodes {
		if strings.Contains(err.Error(), code) {
			return true
		}
	}

	lowerErr := strings.ToLower(err.Error())
	return strings.Contains(lowerErr, "timeout") ||
		strings.Contains(lowerErr, "connection") ||
		strings.Contains(lowerErr, "reset") ||
		strings.Contains(lowerErr, "broken pipe") ||
		strings.Contains(lowerErr, "unavailable")
}

// retryWithBackoff retries fn with exponential backoff until it succeeds, fails
// with a non-retryable error, or the retry budget is spent.
func retryWithBackoff(ctx context.Context, logger *slog.Logger, operation string, fn func() error, config RetryConfig) error {
	var err error
	var attempt int

	for attempt = 0; attempt <= config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		}

		if attempt > 0 {
			logger.Debug("retrying", "operation", operation, "attempt", attempt, "max", config.MaxRetries)
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}

		if !config.IsRetryable(err) {
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		backoff := backoffDuration(attempt, config)
		logger.Debug("backing off", "operation", operation, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during retry: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempt+1, err)
}

// backoffDuration calculates the backoff for a retry attempt with ±20% jitter.
func backoffDuration(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffFactor, float64(attempt))

	jitter := (rand.Float64() * 0.4) - 0.2
	backoff = backoff * (1 + jitter)

	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}
