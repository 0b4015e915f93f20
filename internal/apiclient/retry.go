package apiclient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/localrivet/npamcp/internal/errortypes"
)

// ErrRateLimitExceedsDeadline is returned when waiting for the rate limiter
// would outlast the caller's deadline. It is not retried.
var ErrRateLimitExceedsDeadline = errors.New("rate limit wait would exceed the context deadline")

// RequestWithRetry calls Request up to the configured number of attempts.
// Retryable failures wait RetryDelay*2^n plus up to one second of jitter
// before attempt n+1. When attempts run out the last error is returned as is.
func (c *Client) RequestWithRetry(ctx context.Context, path string, opts RequestOptions, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.metrics.IncRetry(methodOf(opts))
			c.logger.Warn("Retrying Resource API request",
				"path", path,
				"attempt", attempt+1,
				"max_attempts", c.retryAttempts,
				"delay", delay,
				"error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		lastErr = c.Request(ctx, path, opts, out)
		if lastErr == nil {
			if attempt > 0 {
				c.logger.Info("Resource API request succeeded after retry", "path", path, "attempts", attempt+1)
			}
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// backoff returns the delay before retry n (0-based).
func (c *Client) backoff(n int) time.Duration {
	return c.retryDelay*time.Duration(1<<uint(n)) + c.jitter()
}

// IsRetryable classifies err. Client errors (4xx), malformed input and
// caller cancellation are terminal; timeouts, server errors and transport
// failures are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrRateLimitExceedsDeadline) {
		return false
	}
	if httpErr, ok := errortypes.AsHTTPError(err); ok {
		return httpErr.Retryable()
	}
	switch {
	case errortypes.IsFormatError(err),
		errortypes.IsValidationError(err),
		errortypes.IsNotFoundError(err),
		errortypes.IsType(err, errortypes.ErrorTypeInternal),
		errortypes.IsType(err, errortypes.ErrorTypeConfig):
		return false
	}
	return true
}

func methodOf(opts RequestOptions) string {
	if opts.Method == "" {
		return "GET"
	}
	return strings.ToUpper(opts.Method)
}
