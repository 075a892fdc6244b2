package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/evreg/internal/metrics"
)

var ErrLimited = errors.New("rate limited")

// Limiter is satisfied by the Redis sliding window limiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

// Error carries the wait suggested to the caller.
type Error struct {
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e *Error) Unwrap() error { return ErrLimited }

// Check consults l for key. A nil limiter or empty key always passes.
// Limiter failures let the request through; they are logged and counted.
func Check(ctx context.Context, l Limiter, key string, logger *slog.Logger) error {
	if l == nil || key == "" {
		return nil
	}

	ok, _, retry, err := l.Allow(ctx, key)
	if err != nil {
		metrics.RateLimiterFailed()
		if logger != nil {
			logger.WarnContext(ctx, "rate limiter unavailable, request allowed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	if !ok {
		return &Error{RetryAfter: retry}
	}
	return nil
}
