package netutil

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryDownloader decorates a Downloader with exponential-backoff retries
// for transient failures. Used for release-artifact downloads where upstream
// hiccups are common but a stale result is worse than a slow one.
type RetryDownloader struct {
	Direct Downloader
	// Attempts is the total attempt count including the first. If <= 0,
	// it defaults to 3.
	Attempts int
	// BaseDelay seeds the backoff (doubled per retry, with jitter).
	// If <= 0, it defaults to 500ms.
	BaseDelay time.Duration
}

// Download attempts the direct download, retrying transient failures with
// capped exponential backoff. Caller cancellation always wins.
func (r *RetryDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := r.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, jittered(delay)); err != nil {
				return nil, lastErr
			}
			delay *= 2
		}

		body, err := r.Direct.Download(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !shouldRetry(err) || ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// shouldRetry reports whether the error class is worth another attempt.
// Setup failures and definitive HTTP statuses are final; network-level
// errors and server-side 5xx/429 responses are transient.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	return true
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// Up to +25% jitter to spread concurrent retriers.
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
