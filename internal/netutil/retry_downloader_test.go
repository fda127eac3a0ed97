package netutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

type downloaderFunc func(ctx context.Context, url string) ([]byte, error)

func (f downloaderFunc) Download(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

func TestRetryDownloader_NoRetryOnClientStatusError(t *testing.T) {
	var calls int

	r := &RetryDownloader{
		Direct: downloaderFunc(func(_ context.Context, url string) ([]byte, error) {
			calls++
			return nil, &HTTPStatusError{StatusCode: 404, URL: url}
		}),
		BaseDelay: time.Millisecond,
	}

	_, err := r.Download(context.Background(), "https://example.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected single attempt on 404, got %d", calls)
	}
}

func TestRetryDownloader_RetriesServerStatusError(t *testing.T) {
	var calls int

	r := &RetryDownloader{
		Direct: downloaderFunc(func(_ context.Context, url string) ([]byte, error) {
			calls++
			if calls < 3 {
				return nil, &HTTPStatusError{StatusCode: 503, URL: url}
			}
			return []byte("payload"), nil
		}),
		Attempts:  3,
		BaseDelay: time.Millisecond,
	}

	body, err := r.Download(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body %q", string(body))
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryDownloader_NoRetryOnNonRetryableError(t *testing.T) {
	var calls int
	inner := errors.New("bad url")

	r := &RetryDownloader{
		Direct: downloaderFunc(func(_ context.Context, _ string) ([]byte, error) {
			calls++
			return nil, &NonRetryableError{Err: inner}
		}),
		BaseDelay: time.Millisecond,
	}

	_, err := r.Download(context.Background(), "::::")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, inner) {
		t.Fatalf("expected wrapped inner error, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
}

func TestRetryDownloader_RetryOnNetworkError(t *testing.T) {
	var calls int

	r := &RetryDownloader{
		Direct: downloaderFunc(func(_ context.Context, _ string) ([]byte, error) {
			calls++
			if calls == 1 {
				return nil, context.DeadlineExceeded
			}
			return []byte("recovered"), nil
		}),
		BaseDelay: time.Millisecond,
	}

	body, err := r.Download(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("expected retry success, got %v", err)
	}
	if string(body) != "recovered" {
		t.Fatalf("unexpected body %q", string(body))
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryDownloader_NoRetryWhenContextDone(t *testing.T) {
	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &RetryDownloader{
		Direct: downloaderFunc(func(_ context.Context, _ string) ([]byte, error) {
			calls++
			return nil, context.Canceled
		}),
		BaseDelay: time.Millisecond,
	}

	_, err := r.Download(ctx, "https://example.com")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry when context is done, got %d attempts", calls)
	}
}

func TestRetryDownloader_ExhaustedReturnsLastError(t *testing.T) {
	var calls int
	lastErr := errors.New("still down")

	r := &RetryDownloader{
		Direct: downloaderFunc(func(_ context.Context, _ string) ([]byte, error) {
			calls++
			if calls < 3 {
				return nil, context.DeadlineExceeded
			}
			return nil, lastErr
		}),
		Attempts:  3,
		BaseDelay: time.Millisecond,
	}

	_, err := r.Download(context.Background(), "https://example.com")
	if !errors.Is(err, lastErr) {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
