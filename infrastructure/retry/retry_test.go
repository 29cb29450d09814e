package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/retry"
)

var errTransient = errors.New("dial tcp 127.0.0.1:9092: connection refused")

func fastConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Retry(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	t.Parallel()

	permanent := errors.New("pq: duplicate key value")
	calls := 0
	err := retry.Retry(context.Background(), fastConfig(5), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	err := retry.Retry(context.Background(), fastConfig(2), func() error { return errTransient })
	if !errors.Is(err, retry.ErrMaxAttemptsExceeded) {
		t.Errorf("err = %v, want ErrMaxAttemptsExceeded", err)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("err = %v, want it to wrap the last error", err)
	}
}

func TestRetry_AlwaysRetriesAnyError(t *testing.T) {
	t.Parallel()

	cfg := fastConfig(2)
	cfg.IsRetryable = retry.Always
	calls := 0
	_ = retry.Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("sink rejected capture")
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.Retry(ctx, fastConfig(3), func() error { return nil })
	if !errors.Is(err, retry.ErrContextCancelled) {
		t.Errorf("err = %v, want ErrContextCancelled", err)
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"i/o timeout":               true,
		"read: connection reset":    true,
		"unexpected EOF":            true,
		"invalid input syntax":      false,
		"context deadline exceeded": true,
	}
	for msg, want := range cases {
		if got := retry.DefaultIsRetryable(errors.New(msg)); got != want {
			t.Errorf("DefaultIsRetryable(%q) = %v, want %v", msg, got, want)
		}
	}
	if retry.DefaultIsRetryable(nil) {
		t.Error("DefaultIsRetryable(nil) = true, want false")
	}
}
