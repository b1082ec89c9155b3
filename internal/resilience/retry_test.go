package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewProviderError("asr", errors.New("overloaded"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return NewProviderError("inference", errors.New("overloaded"), 529)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	var calls int
	permanent := NewProviderError("asr", errors.New("bad request"), 400)
	err := Do(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("error = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, fastRetryConfig(5), func(ctx context.Context) error {
		calls++
		cancel()
		return NewProviderError("retrieval", errors.New("timeout"), 504)
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoVal_PreservesValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewProviderError("asr", errors.New("flaky"), 502)
		}
		return "transcript", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "transcript" {
		t.Errorf("val = %q, want %q", val, "transcript")
	}
}

func TestDoVal_ZeroValueOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), fastRetryConfig(2), func(ctx context.Context) (int, error) {
		return 42, NewProviderError("inference", errors.New("down"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("val = %d, want zero value on failure", val)
	}
}

func TestDo_ShouldRetryOverride(t *testing.T) {
	var calls int
	sentinel := errors.New("retry me anyway")
	cfg := fastRetryConfig(3)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return sentinel
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetryConfig(3)
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewProviderError("dispatch", errors.New("unavailable"), 503)
	})
	if len(attempts) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
}

func TestComputeBackoff_GrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
	if got := computeBackoff(0, cfg); got != 100*time.Millisecond {
		t.Errorf("attempt 0 backoff = %v, want 100ms", got)
	}
	if got := computeBackoff(1, cfg); got != 200*time.Millisecond {
		t.Errorf("attempt 1 backoff = %v, want 200ms", got)
	}
	if got := computeBackoff(5, cfg); got != 300*time.Millisecond {
		t.Errorf("attempt 5 backoff = %v, want cap 300ms", got)
	}
}
