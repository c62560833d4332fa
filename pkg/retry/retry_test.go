package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, fastConfig(4))

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("persistent failure")
	err := Do(context.Background(), func() error {
		calls++
		return wantErr
	}, fastConfig(2))

	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoWithResultReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("try again")
		}
		return 42, nil
	}, fastConfig(3))

	if err != nil {
		t.Fatalf("DoWithResult failed: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestRetryIfStopsEarly(t *testing.T) {
	calls := 0
	fatal := errors.New("not retryable")

	cfg := fastConfig(4)
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, fatal) }

	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, cfg)

	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1: non-retryable error must stop immediately", calls)
	}
}

func TestOnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), func() error {
		return errors.New("always fails")
	}, cfg)

	// Последняя попытка не порождает callback
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := Config{
		MaxAttempts:  10,
		InitialDelay: time.Hour, // отмена должна прервать ожидание
		Multiplier:   2.0,
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, func() error {
			calls++
			return errors.New("failure")
		}, cfg)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("want error after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPermanentAndTemporary(t *testing.T) {
	base := errors.New("boom")

	if IsRetryable(Permanent(base)) {
		t.Error("permanent error must not be retryable")
	}
	if !IsRetryable(Temporary(base)) {
		t.Error("temporary error must be retryable")
	}
	if !IsRetryable(base) {
		t.Error("unclassified error defaults to retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}

	if !errors.Is(Permanent(base), base) {
		t.Error("Permanent must preserve the error chain")
	}
}

func TestCalculateDelayBounds(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
	cfg.validate()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond}, // ограничено MaxDelay
		{5, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := cfg.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
