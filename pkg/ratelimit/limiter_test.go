package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d rejected within burst", i+1)
		}
	}
	if rl.Allow() {
		t.Error("request beyond burst must be rejected")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	if !rl.Allow() {
		t.Fatal("first request rejected")
	}
	if rl.Allow() {
		t.Fatal("bucket must be empty")
	}

	// 100 токенов/сек: через 20мс токен должен вернуться
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow() {
		t.Error("token not refilled after waiting")
	}
}

func TestWaitBlocksUntilToken(t *testing.T) {
	rl := NewRateLimiter(50, 1)
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	// 50 токенов/сек: второй запрос ждет порядка 20мс
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Wait returned after %v, want a visible delay", elapsed)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	_ = rl.Allow() // опустошаем ведро

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.rate != 10 || rl.burst != 20 {
		t.Errorf("defaults = %v/%v, want 10/20", rl.rate, rl.burst)
	}

	// burst не может быть меньше rate
	rl = NewRateLimiter(10, 5)
	if rl.burst != 10 {
		t.Errorf("burst = %v, want clamped to 10", rl.burst)
	}
}
