package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 per second = one token every 100ms, starting with one.
	l := New(Config{RatePerSecond: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "owner:42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "owner:42"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "owner:1"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "owner:2"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("owner 2 blocked unexpectedly")
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 0.01, Burst: 1})
	if !l.Allow("owner:9") {
		t.Fatal("expected initial token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "owner:9")
	if err == nil {
		t.Fatal("expected wait to fail once the context expires")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancel error: %v", err)
	}
}

func TestLimiter_DisabledWhenRateNotPositive(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("owner:1") {
			t.Fatalf("call %d throttled with limiting disabled", i)
		}
	}
}
