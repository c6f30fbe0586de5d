package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"wfengine/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, nil, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, nil, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	errTransient := errors.New("transient")
	errPermanent := errors.New("permanent")
	attempts := 0

	err := Retry(context.Background(), 5, 0, func(err error) bool {
		return errors.Is(err, errTransient)
	}, func() error {
		attempts++
		if attempts == 1 {
			return errTransient
		}
		return fmt.Errorf("wrapped: %w", errPermanent)
	})

	if !errors.Is(err, errPermanent) {
		t.Fatalf("Retry error = %v, want the permanent error", err)
	}
	if attempts != 2 {
		t.Errorf("Retry called fn %d times, want 2", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, 5, time.Hour, nil, func() error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl != nil {
		t.Fatal("NewRateLimiter(0) should return nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait = %v, want nil", err)
	}
}

func TestRateLimiterBurstAndSpacing(t *testing.T) {
	clock := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 2) // one token per second
	rl.now = func() time.Time { return clock }
	rl.last = clock

	for i := 0; i < 2; i++ {
		if d := rl.reserve(); d != 0 {
			t.Fatalf("burst reservation %d waited %v, want 0", i, d)
		}
	}
	if d := rl.reserve(); d != time.Second {
		t.Errorf("third reservation = %v, want 1s", d)
	}
	if d := rl.reserve(); d != 2*time.Second {
		t.Errorf("fourth reservation = %v, want 2s", d)
	}

	// Half a second later the queue has moved up by half a token.
	clock = clock.Add(500 * time.Millisecond)
	if d := rl.reserve(); d != 2500*time.Millisecond {
		t.Errorf("fifth reservation = %v, want 2.5s", d)
	}

	// A long pause refills the bucket to burst, never beyond.
	clock = clock.Add(time.Hour)
	for i := 0; i < 2; i++ {
		if d := rl.reserve(); d != 0 {
			t.Errorf("refilled reservation %d waited %v, want 0", i, d)
		}
	}
	if d := rl.reserve(); d != time.Second {
		t.Errorf("reservation past refilled burst = %v, want 1s", d)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should not block: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled context = %v, want context.Canceled", err)
	}
}

func TestTradingCalendarMinBars(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	if cal.Market() != domain.MarketUS {
		t.Errorf("Market() = %q, want us", cal.Market())
	}
	// (60 + 252 + 63) × 0.6 = 225
	if got := cal.MinBars(375); got != 225 {
		t.Errorf("MinBars(375) = %d, want 225", got)
	}
	if got := cal.MinBars(1); got != 1 {
		t.Errorf("MinBars(1) = %d, want 1", got)
	}
	if got := cal.WithDensity(1).MinBars(10); got != 10 {
		t.Errorf("WithDensity(1).MinBars(10) = %d, want 10", got)
	}
	if got := cal.WithDensity(0).Density(); got != DefaultDensity {
		t.Errorf("WithDensity(0) density = %v, want default", got)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "text").Info("hidden")
	newLogger(&buf, "warn", "text").Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Errorf("text logger output = %q", out)
	}

	buf.Reset()
	newLogger(&buf, "debug", "").Debug("json")
	if !strings.Contains(buf.String(), `"msg":"json"`) {
		t.Errorf("json logger output = %q", buf.String())
	}
}
