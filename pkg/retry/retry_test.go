package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := New(WithMaxAttempts(3), WithFixedDelay(time.Millisecond))
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := New(WithMaxAttempts(3), WithFixedDelay(time.Millisecond))
	calls := 0
	sentinel := errors.New("down")
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return sentinel
	})
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := New(WithMaxAttempts(5), WithFixedDelay(time.Millisecond))
	calls := 0
	sentinel := errors.New("bad params")
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	p := New(WithMaxAttempts(10), WithFixedDelay(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, func(context.Context) error { return errors.New("x") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDelayGrowsUntilCap(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	if d1, d2 := p.Delay(1), p.Delay(2); d2 <= d1 {
		t.Fatalf("expected growth: %v then %v", d1, d2)
	}
	if got := p.Delay(9); got != time.Second {
		t.Fatalf("expected cap %v, got %v", time.Second, got)
	}
}

func TestDelayFixed(t *testing.T) {
	p := New(WithFixedDelay(time.Second))
	for i := 1; i <= 4; i++ {
		if got := p.Delay(i); got != time.Second {
			t.Fatalf("attempt %d: expected 1s, got %v", i, got)
		}
	}
}
