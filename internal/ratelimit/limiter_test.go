package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiterAllowsWithinWindow(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 3, Window: time.Second})
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	if err := l.Acquire(context.Background()); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1, Window: 30 * time.Millisecond})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire rejected: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("acquire after window rejected: %v", err)
	}
}

func TestLimiterQueueDrains(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1, Window: 30 * time.Millisecond, QueueExcess: true})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire rejected: %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("queued acquire failed: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("queued acquire returned before a slot could free")
	}
}

func TestLimiterQueueFull(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1, Window: time.Minute, QueueExcess: true, MaxQueueSize: 1})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Occupy the single queue slot.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		l.Acquire(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	wg.Wait()
}

func TestLimiterResetRejectsQueued(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1, Window: time.Minute, QueueExcess: true})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Acquire(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	l.Reset()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReset) {
			t.Errorf("expected ErrReset, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued waiter not rejected by reset")
	}
}

func TestLimiterWindowInvariant(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 5, Window: 50 * time.Millisecond})

	// Hammer the limiter; the in-window count must never exceed the cap.
	for i := 0; i < 50; i++ {
		l.TryAcquire()
		if got := len(l.timestamps); got > 5 {
			t.Fatalf("window invariant violated: %d timestamps", got)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLimiterStats(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 2, Window: time.Minute})
	l.Acquire(context.Background())
	l.Acquire(context.Background())
	l.Acquire(context.Background()) // rejected

	stats := l.Stats()
	if stats.Allowed != 2 {
		t.Errorf("allowed: %d", stats.Allowed)
	}
	if stats.Throttled != 1 || stats.Rejected != 1 {
		t.Errorf("throttled/rejected: %d/%d", stats.Throttled, stats.Rejected)
	}
	if stats.Remaining != 0 {
		t.Errorf("remaining: %d", stats.Remaining)
	}
}
