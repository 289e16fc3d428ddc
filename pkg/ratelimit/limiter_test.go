package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(t *testing.T, interval time.Duration) *Limiter {
	t.Helper()
	l, err := NewLimiter(interval, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	return l
}

func TestNewLimiter_Validation(t *testing.T) {
	tests := []struct {
		name        string
		interval    time.Duration
		expectError bool
	}{
		{"positive interval", 110 * time.Millisecond, false},
		{"zero interval", 0, true},
		{"negative interval", -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLimiter(tt.interval, zerolog.Nop())
			if (err != nil) != tt.expectError {
				t.Errorf("NewLimiter(%s) error = %v, expectError %v", tt.interval, err, tt.expectError)
			}
		})
	}
}

func TestLimiter_SequentialSpacing(t *testing.T) {
	interval := 20 * time.Millisecond
	l := newTestLimiter(t, interval)

	var dispatches []time.Time
	l.observe = func(ts time.Time) { dispatches = append(dispatches, ts) }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	assertSpacing(t, dispatches, interval)
}

func TestLimiter_ConcurrentSpacing(t *testing.T) {
	interval := 15 * time.Millisecond
	l := newTestLimiter(t, interval)

	var dispatches []time.Time
	l.observe = func(ts time.Time) { dispatches = append(dispatches, ts) }

	const workers = 8
	const perWorker = 3

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := l.Wait(context.Background()); err != nil {
					t.Errorf("Wait() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(dispatches) != workers*perWorker {
		t.Fatalf("dispatches = %d, want %d", len(dispatches), workers*perWorker)
	}
	assertSpacing(t, dispatches, interval)

	stats := l.Stats()
	if stats.Calls != workers*perWorker {
		t.Errorf("Stats().Calls = %d, want %d", stats.Calls, workers*perWorker)
	}
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := newTestLimiter(t, time.Hour)

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() should fail when the context expires")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Wait() did not return promptly on cancellation")
	}
}

func TestStats(t *testing.T) {
	s := Stats{Calls: 4, TotalWait: 400 * time.Millisecond, MinInterval: 100 * time.Millisecond}

	if got := s.AverageWait(); got != 100*time.Millisecond {
		t.Errorf("AverageWait() = %v, want 100ms", got)
	}
	if got := s.EffectiveRate(); got != 10 {
		t.Errorf("EffectiveRate() = %v, want 10", got)
	}
	if got := (Stats{}).AverageWait(); got != 0 {
		t.Errorf("AverageWait() on empty stats = %v, want 0", got)
	}
}

func TestLimiter_ImplementsWaiter(t *testing.T) {
	var w Waiter = newTestLimiter(t, time.Millisecond)
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}
