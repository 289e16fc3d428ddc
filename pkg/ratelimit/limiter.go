// Package ratelimit enforces the minimum interval between outbound calls to the
// job-offers API. One Limiter is shared by every partition worker so that total
// throughput stays under the API contract regardless of worker count.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultMinInterval keeps the pipeline just under 10 requests per second.
const DefaultMinInterval = 110 * time.Millisecond

var (
	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offers_ratelimit_wait_seconds",
		Help:    "Time callers spent blocked in the shared rate limiter",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
	})

	dispatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offers_ratelimit_dispatches_total",
		Help: "Total number of calls released by the shared rate limiter",
	})
)

// Waiter is the contract consumed by the fetcher.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Limiter releases at most one caller per MinInterval across all goroutines.
type Limiter struct {
	minInterval time.Duration
	limiter     *rate.Limiter
	logger      zerolog.Logger

	mu           sync.Mutex
	lastDispatch time.Time
	calls        int64
	totalWait    time.Duration

	// observe is called with each dispatch time while the lock is held.
	observe func(time.Time)
}

// NewLimiter creates a limiter with the given minimum spacing between calls.
func NewLimiter(minInterval time.Duration, logger zerolog.Logger) (*Limiter, error) {
	if minInterval <= 0 {
		return nil, fmt.Errorf("min interval must be positive (got %s)", minInterval)
	}

	return &Limiter{
		minInterval: minInterval,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		logger:      logger,
	}, nil
}

// MinInterval returns the configured spacing.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}

// Wait blocks until at least MinInterval has elapsed since the previous caller
// was released. Callers are serialized, so the spacing holds end-to-end even
// when the token bucket refills early.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	if !l.lastDispatch.IsZero() {
		if gap := l.minInterval - time.Since(l.lastDispatch); gap > 0 {
			timer := time.NewTimer(gap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("rate limiter wait: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}

	now := time.Now()
	l.lastDispatch = now
	l.calls++
	waited := now.Sub(start)
	l.totalWait += waited

	if l.observe != nil {
		l.observe(now)
	}

	waitSeconds.Observe(waited.Seconds())
	dispatchesTotal.Inc()

	l.logger.Debug().
		Dur("waited", waited).
		Int64("calls", l.calls).
		Msg("Request released by rate limiter")

	return nil
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Calls:        l.calls,
		TotalWait:    l.totalWait,
		LastDispatch: l.lastDispatch,
		MinInterval:  l.minInterval,
	}
}
