package ratelimit

import "time"

// Stats is a point-in-time view of a Limiter.
type Stats struct {
	// Calls is the number of callers released so far.
	Calls int64

	// TotalWait is the cumulative time callers spent blocked.
	TotalWait time.Duration

	// LastDispatch is when the most recent caller was released.
	LastDispatch time.Time

	// MinInterval is the configured spacing.
	MinInterval time.Duration
}

// AverageWait returns the mean blocking time per call.
func (s Stats) AverageWait() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Calls)
}

// EffectiveRate returns the configured ceiling in requests per second.
func (s Stats) EffectiveRate() float64 {
	if s.MinInterval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.MinInterval)
}
