package client

import (
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig holds the retry policy for one fetch window.
type RetryConfig struct {
	// MaxRetries bounds backoff retries for 429, 5xx and network errors.
	MaxRetries int

	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is applied after each backoff.
	BackoffMultiplier float64

	// Jitter is the +/- fraction applied to each backoff (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        4,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// attemptState is the state of one window's retry machine.
type attemptState int

const (
	stateAttempting attemptState = iota
	stateRefreshingToken
	stateBackoff
	stateFailed
	stateSucceeded
)

func (s attemptState) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateRefreshingToken:
		return "refreshing_token"
	case stateBackoff:
		return "backoff"
	case stateFailed:
		return "failed"
	case stateSucceeded:
		return "succeeded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// retryMachine drives the transitions for one window. It knows nothing about
// HTTP: the fetcher reports the class of each attempt and acts on the state.
//
//	Attempting --ok--------------------> Succeeded
//	Attempting --401 (first)-----------> RefreshingToken --> Attempting
//	Attempting --401 (after refresh)---> Failed (ErrUnauthorized)
//	Attempting --429/5xx/net, budget---> Backoff --> Attempting
//	Attempting --429/5xx/net, spent----> Failed (ErrRetryExhausted)
//	Attempting --other-----------------> Failed
type retryMachine struct {
	cfg RetryConfig

	state       attemptState
	attempts    int
	refreshed   bool
	backoffs    int
	backoff     time.Duration
	transitions int
	maxTrans    int
	err         error

	rand func() float64
}

func newRetryMachine(cfg RetryConfig) *retryMachine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &retryMachine{
		cfg:     cfg,
		state:   stateAttempting,
		backoff: cfg.InitialBackoff,
		// every attempt leaves Attempting once and may come back once:
		// (retries + 1 refresh + 1 final attempt) * 2 transitions.
		maxTrans: 2 * (cfg.MaxRetries + 2),
		rand:     rand.Float64,
	}
}

func (m *retryMachine) transition(to attemptState) {
	m.transitions++
	if m.transitions > m.maxTrans && to != stateFailed && to != stateSucceeded {
		m.state = stateFailed
		m.err = ErrTooManyTransitions
		return
	}
	m.state = to
}

// beginAttempt moves back to Attempting and counts the attempt.
func (m *retryMachine) beginAttempt() {
	if m.state == stateRefreshingToken || m.state == stateBackoff {
		m.transition(stateAttempting)
	}
	if m.state == stateAttempting {
		m.attempts++
	}
}

// observe feeds the outcome of an attempt. class is "" on success; err is
// the error to surface when the machine fails.
func (m *retryMachine) observe(class ErrorClass, err error) attemptState {
	if m.state != stateAttempting {
		return m.state
	}

	switch {
	case class == "" && err == nil:
		m.transition(stateSucceeded)
	case class == ErrorClassUnauthorized:
		if m.refreshed {
			m.err = fmt.Errorf("%w: %v", ErrUnauthorized, err)
			m.transition(stateFailed)
		} else {
			m.refreshed = true
			m.transition(stateRefreshingToken)
		}
	case shouldRetry(class):
		if m.backoffs >= m.cfg.MaxRetries {
			m.err = fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, m.attempts, err)
			m.transition(stateFailed)
		} else {
			m.backoffs++
			m.transition(stateBackoff)
		}
	default:
		m.err = err
		m.transition(stateFailed)
	}

	return m.state
}

// nextBackoff returns the jittered delay for the current backoff and advances
// the exponential sequence. hint (e.g. Retry-After) wins when larger, capped.
func (m *retryMachine) nextBackoff(hint time.Duration) time.Duration {
	base := m.backoff
	if hint > base {
		base = hint
	}
	if base > m.cfg.MaxBackoff {
		base = m.cfg.MaxBackoff
	}

	delay := base
	if m.cfg.Jitter > 0 {
		delay = time.Duration(float64(base) * (1 - m.cfg.Jitter + m.rand()*2*m.cfg.Jitter))
	}

	m.backoff = time.Duration(float64(m.backoff) * m.cfg.BackoffMultiplier)
	if m.backoff > m.cfg.MaxBackoff {
		m.backoff = m.cfg.MaxBackoff
	}

	return delay
}
