// Package client fetches one paginated window of job offers for one
// occupation code, handling token expiry, throttling and request timeouts.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/offer-pipeline/pkg/audit"
	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_requests_total",
		Help: "Total search requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offers_request_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_retries_total",
		Help: "Total retries by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offers_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_retry_exhausted_total",
		Help: "Total windows that failed after exhausting their retry budget, by error class",
	}, []string{"error_class"})
)

// DefaultPageSize is the largest window the search endpoint serves.
const DefaultPageSize = 150

// TokenSource supplies bearer tokens; implemented by *auth.TokenManager.
type TokenSource interface {
	Token(ctx context.Context) (*auth.AccessToken, error)
	InvalidateIfCurrent(value string) bool
}

// Window is an (offset, limit) pair.
type Window struct {
	Offset int
	Limit  int
}

// Page is one fetched window.
type Page struct {
	Key      string
	Window   Window
	Records  []json.RawMessage
	Total    int
	Status   int
	Attempts int
}

// Config holds the fetcher configuration.
type Config struct {
	// SearchURL is the full search endpoint URL.
	SearchURL string

	// UserAgent header sent with every request.
	UserAgent string

	// RequestTimeout bounds each HTTP call.
	RequestTimeout time.Duration

	// PartitionParam is the query parameter carrying the partition key.
	PartitionParam string

	// Params are added to every request (e.g. creation date bounds).
	Params url.Values

	Retry RetryConfig
}

// DefaultConfig returns a configuration for searchURL.
func DefaultConfig(searchURL string) Config {
	return Config{
		SearchURL:      searchURL,
		UserAgent:      "offer-pipeline/0.1.0",
		RequestTimeout: 30 * time.Second,
		PartitionParam: "codeROME",
		Retry:          DefaultRetryConfig(),
	}
}

// Fetcher performs single-window fetches. It is safe for concurrent use; the
// token source and limiter it holds are the shared instances of a run.
type Fetcher struct {
	httpClient *http.Client
	tokens     TokenSource
	limiter    ratelimit.Waiter
	audit      audit.Recorder
	config     Config
	logger     zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher.
func New(cfg Config, tokens TokenSource, limiter ratelimit.Waiter, rec audit.Recorder, logger zerolog.Logger) (*Fetcher, error) {
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("search url is required")
	}
	if _, err := url.Parse(cfg.SearchURL); err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PartitionParam == "" {
		cfg.PartitionParam = "codeROME"
	}
	if rec == nil {
		rec = audit.Nop{}
	}

	return &Fetcher{
		httpClient: &http.Client{},
		tokens:     tokens,
		limiter:    limiter,
		audit:      rec,
		config:     cfg,
		logger:     logger,
		sleep:      sleepContext,
	}, nil
}

// WithParams returns a fetcher sharing the same token source, limiter and
// audit sink, sending params with every request.
func (f *Fetcher) WithParams(params url.Values) *Fetcher {
	clone := *f
	merged := url.Values{}
	for k, v := range f.config.Params {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range params {
		merged[k] = append([]string(nil), v...)
	}
	clone.config.Params = merged
	return &clone
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(c *http.Client) {
	f.httpClient = c
}

// attemptResult is what one HTTP call produced.
type attemptResult struct {
	status     int
	records    []json.RawMessage
	total      int
	retryAfter time.Duration
	class      ErrorClass
	err        error
}

// Fetch retrieves one window for key. Errors are partition-level except
// *auth.GrantError (fatal) and context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, key string, w Window) (*Page, error) {
	if w.Limit <= 0 || w.Limit > DefaultPageSize {
		return nil, fmt.Errorf("invalid window limit %d", w.Limit)
	}
	if w.Offset < 0 {
		return nil, fmt.Errorf("invalid window offset %d", w.Offset)
	}

	logger := f.logger.With().Str("partition", key).Int("offset", w.Offset).Int("limit", w.Limit).Logger()
	m := newRetryMachine(f.config.Retry)

	var tok *auth.AccessToken
	var last attemptResult

	for {
		switch m.state {
		case stateSucceeded:
			return &Page{
				Key:      key,
				Window:   w,
				Records:  last.records,
				Total:    last.total,
				Status:   last.status,
				Attempts: m.attempts,
			}, nil

		case stateFailed:
			if errors.Is(m.err, ErrRetryExhausted) {
				retryExhaustedTotal.WithLabelValues(string(last.class)).Inc()
			}
			logger.Warn().
				Err(m.err).
				Int("attempts", m.attempts).
				Str("error_class", string(last.class)).
				Msg("Window failed")
			return nil, m.err

		case stateRefreshingToken:
			if tok != nil {
				f.tokens.InvalidateIfCurrent(tok.Value)
			}
			logger.Info().Msg("Token rejected, refreshing before retry")
			tok = nil

		case stateBackoff:
			delay := m.nextBackoff(last.retryAfter)
			retriesTotal.WithLabelValues(string(last.class)).Inc()
			retryBackoffSeconds.WithLabelValues(string(last.class)).Observe(delay.Seconds())
			logger.Warn().
				Int("status", last.status).
				Str("error_class", string(last.class)).
				Int("attempt", m.attempts).
				Dur("backoff", delay).
				Msg("Retrying window after backoff")
			if err := f.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		}

		m.beginAttempt()
		if m.state != stateAttempting {
			continue
		}

		if tok == nil {
			var err error
			tok, err = f.tokens.Token(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
				}
				return nil, err
			}
		}

		last = f.attempt(ctx, key, w, tok, m.attempts, logger)
		if last.err != nil && last.class == "" {
			// cancellation or limiter failure: not a window outcome
			return nil, last.err
		}
		m.observe(last.class, last.err)
	}
}

// attempt performs exactly one rate-limited HTTP call and audits it.
func (f *Fetcher) attempt(ctx context.Context, key string, w Window, tok *auth.AccessToken, attempt int, logger zerolog.Logger) attemptResult {
	if err := f.limiter.Wait(ctx); err != nil {
		return attemptResult{err: fmt.Errorf("%w: %v", ErrContextCancelled, err)}
	}

	start := time.Now()
	res := f.do(ctx, key, w, tok)
	elapsed := time.Since(start)
	requestDuration.Observe(elapsed.Seconds())

	statusLabel := strconv.Itoa(res.status)
	if res.status == 0 {
		statusLabel = "network_error"
	}
	requestsTotal.WithLabelValues(statusLabel).Inc()

	entry := audit.Entry{
		Timestamp: start,
		Partition: key,
		Offset:    w.Offset,
		Limit:     w.Limit,
		Attempt:   attempt,
		Status:    res.status,
		Returned:  len(res.records),
		Total:     res.total,
		Duration:  elapsed,
	}
	if res.err != nil {
		entry.Error = res.err.Error()
	}
	f.audit.Record(ctx, entry)

	logger.Debug().
		Int("status", res.status).
		Int("records", len(res.records)).
		Int("total", res.total).
		Int("attempt", attempt).
		Dur("duration", elapsed).
		Msg("Search request completed")

	return res
}

func (f *Fetcher) do(ctx context.Context, key string, w Window, tok *auth.AccessToken) attemptResult {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.requestURL(key, w), nil)
	if err != nil {
		return attemptResult{class: ErrorClassClient, err: fmt.Errorf("create request: %w", err), total: UnknownTotal}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Authorization", "Bearer "+tok.Value)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{err: fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err()), total: UnknownTotal}
		}
		// a request timeout is handled like a 429
		return attemptResult{
			class: ErrorClassNetwork,
			err:   &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err},
			total: UnknownTotal,
		}
	}
	defer resp.Body.Close()

	res := attemptResult{status: resp.StatusCode, total: UnknownTotal}

	if class := classifyStatus(resp.StatusCode); class != "" {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		res.class = class
		res.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		res.err = &APIError{StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
		return res
	}

	if cr, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil {
		res.total = cr.Total
	}

	if resp.StatusCode == http.StatusNoContent {
		res.records = nil
		if res.total == UnknownTotal {
			res.total = w.Offset
		}
		return res
	}

	var body struct {
		Resultats []json.RawMessage `json:"resultats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return attemptResult{err: fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err()), total: UnknownTotal}
		}
		if reqCtx.Err() != nil {
			// the request timeout fired mid-body: retried like any timeout
			res.class = ErrorClassNetwork
			res.err = &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "response body timed out", Err: err}
			return res
		}
		res.class = ErrorClassDecode
		res.err = &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode, Message: "malformed response body", Err: err}
		return res
	}
	res.records = body.Resultats

	return res
}

func (f *Fetcher) requestURL(key string, w Window) string {
	u, _ := url.Parse(f.config.SearchURL)
	q := u.Query()
	for k, v := range f.config.Params {
		for _, s := range v {
			q.Add(k, s)
		}
	}
	q.Set(f.config.PartitionParam, key)
	q.Set("range", FormatRange(w))
	u.RawQuery = q.Encode()
	return u.String()
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
