package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/offer-pipeline/internal/testutil"
	"github.com/Sternrassler/offer-pipeline/pkg/audit"
	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/ratelimit"
	"github.com/rs/zerolog"
)

type testEnv struct {
	mock    *testutil.MockAPI
	tokens  *auth.TokenManager
	audit   *audit.Memory
	fetcher *Fetcher
}

func setupFetcher(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	tokens, err := auth.NewTokenManager(auth.Config{
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		TokenURL:     mock.TokenURL(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}

	limiter, err := ratelimit.NewLimiter(time.Millisecond, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}

	cfg := DefaultConfig(mock.SearchURL())
	cfg.RequestTimeout = 2 * time.Second
	cfg.Retry = RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	mem := &audit.Memory{}
	fetcher, err := New(cfg, tokens, limiter, mem, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{mock: mock, tokens: tokens, audit: mem, fetcher: fetcher}
}

func TestNew_Validation(t *testing.T) {
	tokens := &auth.TokenManager{}
	limiter, _ := ratelimit.NewLimiter(time.Millisecond, zerolog.Nop())

	tests := []struct {
		name     string
		config   Config
		tokens   TokenSource
		limiter  ratelimit.Waiter
		errorMsg string
	}{
		{"valid", DefaultConfig("http://localhost/search"), tokens, limiter, ""},
		{"missing url", DefaultConfig(""), tokens, limiter, "search url is required"},
		{"missing tokens", DefaultConfig("http://localhost/search"), nil, limiter, "token source is required"},
		{"missing limiter", DefaultConfig("http://localhost/search"), tokens, nil, "rate limiter is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, tt.tokens, tt.limiter, nil, zerolog.Nop())
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.errorMsg {
				t.Errorf("error = %v, want %q", err, tt.errorMsg)
			}
		})
	}
}

func TestFetch_FirstPage(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("A1234", &testutil.Partition{Total: 320})

	page, err := env.fetcher.Fetch(context.Background(), "A1234", Window{Offset: 0, Limit: 150})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(page.Records) != 150 {
		t.Errorf("records = %d, want 150", len(page.Records))
	}
	if page.Total != 320 {
		t.Errorf("total = %d, want 320", page.Total)
	}
	if page.Status != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", page.Status)
	}
	if page.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", page.Attempts)
	}

	searches := env.mock.SearchesFor("A1234")
	if len(searches) != 1 {
		t.Fatalf("searches = %d, want 1", len(searches))
	}
	if searches[0].Query["range"] != "0-149" {
		t.Errorf("range = %q, want 0-149", searches[0].Query["range"])
	}
	if !strings.HasPrefix(searches[0].Authorization, "Bearer token-") {
		t.Errorf("Authorization = %q, want bearer token", searches[0].Authorization)
	}

	entries := env.audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if e := entries[0]; e.Partition != "A1234" || e.Status != 206 || e.Returned != 150 || e.Total != 320 {
		t.Errorf("audit entry = %+v", e)
	}
}

func TestFetch_UnauthorizedRefreshesAndRetries(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("B5678", &testutil.Partition{Total: 50})

	// obtain a token, then make the server reject it
	if _, err := env.tokens.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	env.mock.RejectNextTokens(1)

	page, err := env.fetcher.Fetch(context.Background(), "B5678", Window{Offset: 0, Limit: 150})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(page.Records) != 50 {
		t.Errorf("records = %d, want 50", len(page.Records))
	}
	if env.mock.Grants() != 2 {
		t.Errorf("grants = %d, want 2 (initial + one refresh)", env.mock.Grants())
	}

	entries := env.audit.Entries()
	if len(entries) != 2 || entries[0].Status != 401 || entries[1].Status != 200 {
		t.Errorf("audit = %+v, want 401 then 200", entries)
	}
}

func TestFetch_PersistentUnauthorizedRefreshesOnce(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("B5678", &testutil.Partition{AlwaysStatus: http.StatusUnauthorized})

	_, err := env.fetcher.Fetch(context.Background(), "B5678", Window{Offset: 0, Limit: 150})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if env.mock.Grants() != 2 {
		t.Errorf("grants = %d, want 2 (no refresh loop)", env.mock.Grants())
	}
	if n := len(env.mock.SearchesFor("B5678")); n != 2 {
		t.Errorf("searches = %d, want 2", n)
	}
}

func TestFetch_RateLimitedExhaustsRetries(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("C0001", &testutil.Partition{AlwaysStatus: http.StatusTooManyRequests})

	_, err := env.fetcher.Fetch(context.Background(), "C0001", Window{Offset: 0, Limit: 150})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}

	wantCalls := env.fetcher.config.Retry.MaxRetries + 1
	if n := len(env.mock.SearchesFor("C0001")); n != wantCalls {
		t.Errorf("searches = %d, want %d", n, wantCalls)
	}
	if n := len(env.audit.ForPartition("C0001")); n != wantCalls {
		t.Errorf("audit entries = %d, want %d", n, wantCalls)
	}
}

func TestFetch_TransientErrorsRecover(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("D1111", &testutil.Partition{
		Total:    10,
		Statuses: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
	})

	page, err := env.fetcher.Fetch(context.Background(), "D1111", Window{Offset: 0, Limit: 150})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if page.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", page.Attempts)
	}
	if len(page.Records) != 10 {
		t.Errorf("records = %d, want 10", len(page.Records))
	}
}

func TestFetch_TimeoutTreatedAsRetryable(t *testing.T) {
	env := setupFetcher(t, func(c *Config) {
		c.RequestTimeout = 20 * time.Millisecond
		c.Retry.MaxRetries = 1
	})
	env.mock.SetPartition("E2222", &testutil.Partition{Total: 10, Delay: 200 * time.Millisecond})

	_, err := env.fetcher.Fetch(context.Background(), "E2222", Window{Offset: 0, Limit: 150})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	entries := env.audit.ForPartition("E2222")
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Status != 0 || entries[0].Error == "" {
		t.Errorf("timeout entry = %+v, want status 0 with error", entries[0])
	}
}

func TestFetch_BodyTimeoutIsRetried(t *testing.T) {
	env := setupFetcher(t, func(c *Config) {
		c.RequestTimeout = 50 * time.Millisecond
	})
	env.mock.SetPartition("E3333", &testutil.Partition{Total: 10, StallBodies: 1, StallFor: time.Second})

	page, err := env.fetcher.Fetch(context.Background(), "E3333", Window{Offset: 0, Limit: 150})
	if err != nil {
		t.Fatalf("Fetch() error = %v, want success after retry", err)
	}
	if len(page.Records) != 10 || page.Attempts != 2 {
		t.Errorf("records = %d attempts = %d, want 10 and 2", len(page.Records), page.Attempts)
	}

	entries := env.audit.ForPartition("E3333")
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Status != http.StatusPartialContent || entries[0].Error == "" {
		t.Errorf("stalled entry = %+v, want status 206 with error", entries[0])
	}
}

func TestFetch_PersistentBodyTimeoutExhaustsRetries(t *testing.T) {
	env := setupFetcher(t, func(c *Config) {
		c.RequestTimeout = 30 * time.Millisecond
		c.Retry.MaxRetries = 2
	})
	env.mock.SetPartition("E4444", &testutil.Partition{Total: 10, StallBodies: 100, StallFor: time.Second})

	_, err := env.fetcher.Fetch(context.Background(), "E4444", Window{Offset: 0, Limit: 150})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	if errors.Is(err, ErrContextCancelled) || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, must not look like run cancellation", err)
	}
	if n := len(env.mock.SearchesFor("E4444")); n != 3 {
		t.Errorf("searches = %d, want 3", n)
	}
}

func TestFetch_MalformedBodyFailsWindow(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("F3333", &testutil.Partition{Total: 10, MalformedBody: true})

	_, err := env.fetcher.Fetch(context.Background(), "F3333", Window{Offset: 0, Limit: 150})
	if ClassOf(err) != ErrorClassDecode {
		t.Fatalf("error = %v, want decode class", err)
	}
	if n := len(env.mock.SearchesFor("F3333")); n != 1 {
		t.Errorf("searches = %d, want 1 (decode errors are not retried)", n)
	}
}

func TestFetch_NoContent(t *testing.T) {
	env := setupFetcher(t, nil)

	page, err := env.fetcher.Fetch(context.Background(), "Z9999", Window{Offset: 0, Limit: 150})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if page.Status != http.StatusNoContent || len(page.Records) != 0 {
		t.Errorf("page = %+v, want empty 204", page)
	}
	if page.Total != 0 {
		t.Errorf("total = %d, want 0", page.Total)
	}
}

func TestFetch_MissingContentRange(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("G4444", &testutil.Partition{Total: 20, OmitContentRange: true})

	page, err := env.fetcher.Fetch(context.Background(), "G4444", Window{Offset: 0, Limit: 150})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if page.Total != UnknownTotal {
		t.Errorf("total = %d, want UnknownTotal", page.Total)
	}
	if len(page.Records) != 20 {
		t.Errorf("records = %d, want 20", len(page.Records))
	}
}

func TestFetch_GrantFailureIsFatal(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetTokenStatus(http.StatusUnauthorized)

	_, err := env.fetcher.Fetch(context.Background(), "A1234", Window{Offset: 0, Limit: 150})
	if !auth.IsGrantError(err) {
		t.Fatalf("error = %v, want *auth.GrantError", err)
	}
	if n := len(env.mock.Searches()); n != 0 {
		t.Errorf("searches = %d, want 0", n)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	env := setupFetcher(t, func(c *Config) {
		c.Retry.InitialBackoff = time.Hour
		c.Retry.MaxBackoff = time.Hour
	})
	env.mock.SetPartition("C0001", &testutil.Partition{AlwaysStatus: http.StatusTooManyRequests})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := env.fetcher.Fetch(ctx, "C0001", Window{Offset: 0, Limit: 150})
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("error = %v, want ErrContextCancelled", err)
	}
}

func TestFetch_CancelledDuringGrant(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetTokenDelay(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := env.fetcher.Fetch(ctx, "A1234", Window{Offset: 0, Limit: 150})
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("error = %v, want ErrContextCancelled", err)
	}
	if auth.IsGrantError(err) {
		t.Error("an interrupted grant must not be reported as a grant failure")
	}
}

func TestFetch_InvalidWindow(t *testing.T) {
	env := setupFetcher(t, nil)

	for _, w := range []Window{{Offset: 0, Limit: 0}, {Offset: 0, Limit: 151}, {Offset: -1, Limit: 10}} {
		if _, err := env.fetcher.Fetch(context.Background(), "A1234", w); err == nil {
			t.Errorf("Fetch(%+v) expected error", w)
		}
	}
}

func TestWithParams(t *testing.T) {
	env := setupFetcher(t, nil)
	env.mock.SetPartition("A1234", &testutil.Partition{Total: 5})

	dated := env.fetcher.WithParams(url.Values{
		"minCreationDate": {"2025-12-23T00:00:00Z"},
		"maxCreationDate": {"2025-12-24T00:00:00Z"},
	})
	if _, err := dated.Fetch(context.Background(), "A1234", Window{Offset: 0, Limit: 150}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	q := env.mock.SearchesFor("A1234")[0].Query
	if q["minCreationDate"] != "2025-12-23T00:00:00Z" || q["maxCreationDate"] != "2025-12-24T00:00:00Z" {
		t.Errorf("query = %v, want creation date bounds", q)
	}
	if q["codeROME"] != "A1234" {
		t.Errorf("codeROME = %q, want A1234", q["codeROME"])
	}
	if len(env.fetcher.config.Params) != 0 {
		t.Error("WithParams must not mutate the original fetcher")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("2"); got != 2*time.Second {
		t.Errorf("parseRetryAfter(2) = %v, want 2s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(\"\") = %v, want 0", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v, want 0", got)
	}
}
