package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var tokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offers_token_refresh_total",
	Help: "Total client-credentials grants by result",
}, []string{"result"})

// Config holds the client-credentials grant parameters.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// Realm is sent as an extra endpoint parameter when set (e.g. "/partenaire").
	Realm string

	// SafetyMargin is kept in reserve before expiry.
	SafetyMargin time.Duration

	// DefaultTTL applies when the endpoint does not return expires_in.
	DefaultTTL time.Duration

	// Timeout bounds the grant request.
	Timeout time.Duration
}

// TokenManager caches one access token and refreshes it on expiry or
// invalidation. Concurrent callers block on a refresh in flight instead of
// issuing their own.
type TokenManager struct {
	grant  *clientcredentials.Config
	client *http.Client
	margin time.Duration
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	token     *AccessToken
	refreshes int
}

// NewTokenManager validates cfg and returns a manager with an empty cache.
func NewTokenManager(cfg Config, logger zerolog.Logger) (*TokenManager, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token url is required")
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTokenTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	grant := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.Realm != "" {
		grant.EndpointParams = url.Values{"realm": {cfg.Realm}}
	}

	return &TokenManager{
		grant:  grant,
		client: &http.Client{Timeout: cfg.Timeout},
		margin: cfg.SafetyMargin,
		ttl:    cfg.DefaultTTL,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Token returns the cached token while it is valid, otherwise performs a
// grant. A grant failure is returned as *GrantError; a grant interrupted by
// ctx returns ctx.Err().
func (m *TokenManager) Token(ctx context.Context) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.Valid(m.now(), m.margin) {
		m.logger.Debug().Dur("ttl", m.token.TTL(m.now())).Msg("Using cached access token")
		return m.token, nil
	}

	return m.refreshLocked(ctx)
}

// Invalidate drops the cached token; the next Token call performs a grant.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
}

// InvalidateIfCurrent drops the cached token only if it is still the one
// identified by value. A caller that received a 401 for an old token does not
// evict a token another worker already refreshed. It reports whether the
// cache was cleared.
func (m *TokenManager) InvalidateIfCurrent(value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || m.token.Value != value {
		return false
	}
	m.token = nil
	return true
}

// Refreshes returns how many grants were performed.
func (m *TokenManager) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

func (m *TokenManager) refreshLocked(ctx context.Context) (*AccessToken, error) {
	start := m.now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)

	tok, err := m.grant.Token(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			tokenRefreshTotal.WithLabelValues("cancelled").Inc()
			return nil, ctxErr
		}
		tokenRefreshTotal.WithLabelValues("failure").Inc()
		ge := &GrantError{Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			ge.StatusCode = re.Response.StatusCode
		}
		m.logger.Error().Err(err).Int("status", ge.StatusCode).Msg("Client-credentials grant failed")
		return nil, ge
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = start.Add(m.ttl)
	}

	m.token = &AccessToken{
		Value:     tok.AccessToken,
		IssuedAt:  start,
		ExpiresAt: expires,
	}
	m.refreshes++
	tokenRefreshTotal.WithLabelValues("success").Inc()

	m.logger.Info().
		Time("expires_at", expires).
		Int("refreshes", m.refreshes).
		Msg("Access token refreshed")

	return m.token, nil
}
