// Package auth obtains and caches OAuth2 client-credentials access tokens for
// the job-offers API.
package auth

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTokenTTL is used when the token endpoint omits expires_in.
const DefaultTokenTTL = 30 * time.Minute

// DefaultSafetyMargin is subtracted from the expiry before a token is reused.
const DefaultSafetyMargin = 60 * time.Second

// AccessToken is an opaque bearer token. It lives only in memory.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token can still be used at now, keeping margin
// in reserve before expiry.
func (t *AccessToken) Valid(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// TTL returns the remaining lifetime at now.
func (t *AccessToken) TTL(now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	if ttl := t.ExpiresAt.Sub(now); ttl > 0 {
		return ttl
	}
	return 0
}

// ErrMissingCredentials is returned when client id or secret is empty.
var ErrMissingCredentials = errors.New("client credentials are required")

// GrantError is returned when the client-credentials grant itself fails.
// It is fatal for a run: the grant is never retried in a loop.
type GrantError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *GrantError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("token grant failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token grant failed: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *GrantError) Unwrap() error {
	return e.Err
}

// IsGrantError reports whether err is or wraps a *GrantError.
func IsGrantError(err error) bool {
	var ge *GrantError
	return errors.As(err, &ge)
}
