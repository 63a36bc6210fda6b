package gatewaysdk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is an authenticated session. Methods renew the session token
// shortly before it expires.
type Session struct {
	client *SDKClient

	mu        sync.RWMutex
	token     string
	expiresAt time.Time // zero when the token carries no readable exp
}

// Token returns the current session token without checking expiration.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ExpiresAt returns the expiry of the current token, or the zero time if
// it could not be read.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Renew trades the current token for a new one.
func (s *Session) Renew(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewLocked(ctx)
}

func (s *Session) renewLocked(ctx context.Context) error {
	resp, err := s.client.doRequest(ctx, http.MethodPost, "/api/getToken", s.token, nil, nil)
	if err != nil {
		return err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return fmt.Errorf("failed to renew session: %w", err)
	}

	s.token = tokenResp.Token
	s.expiresAt = tokenExpiry(tokenResp.Token)
	return nil
}

// getValidToken returns the session token, renewing it when it is within
// RenewBefore of expiring.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if !s.needsRenewal() {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have renewed)
	if !s.needsRenewal() {
		return s.token, nil
	}

	if !s.expiresAt.After(time.Now()) {
		return "", fmt.Errorf("session token expired at %s", s.expiresAt.Format(time.RFC3339))
	}

	if err := s.renewLocked(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

func (s *Session) needsRenewal() bool {
	if s.expiresAt.IsZero() {
		return false
	}
	return time.Until(s.expiresAt) <= s.client.RenewBefore
}

// tokenExpiry reads the exp claim without verifying the signature. Only
// the gateway holds the key; the client just needs to know when to renew.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
