package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the session-token claims. Only the account identity is trusted
// from a token, everything else about the account is read back from storage.
type Claims struct {
	// AccountID is the gateway account UUID.
	AccountID string `json:"account_id"`

	jwt.RegisteredClaims
}

// NewSessionClaims builds claims for accountID valid from now for lifetime.
// Times are truncated to whole seconds so iat/exp round-trip exactly.
func NewSessionClaims(accountID string, lifetime time.Duration, now time.Time) Claims {
	now = now.UTC().Truncate(time.Second)
	return Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
}

// validateShape checks the claims the parser does not enforce itself.
func (c *Claims) validateShape() error {
	if c.AccountID == "" || c.IssuedAt == nil || c.ExpiresAt == nil {
		return ErrMalformed
	}

	if _, err := uuid.Parse(c.AccountID); err != nil {
		return ErrInvalidClaims
	}

	return nil
}
