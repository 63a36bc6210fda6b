package service

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/pkg/jwtx"
)

// TokenIssuer mints session tokens. *jwtx.Codec implements it.
type TokenIssuer interface {
	Issue(accountID string, lifetime time.Duration) (string, error)
}

// SessionIssuer mints session tokens for authenticated accounts.
type SessionIssuer struct {
	Tokens   TokenIssuer
	Lifetime time.Duration
}

// NewSessionIssuer uses jwtx.DefaultSessionLifetime when lifetime is not
// positive.
func NewSessionIssuer(tokens TokenIssuer, lifetime time.Duration) *SessionIssuer {
	if lifetime <= 0 {
		lifetime = jwtx.DefaultSessionLifetime
	}
	return &SessionIssuer{Tokens: tokens, Lifetime: lifetime}
}

// IssueFor returns a token naming a.ID that expires Lifetime from now.
func (s *SessionIssuer) IssueFor(a domain.Account) (string, error) {
	token, err := s.Tokens.Issue(a.ID, s.Lifetime)
	if err != nil {
		return "", fmt.Errorf("issue session token: %w", err)
	}
	return token, nil
}
