package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionLifetime is used when a caller does not configure one.
const DefaultSessionLifetime = 60 * time.Minute

var (
	ErrMalformed     = errors.New("jwtx: malformed token")
	ErrExpired       = errors.New("jwtx: token expired")
	ErrInvalidClaims = errors.New("jwtx: invalid claims")

	ErrEmptySecret     = errors.New("jwtx: empty secret")
	ErrUnsupportedAlg  = errors.New("jwtx: unsupported algorithm")
	ErrInvalidLifetime = errors.New("jwtx: lifetime must be positive")
)

// Codec issues and verifies HMAC-signed session tokens. It is safe for
// concurrent use once constructed.
type Codec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the clock used for both iat/exp stamping and expiry
// checks. Tests pin it to exercise the lifetime boundary.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec returns a Codec for one of HS256, HS384 or HS512.
func NewCodec(secret []byte, alg string, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}

	c := &Codec{
		secret: secret,
		method: method,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	return c, nil
}

// Algorithm reports the configured signing algorithm.
func (c *Codec) Algorithm() string { return c.method.Alg() }

// Issue signs a token for accountID that expires lifetime from now.
func (c *Codec) Issue(accountID string, lifetime time.Duration) (string, error) {
	if lifetime <= 0 {
		return "", ErrInvalidLifetime
	}

	claims := NewSessionClaims(accountID, lifetime, c.now())
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}

	return signed, nil
}

// Verify checks the signature, algorithm and expiry of token and returns the
// account id it carries.
//
// The signature is checked before any claim, so a forged token never
// reports as expired.
func (c *Codec) Verify(token string) (string, error) {
	var claims Claims
	_, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if err := claims.validateShape(); err != nil {
		return "", err
	}

	return claims.AccountID, nil
}
