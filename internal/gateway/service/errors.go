package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/b24gate/internal/gateway/upstream"
	"github.com/aussiebroadwan/b24gate/pkg/b24"
)

// Error kinds. Every error leaving this package wraps exactly one of them.
var (
	// Authentication failures, answered with 401.
	ErrMalformedToken  = errors.New("malformed session token")
	ErrExpiredToken    = errors.New("expired session token")
	ErrInvalidClaims   = errors.New("invalid session claims")
	ErrAccountNotFound = errors.New("account not found")

	// Validation failures, answered with 400.
	ErrInvalidPayload   = errors.New("invalid installation payload")
	ErrUpstreamRejected = errors.New("upstream rejected payload")

	// Internal failures, answered with 500.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPersistence         = errors.New("persistence failure")

	// Never returned to a caller, only logged.
	ErrRenewalPersist = errors.New("renewal persist failure")
)

// Client-facing messages.
const (
	MsgExpiredToken        = "session token has expired"
	MsgInvalidToken        = "invalid session token"
	MsgUpstreamUnavailable = "platform is unavailable, try again later"
	MsgInternal            = "internal error"
	msgUpstreamRejected    = "platform rejected the installation payload"
)

// Error is a failure with a message that is safe to show the caller.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap lets errors.Is match both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Message returns the client-facing message of err, or MsgInternal.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return MsgInternal
}

// IsAuthentication reports whether err should be answered with 401.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrInvalidClaims) ||
		errors.Is(err, ErrAccountNotFound)
}

// IsValidation reports whether err should be answered with 400.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrUpstreamRejected)
}

// upstreamError sorts a platform failure into rejected or unavailable.
// Rejections carry the platform's own explanation.
func upstreamError(err error) *Error {
	if !errors.Is(err, b24.ErrRejected) {
		return newError(ErrUpstreamUnavailable, MsgUpstreamUnavailable, err)
	}

	msg := msgUpstreamRejected
	var apiErr *b24.APIError
	switch {
	case errors.As(err, &apiErr):
		msg = apiErr.Message()
	case errors.Is(err, upstream.ErrNoUser):
		msg = upstream.ErrNoUser.Error()
	}
	return newError(ErrUpstreamRejected, msg, err)
}
