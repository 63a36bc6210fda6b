package b24

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRejected    = errors.New("b24: rejected by platform")
	ErrUnavailable = errors.New("b24: platform unavailable")
)

// Platform error codes the client reacts to.
const (
	CodeExpiredToken       = "expired_token"
	CodeInvalidToken       = "invalid_token"
	CodeInvalidGrant       = "invalid_grant"
	CodeQueryLimitExceeded = "QUERY_LIMIT_EXCEEDED"
	CodeInternalServer     = "INTERNAL_SERVER_ERROR"
)

// APIError is an error body returned by the platform.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`

	kind error
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("b24: %s (http %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("b24: %s: %s (http %d)", e.Code, e.Description, e.StatusCode)
}

// Unwrap returns ErrRejected or ErrUnavailable.
func (e *APIError) Unwrap() error { return e.kind }

// Message is the human readable part, falling back to the code.
func (e *APIError) Message() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Code
}

// NewAPIError classifies a platform error. Rate limits and server errors
// are transient; everything else the platform says is a refusal.
func NewAPIError(status int, code, desc string) *APIError {
	e := &APIError{StatusCode: status, Code: code, Description: desc, kind: ErrRejected}
	if status >= http.StatusInternalServerError || code == CodeQueryLimitExceeded || code == CodeInternalServer {
		e.kind = ErrUnavailable
	}
	return e
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
