package gatewaysdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int

	// Message is the gateway's error text, or the status text when the body
	// carried none.
	Message string

	// Challenge is the WWW-Authenticate header of a 401.
	Challenge string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s (http %d)", e.Message, e.StatusCode)
}

// IsUnauthorized reports whether the gateway rejected the session token.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsBadRequest reports whether the gateway rejected the placement payload,
// or the platform rejected it on the gateway's behalf.
func IsBadRequest(err error) bool {
	return hasStatus(err, http.StatusBadRequest)
}

// IsRateLimited reports whether the gateway throttled the request.
func IsRateLimited(err error) bool {
	return hasStatus(err, http.StatusTooManyRequests)
}

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// parseErrorResponse turns a non-2xx response into an *APIError. Returns nil
// for 2xx.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Challenge:  resp.Header.Get("WWW-Authenticate"),
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}
