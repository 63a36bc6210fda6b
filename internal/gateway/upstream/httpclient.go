package upstream

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewHTTPClient returns the client used for every platform request. Portal
// domains come from callers, so by default requests to private, loopback
// and link-local addresses are refused after DNS resolution. allowPrivate
// lifts that for local development against a stub platform.
func NewHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	if allowPrivate {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}
