package gatewaysdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the b24gate gateway. It performs
// unauthenticated operations and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// RenewBefore is how long before expiry a session renews its token.
	// Default: 30s
	RenewBefore time.Duration
}

// NewSDKClient creates a new gateway client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		RenewBefore: 30 * time.Second,
	}
}

// AuthenticateWithPlacement exchanges a placement payload for a session.
func (c *SDKClient) AuthenticateWithPlacement(ctx context.Context, p Placement) (*Session, error) {
	resp, err := c.postPlacement(ctx, "/api/getToken", p)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}

	return c.NewSessionFromToken(tokenResp.Token), nil
}

// Install reports an installation with the placement payload the portal
// posted to the install handler.
func (c *SDKClient) Install(ctx context.Context, p Placement) error {
	resp, err := c.postPlacement(ctx, "/api/install", p)
	if err != nil {
		return err
	}

	var msg MessageResponse
	return decodeJSON(resp, &msg, http.StatusOK)
}

// NewSessionFromToken wraps a session token obtained earlier, for example
// one the frontend passed to a backend.
func (c *SDKClient) NewSessionFromToken(token string) *Session {
	return &Session{
		client:    c,
		token:     token,
		expiresAt: tokenExpiry(token),
	}
}
