package gatewaysdk

import (
	"context"
	"encoding/json"
	"net/http"
)

// Install records an installation for the session's account.
func (s *Session) Install(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/api/install")
	if err != nil {
		return err
	}

	var msg MessageResponse
	return decodeJSON(resp, &msg, http.StatusOK)
}

// Banner returns the gateway's service banner.
func (s *Session) Banner(ctx context.Context) (string, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/api/")
	if err != nil {
		return "", err
	}

	var msg MessageResponse
	if err := decodeJSON(resp, &msg, http.StatusOK); err != nil {
		return "", err
	}
	return msg.Message, nil
}

// Status returns the authenticated health report.
func (s *Session) Status(ctx context.Context) (*StatusResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/api/health")
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := decodeJSON(resp, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

// Enum returns the demo option list.
func (s *Session) Enum(ctx context.Context) ([]string, error) {
	return s.stringList(ctx, "/api/enum")
}

// List returns the demo element list.
func (s *Session) List(ctx context.Context) ([]string, error) {
	return s.stringList(ctx, "/api/list")
}

func (s *Session) stringList(ctx context.Context, path string) ([]string, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var out []string
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

// Profile returns the portal user's profile exactly as the platform
// reported it.
func (s *Session) Profile(ctx context.Context) (json.RawMessage, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/api/profile")
	if err != nil {
		return nil, err
	}

	var profile json.RawMessage
	if err := decodeJSON(resp, &profile, http.StatusOK); err != nil {
		return nil, err
	}
	return profile, nil
}
