package service

import (
	"context"
	"encoding/json"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/tidwall/gjson"
)

// ProfileFetcher reads the platform profile of an account's user.
// *upstream.Client implements it.
type ProfileFetcher interface {
	Profile(ctx context.Context, a domain.Account) (gjson.Result, error)
}

// ProfileService proxies the platform's profile method for an
// authenticated account. Any token refresh it causes reaches the store
// through the RenewalListener.
type ProfileService struct {
	Upstream ProfileFetcher
}

// Profile returns the raw profile object.
func (s *ProfileService) Profile(ctx context.Context, a domain.Account) (json.RawMessage, error) {
	res, err := s.Upstream.Profile(ctx, a)
	if err != nil {
		return nil, upstreamError(err)
	}
	if !res.Exists() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Raw), nil
}
