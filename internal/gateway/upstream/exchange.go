// Package upstream turns placement payloads and stored accounts into
// platform calls.
package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/tidwall/gjson"
)

// ErrNoUser is returned when the platform answers without identifying the
// calling user.
var ErrNoUser = errors.New("platform did not report a user id")

// Batch command keys sent by Exchange.
const (
	cmdApp     = "app"
	cmdProfile = "profile"
	cmdScope   = "scope"
	cmdUsers   = "users"
)

var exchangeBatch = map[string]string{
	cmdApp:     "app.info",
	cmdProfile: "profile",
	cmdScope:   "scope",
	cmdUsers:   "user.get?FILTER[ACTIVE]=Y",
}

// Client wraps a b24.Client with the gateway's domain types.
type Client struct {
	b24 *b24.Client
}

// New returns a Client. Renewals published by c carry the account id as
// their owner, except those from Exchange which carry none.
func New(c *b24.Client) *Client {
	return &Client{b24: c}
}

// Exchange validates a placement payload against the platform and returns
// what the platform knows about its sender. It makes exactly one request
// unless the payload's access token needs a refresh first.
//
// Errors wrap b24.ErrRejected when the platform refused the payload and
// b24.ErrUnavailable when it could not be asked.
func (c *Client) Exchange(ctx context.Context, p domain.PlacementPayload) (domain.TenantInfo, error) {
	s := c.b24.Session("", p.Domain, toB24(p.Credentials()))

	res, err := s.Batch(ctx, exchangeBatch)
	if err != nil {
		return domain.TenantInfo{}, fmt.Errorf("exchange: %w", err)
	}

	// Without app.info and the profile there is nothing to trust.
	for _, key := range []string{cmdApp, cmdProfile} {
		if apiErr, ok := res.Errors[key]; ok {
			return domain.TenantInfo{}, fmt.Errorf("exchange %s: %w", key, apiErr)
		}
	}

	app, profile := res.Results[cmdApp], res.Results[cmdProfile]

	userID := app.Get("user_id").Int()
	if userID == 0 {
		userID = profile.Get("ID").Int()
	}
	if userID == 0 {
		return domain.TenantInfo{}, fmt.Errorf("exchange: %w: %w", b24.ErrRejected, ErrNoUser)
	}

	version := app.Get("install.version")
	if !version.Exists() {
		version = app.Get("VERSION")
	}

	status := p.Status
	if status == "" {
		status = app.Get("STATUS").String()
	}

	info := domain.TenantInfo{
		UserID:         userID,
		IsAdmin:        flag(profile.Get("ADMIN")),
		InstallVersion: int(version.Int()),
		LicenseFamily:  app.Get("LICENSE_FAMILY").String(),
		Status:         status,
		Scope:          stringArray(res.Results[cmdScope]),
		Credentials:    fromB24(s.Credentials()),
		Domain:         s.Domain(),
	}

	// user.get needs the user scope, which not every app has.
	if total, ok := res.Totals[cmdUsers]; ok {
		n := int(total)
		info.UsersCount = &n
	}

	return info, nil
}

// Profile returns the platform's profile of the account's user. A refresh
// along the way is published with the account id as owner.
func (c *Client) Profile(ctx context.Context, a domain.Account) (gjson.Result, error) {
	res, err := c.session(a).Call(ctx, "profile", nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("profile: %w", err)
	}
	return res, nil
}

// Refresh renews the account's credentials unconditionally.
func (c *Client) Refresh(ctx context.Context, a domain.Account) error {
	if err := c.session(a).Refresh(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

func (c *Client) session(a domain.Account) *b24.Session {
	return c.b24.Session(a.ID, a.DomainURL, toB24(a.Credentials))
}

func toB24(c domain.Credentials) b24.Credentials {
	return b24.Credentials{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expires:      c.Expires,
		ExpiresIn:    c.ExpiresIn,
	}
}

func fromB24(c b24.Credentials) domain.Credentials {
	return domain.Credentials{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expires:      c.Expires,
		ExpiresIn:    c.ExpiresIn,
	}
}

// FromRenewal converts a renewal's pair to the domain type.
func FromRenewal(ev b24.RenewalEvent) domain.Credentials {
	return fromB24(ev.Credentials)
}

// flag reads the platform's booleans, which arrive as true, "Y" or 1.
func flag(v gjson.Result) bool {
	if v.Type == gjson.String {
		return v.Str == "Y" || v.Str == "y" || v.Str == "true" || v.Str == "1"
	}
	return v.Bool()
}

func stringArray(v gjson.Result) []string {
	out := []string{}
	for _, item := range v.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
