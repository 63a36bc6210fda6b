package gatewaysdk

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// ErrorResponse is the body of every gateway error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Placement is the payload a portal posts to an application frame. Zero
// fields are left out of the request.
type Placement struct {
	Domain           string
	MemberID         string
	Status           string
	AccessToken      string
	RefreshToken     string
	ApplicationToken string

	// Expires is an absolute unix time. When zero, ExpiresIn is sent as the
	// platform's relative AUTH_EXPIRES instead.
	Expires   int64
	ExpiresIn int64

	Placement        string
	PlacementOptions json.RawMessage

	// UserID is informational; the gateway asks the platform who the user is.
	UserID int64
}

// Values encodes p with the field names the gateway accepts in form and
// query payloads.
func (p Placement) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}

	set("domain", p.Domain)
	set("member_id", p.MemberID)
	set("status", p.Status)
	set("access_token", p.AccessToken)
	set("refresh_token", p.RefreshToken)
	set("application_token", p.ApplicationToken)
	set("placement", p.Placement)
	set("placement_options", string(p.PlacementOptions))

	switch {
	case p.Expires > 0:
		v.Set("expires", strconv.FormatInt(p.Expires, 10))
		if p.ExpiresIn > 0 {
			v.Set("expires_in", strconv.FormatInt(p.ExpiresIn, 10))
		}
	case p.ExpiresIn > 0:
		v.Set("AUTH_EXPIRES", strconv.FormatInt(p.ExpiresIn, 10))
	}

	if p.UserID > 0 {
		v.Set("user_id", strconv.FormatInt(p.UserID, 10))
	}

	return v
}

// TokenResponse is returned by POST /api/getToken.
type TokenResponse struct {
	Token string `json:"token"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// StatusResponse is returned by GET /api/health.
type StatusResponse struct {
	Status    string  `json:"status"`
	Backend   string  `json:"backend"`
	Timestamp float64 `json:"timestamp"`
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the state of the gateway's dependencies.
type HealthChecks struct {
	Database string `json:"database"`
}
