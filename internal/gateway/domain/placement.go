package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// ErrInvalidPlacement is wrapped by every ParsePlacement failure.
var ErrInvalidPlacement = errors.New("invalid placement payload")

// PlacementPayload is the one-time credential bundle the platform hands to
// an app frame on install or placement render.
type PlacementPayload struct {
	Domain           string
	MemberID         string
	Status           string
	AccessToken      string
	RefreshToken     string
	Expires          int64
	ExpiresIn        int64
	ApplicationToken string
	Placement        string
	PlacementOptions json.RawMessage

	// UserID is the frontend's claim about who it is. It is only logged;
	// the platform's answer during the exchange is authoritative.
	UserID int64
}

// Credentials returns the OAuth pair carried by the payload.
func (p PlacementPayload) Credentials() Credentials {
	return Credentials{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Expires:      p.Expires,
		ExpiresIn:    p.ExpiresIn,
	}
}

// Field aliases. The first name is the JSON API spelling, the rest are the
// raw names the platform posts to an app frame.
var (
	fieldDomain           = []string{"domain", "DOMAIN"}
	fieldMemberID         = []string{"member_id", "MEMBER_ID"}
	fieldStatus           = []string{"status", "STATUS"}
	fieldAccessToken      = []string{"access_token", "AUTH_ID"}
	fieldRefreshToken     = []string{"refresh_token", "REFRESH_ID", "REFRESH_TOKEN"}
	fieldExpires          = []string{"expires"}
	fieldExpiresIn        = []string{"expires_in"}
	fieldAuthExpires      = []string{"AUTH_EXPIRES"}
	fieldApplicationToken = []string{"application_token"}
	fieldPlacement        = []string{"placement", "PLACEMENT"}
	fieldPlacementOptions = []string{"placement_options", "PLACEMENT_OPTIONS"}
	fieldUserID           = []string{"user_id", "USER_ID"}
)

// ParsePlacement builds a payload from flattened request fields. now is
// used to turn the platform's relative AUTH_EXPIRES into an absolute
// expiry.
func ParsePlacement(fields map[string]string, now time.Time) (PlacementPayload, error) {
	get := func(names []string) string {
		for _, n := range names {
			if v := strings.TrimSpace(fields[n]); v != "" {
				return v
			}
		}
		return ""
	}

	var problems []string
	p := PlacementPayload{
		MemberID:         get(fieldMemberID),
		Status:           get(fieldStatus),
		AccessToken:      get(fieldAccessToken),
		RefreshToken:     get(fieldRefreshToken),
		ApplicationToken: get(fieldApplicationToken),
		Placement:        get(fieldPlacement),
	}

	if raw := get(fieldDomain); raw == "" {
		problems = append(problems, "domain is required")
	} else if d, err := NormalizeDomain(raw); err != nil {
		problems = append(problems, err.Error())
	} else {
		p.Domain = d
	}

	if p.MemberID == "" {
		problems = append(problems, "member_id is required")
	}
	if p.AccessToken == "" {
		problems = append(problems, "access_token is required")
	}
	if p.RefreshToken == "" {
		problems = append(problems, "refresh_token is required")
	}

	expires, errExp := parseInt(get(fieldExpires))
	expiresIn, errIn := parseInt(get(fieldExpiresIn))
	authExpires, errAuth := parseInt(get(fieldAuthExpires))
	switch {
	case errExp != nil || errIn != nil || errAuth != nil:
		problems = append(problems, "expires must be an integer")
	case expires > 0:
		p.Expires = expires
		p.ExpiresIn = expiresIn
		if p.ExpiresIn == 0 {
			p.ExpiresIn = max(expires-now.Unix(), 0)
		}
	case authExpires > 0:
		p.Expires = now.Unix() + authExpires
		p.ExpiresIn = authExpires
	default:
		problems = append(problems, "expires is required")
	}

	if opts := get(fieldPlacementOptions); opts != "" {
		if !json.Valid([]byte(opts)) {
			problems = append(problems, "placement_options must be JSON")
		} else {
			p.PlacementOptions = json.RawMessage(opts)
		}
	}

	if uid, err := parseInt(get(fieldUserID)); err == nil {
		p.UserID = uid
	}

	if len(problems) > 0 {
		return PlacementPayload{}, fmt.Errorf("%w: %s", ErrInvalidPlacement, strings.Join(problems, "; "))
	}

	return p, nil
}

// NormalizeDomain reduces what the platform calls a domain to a bare
// lowercase ASCII host, optionally with port. Schemes, paths and trailing
// dots are stripped; IDN hosts are punycoded.
func NormalizeDomain(raw string) (string, error) {
	d := strings.TrimSpace(raw)
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if strings.Contains(d, "@") {
		return "", errors.New("domain must not carry userinfo")
	}

	host, port := d, ""
	if h, p, err := net.SplitHostPort(d); err == nil {
		host, port = h, p
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("domain port %q is invalid", port)
		}
	}
	host = strings.TrimSuffix(host, ".")

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil || ascii == "" {
		return "", fmt.Errorf("domain %q is not a valid host", raw)
	}
	if port != "" {
		return net.JoinHostPort(ascii, port), nil
	}
	return ascii, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	// JSON numbers arrive flattened, sometimes as 1.7e9 or 3600.0.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
