package domain

import "time"

// Account is one platform user on one portal. The pair (B24UserID,
// DomainURL) is unique; ID never changes once assigned.
type Account struct {
	ID                 string
	DomainURL          string
	MemberID           string
	B24UserID          int64
	IsB24UserAdmin     bool
	IsMasterAccount    *bool
	Status             string
	ApplicationToken   *string
	ApplicationVersion int
	Comment            *string
	Credentials        Credentials
	CurrentScope       []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AccountUpsert is everything the install path knows about an account. It
// is applied atomically against the natural key.
type AccountUpsert struct {
	DomainURL          string
	MemberID           string
	B24UserID          int64
	IsB24UserAdmin     bool
	Status             string
	ApplicationToken   *string
	ApplicationVersion int
	Credentials        Credentials
	CurrentScope       []string
}

// Credentials is the platform OAuth pair. Expires is absolute epoch seconds,
// ExpiresIn the lifetime the platform reported when issuing it.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expires      int64
	ExpiresIn    int64
}

// ExpiresAt returns Expires as a time.
func (c Credentials) ExpiresAt() time.Time {
	return time.Unix(c.Expires, 0).UTC()
}

// ExpiresWithin reports whether the access token is expired or will be
// within d of now.
func (c Credentials) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Add(d).Before(c.ExpiresAt())
}

// IsZero reports whether no credential is present.
func (c Credentials) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}
