package domain

// TenantInfo is what the platform says about the caller of a placement
// payload. Credentials is the pair in effect after the exchange, which
// differs from the payload's when the platform had to refresh it.
type TenantInfo struct {
	UserID         int64
	IsAdmin        bool
	InstallVersion int
	LicenseFamily  string
	Status         string
	UsersCount     *int
	Scope          []string
	Credentials    Credentials
	Domain         string
}
