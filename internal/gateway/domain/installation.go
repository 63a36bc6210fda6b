package domain

import (
	"encoding/json"
	"time"
)

// Installation records the app install on the portal an account belongs to.
// There is at most one per account.
type Installation struct {
	ID                  string
	AccountID           string
	Status              string
	PortalLicenseFamily string
	PortalUsersCount    *int
	ExternalID          *string
	ApplicationToken    *string
	Comment             *string
	StatusCode          json.RawMessage
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
