package service

import (
	"context"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
)

// InstallService records the installation fact for a resolved account.
type InstallService struct {
	Store store.Store
}

// Install upserts the installation of p's account. Metadata only known on
// the install path (license family, user count) is left untouched when p
// came in with a bearer token.
func (s *InstallService) Install(ctx context.Context, p Principal) (domain.Installation, error) {
	inst := domain.Installation{
		AccountID:        p.Account.ID,
		Status:           p.Account.Status,
		ApplicationToken: p.Account.ApplicationToken,
	}

	if p.Tenant != nil {
		inst.PortalLicenseFamily = p.Tenant.LicenseFamily
		inst.PortalUsersCount = p.Tenant.UsersCount
	}
	if p.Payload != nil && p.Payload.ApplicationToken != "" {
		inst.ApplicationToken = optional(p.Payload.ApplicationToken)
	}

	out, err := s.Store.Installations().UpsertByAccount(ctx, inst)
	if err != nil {
		return domain.Installation{}, newError(ErrPersistence, MsgInternal, err)
	}

	slogx.FromContext(ctx).Info("installation recorded",
		"account_id", out.AccountID,
		"installation_id", out.ID,
		"status", out.Status,
	)
	return out, nil
}
