package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/pkg/idx"
)

const installationColumns = `id, account_id, status, portal_license_family, portal_users_count,
	external_id, application_token, comment, status_code, created_at, updated_at`

const upsertInstallation = `
INSERT INTO installations (
	id, account_id, status, portal_license_family, portal_users_count,
	external_id, application_token, comment, status_code, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account_id) DO UPDATE SET
	status                = excluded.status,
	portal_license_family = CASE WHEN excluded.portal_license_family <> '' THEN excluded.portal_license_family ELSE installations.portal_license_family END,
	portal_users_count    = COALESCE(excluded.portal_users_count, installations.portal_users_count),
	external_id           = COALESCE(excluded.external_id, installations.external_id),
	application_token     = COALESCE(excluded.application_token, installations.application_token),
	comment               = COALESCE(excluded.comment, installations.comment),
	status_code           = COALESCE(excluded.status_code, installations.status_code),
	updated_at            = {greatest}(installations.updated_at, excluded.updated_at)
RETURNING ` + installationColumns

const getInstallationByAccountID = `SELECT ` + installationColumns + ` FROM installations WHERE account_id = ?`

type installationsRepo struct {
	q *Queries
}

func scanInstallation(row rowScanner) (domain.Installation, error) {
	var (
		inst                                     domain.Installation
		usersCount                               sql.NullInt64
		externalID, appToken, comment, statusRaw sql.NullString
		created, updated                         int64
	)

	err := row.Scan(
		&inst.ID, &inst.AccountID, &inst.Status, &inst.PortalLicenseFamily, &usersCount,
		&externalID, &appToken, &comment, &statusRaw, &created, &updated,
	)
	if err != nil {
		return domain.Installation{}, err
	}

	inst.PortalUsersCount = mapNullIntPtr(usersCount)
	inst.ExternalID = mapNullStringPtr(externalID)
	inst.ApplicationToken = mapNullStringPtr(appToken)
	inst.Comment = mapNullStringPtr(comment)
	if statusRaw.Valid {
		inst.StatusCode = json.RawMessage(statusRaw.String)
	}
	inst.CreatedAt = millis(created)
	inst.UpdatedAt = millis(updated)
	return inst, nil
}

func (r *installationsRepo) UpsertByAccount(
	ctx context.Context,
	inst domain.Installation,
) (domain.Installation, error) {
	now := r.q.nowMillis()

	out, err := scanInstallation(r.q.queryRow(ctx, upsertInstallation,
		idx.New().String(), inst.AccountID, inst.Status, inst.PortalLicenseFamily,
		mapOptionalInt(inst.PortalUsersCount), mapOptionalString(inst.ExternalID),
		mapOptionalString(inst.ApplicationToken), mapOptionalString(inst.Comment),
		mapOptionalJSON(inst.StatusCode), now, now,
	))
	if err != nil {
		return domain.Installation{}, fmt.Errorf("upsert installation: %w", err)
	}
	return out, nil
}

func (r *installationsRepo) GetByAccountID(ctx context.Context, accountID string) (domain.Installation, error) {
	inst, err := scanInstallation(r.q.queryRow(ctx, getInstallationByAccountID, accountID))
	if err != nil {
		return domain.Installation{}, mapNotFound(err)
	}
	return inst, nil
}
