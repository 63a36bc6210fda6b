package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/google/uuid"
)

const accountColumns = `id, b24_user_id, is_b24_user_admin, member_id, is_master_account,
	domain_url, status, application_token, application_version, comment,
	access_token, refresh_token, expires, expires_in, current_scope,
	created_at, updated_at`

const getAccountByID = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

// upsertAccount is the only write path for the install flow. The stored
// credential pair is replaced only when the incoming one expires no earlier,
// so a stale payload replayed after a renewal cannot roll tokens back.
const upsertAccount = `
INSERT INTO accounts (
	id, b24_user_id, is_b24_user_admin, member_id, domain_url, status,
	application_token, application_version,
	access_token, refresh_token, expires, expires_in, current_scope,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (b24_user_id, domain_url) DO UPDATE SET
	is_b24_user_admin   = excluded.is_b24_user_admin,
	member_id           = excluded.member_id,
	status              = excluded.status,
	application_token   = COALESCE(excluded.application_token, accounts.application_token),
	application_version = excluded.application_version,
	current_scope       = excluded.current_scope,
	access_token  = CASE WHEN excluded.expires >= accounts.expires THEN excluded.access_token ELSE accounts.access_token END,
	refresh_token = CASE WHEN excluded.expires >= accounts.expires THEN excluded.refresh_token ELSE accounts.refresh_token END,
	expires_in    = CASE WHEN excluded.expires >= accounts.expires THEN excluded.expires_in ELSE accounts.expires_in END,
	expires       = {greatest}(accounts.expires, excluded.expires),
	updated_at    = {greatest}(accounts.updated_at, excluded.updated_at)
RETURNING ` + accountColumns

const recordCredentialRenewal = `
UPDATE accounts SET
	access_token  = ?,
	refresh_token = ?,
	expires       = ?,
	expires_in    = ?,
	updated_at    = {greatest}(updated_at, ?)
WHERE id = ? AND expires <= ?`

const updateAccountDomain = `
UPDATE accounts SET
	domain_url = ?,
	updated_at = {greatest}(updated_at, ?)
WHERE id = ?`

const listStaleAccounts = `SELECT ` + accountColumns + `
FROM accounts
WHERE updated_at <= ?
  AND (updated_at > ? OR (updated_at = ? AND id > ?))
ORDER BY updated_at ASC, id ASC
LIMIT ?`

// startOfIDs sorts before every generated account id in both engines.
const startOfIDs = "00000000-0000-0000-0000-000000000000"

type accountsRepo struct {
	q *Queries
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a                 domain.Account
		isMaster          sql.NullBool
		appToken, comment sql.NullString
		scope             []byte
		created, updated  int64
	)

	err := row.Scan(
		&a.ID, &a.B24UserID, &a.IsB24UserAdmin, &a.MemberID, &isMaster,
		&a.DomainURL, &a.Status, &appToken, &a.ApplicationVersion, &comment,
		&a.Credentials.AccessToken, &a.Credentials.RefreshToken,
		&a.Credentials.Expires, &a.Credentials.ExpiresIn, &scope,
		&created, &updated,
	)
	if err != nil {
		return domain.Account{}, err
	}

	a.IsMasterAccount = mapNullBoolPtr(isMaster)
	a.ApplicationToken = mapNullStringPtr(appToken)
	a.Comment = mapNullStringPtr(comment)
	a.CurrentScope = decodeScope(scope)
	a.CreatedAt = millis(created)
	a.UpdatedAt = millis(updated)
	return a, nil
}

// open decrypts the credential pair of a scanned row.
func (r *accountsRepo) open(a domain.Account) (domain.Account, error) {
	access, refresh, err := r.q.openPair(a.Credentials.AccessToken, a.Credentials.RefreshToken)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.Credentials.AccessToken = access
	a.Credentials.RefreshToken = refresh
	return a, nil
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	a, err := scanAccount(r.q.queryRow(ctx, getAccountByID, id))
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	return r.open(a)
}

func (r *accountsRepo) UpsertByNaturalKey(
	ctx context.Context,
	u domain.AccountUpsert,
) (domain.Account, bool, error) {
	newID := uuid.NewString()
	now := r.q.nowMillis()

	access, refresh, err := r.q.sealPair(u.Credentials.AccessToken, u.Credentials.RefreshToken)
	if err != nil {
		return domain.Account{}, false, err
	}

	a, err := scanAccount(r.q.queryRow(ctx, upsertAccount,
		newID, u.B24UserID, u.IsB24UserAdmin, u.MemberID, u.DomainURL, u.Status,
		mapOptionalString(u.ApplicationToken), u.ApplicationVersion,
		access, refresh,
		u.Credentials.Expires, u.Credentials.ExpiresIn, encodeScope(u.CurrentScope),
		now, now,
	))
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("upsert account: %w", err)
	}

	a, err = r.open(a)
	if err != nil {
		return domain.Account{}, false, err
	}
	return a, a.ID == newID, nil
}

func (r *accountsRepo) RecordCredentialRenewal(
	ctx context.Context,
	id string,
	c domain.Credentials,
) (bool, error) {
	access, refresh, err := r.q.sealPair(c.AccessToken, c.RefreshToken)
	if err != nil {
		return false, err
	}

	res, err := r.q.exec(ctx, recordCredentialRenewal,
		access, refresh, c.Expires, c.ExpiresIn, r.q.nowMillis(),
		id, c.Expires,
	)
	if err != nil {
		return false, fmt.Errorf("record credential renewal: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *accountsRepo) UpdateDomain(ctx context.Context, id, domainURL string) error {
	res, err := r.q.exec(ctx, updateAccountDomain, domainURL, r.q.nowMillis(), id)
	if err != nil {
		if r.q.isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("update account domain: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *accountsRepo) ListStaleAccounts(
	ctx context.Context,
	cutoffMillis int64,
	after store.StaleCursor,
	limit int,
) ([]domain.Account, error) {
	if after.IsZero() {
		after = store.StaleCursor{UpdatedAt: -1, ID: startOfIDs}
	}

	rows, err := r.q.query(ctx, listStaleAccounts,
		cutoffMillis, after.UpdatedAt, after.UpdatedAt, after.ID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		if a, err = r.open(a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
