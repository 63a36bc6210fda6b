package store

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. Sub-repositories are exposed as methods so a
// Tx-scoped Store hands out repos bound to the same transaction.
type Store interface {
	Accounts() Accounts
	Installations() Installations

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. It commits when fn returns
	// nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// GetAccountByID returns ErrNotFound when no account has id.
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// UpsertByNaturalKey inserts or updates the account keyed by
	// (B24UserID, DomainURL) in a single statement. created reports
	// whether a new row was inserted.
	UpsertByNaturalKey(ctx context.Context, u domain.AccountUpsert) (acc domain.Account, created bool, err error)

	// RecordCredentialRenewal stores a renewed OAuth pair. Only the
	// credential columns and updated_at change. A pair that expires
	// earlier than the stored one is ignored, so replays and late
	// deliveries are harmless. applied reports whether a row changed.
	RecordCredentialRenewal(ctx context.Context, id string, c domain.Credentials) (applied bool, err error)

	// UpdateDomain moves an account to a new portal domain. It returns
	// ErrConflict if the target (user, domain) pair is already taken.
	UpdateDomain(ctx context.Context, id, domainURL string) error

	// ListStaleAccounts returns accounts whose row was last touched at or
	// before cutoff (epoch millis), ordered by (updated_at, id) and starting
	// strictly after the cursor. The zero cursor starts at the oldest row.
	ListStaleAccounts(ctx context.Context, cutoffMillis int64, after StaleCursor, limit int) ([]domain.Account, error)
}

// StaleCursor is a position in the ListStaleAccounts order.
type StaleCursor struct {
	UpdatedAt int64 // epoch millis
	ID        string
}

// After returns the cursor just past a.
func After(a domain.Account) StaleCursor {
	return StaleCursor{UpdatedAt: a.UpdatedAt.UnixMilli(), ID: a.ID}
}

// IsZero reports whether c is the start of the order.
func (c StaleCursor) IsZero() bool { return c == StaleCursor{} }

type Installations interface {
	// UpsertByAccount inserts or updates the single installation of an
	// account.
	UpsertByAccount(ctx context.Context, inst domain.Installation) (domain.Installation, error)

	// GetByAccountID returns ErrNotFound when the account has none.
	GetByAccountID(ctx context.Context, accountID string) (domain.Installation, error)
}
