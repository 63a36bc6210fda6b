package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
)

// Store implements everything in store.Store except ApplyMigrations, which
// each driver adds with its own embedded migrations.
type Store struct {
	db      *sql.DB
	q       *Queries
	dialect Dialect
	now     func() time.Time
	sealer  Sealer
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSealer encrypts access and refresh tokens before they are written.
// Rows written without a sealer still read back as plaintext.
func WithSealer(sealer Sealer) Option {
	return func(s *Store) {
		if sealer != nil {
			s.sealer = sealer
		}
	}
}

func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: d, now: time.Now, sealer: plainSealer{}}
	for _, opt := range opts {
		opt(s)
	}
	s.q = newQueries(db, d, s.now, s.sealer)
	return s
}

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txStore{tx: tx, q: newQueries(tx, s.dialect, s.now, s.sealer)}, nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // no-op after a successful commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Accounts() store.Accounts           { return &accountsRepo{q: s.q} }
func (s *Store) Installations() store.Installations { return &installationsRepo{q: s.q} }
