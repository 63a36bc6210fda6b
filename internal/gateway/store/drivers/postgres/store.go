package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/store/sqlstore"
	"github.com/lib/pq"
)

// Dialect is the postgres flavour of the shared statements.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	NumberedParams:    true,
	Greatest:          "GREATEST",
	IsUniqueViolation: isUniqueViolation,
}

// uniqueViolation is SQLSTATE 23505.
const uniqueViolation = "23505"

type Store struct {
	*sqlstore.Store
}

// NewStore opens a postgres pool for a postgres:// URL or key=value DSN and
// checks it is reachable.
func NewStore(ctx context.Context, dsn string, opts ...sqlstore.Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{Store: sqlstore.New(db, Dialect, opts...)}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
