// Package sqlstore holds the SQL shared by the sqlite and postgres drivers.
// Statements are written once with ? placeholders and rebound per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures the few places the two engines disagree.
type Dialect struct {
	Name string

	// NumberedParams switches ? placeholders to $1, $2, ...
	NumberedParams bool

	// Greatest is the two-argument max function (MAX in sqlite, GREATEST
	// in postgres).
	Greatest string

	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(error) bool
}

// Sealer encrypts credential columns at rest. *cryptox.Sealer implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// plainSealer stores values as given.
type plainSealer struct{}

func (plainSealer) Seal(s string) (string, error) { return s, nil }
func (plainSealer) Open(s string) (string, error) { return s, nil }

// Queries runs statements against a DBTX in one dialect.
type Queries struct {
	db      DBTX
	dialect Dialect
	now     func() time.Time
	sealer  Sealer
}

func newQueries(db DBTX, d Dialect, now func() time.Time, sealer Sealer) *Queries {
	return &Queries{db: db, dialect: d, now: now, sealer: sealer}
}

// rebind rewrites ? placeholders and {greatest} for the dialect. Statements
// here never contain a literal question mark.
func (q *Queries) rebind(query string) string {
	query = strings.ReplaceAll(query, "{greatest}", q.dialect.Greatest)
	if !q.dialect.NumberedParams {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

// sealPair seals an access/refresh token pair for writing.
func (q *Queries) sealPair(access, refresh string) (string, string, error) {
	a, err := q.sealer.Seal(access)
	if err != nil {
		return "", "", fmt.Errorf("seal access token: %w", err)
	}
	r, err := q.sealer.Seal(refresh)
	if err != nil {
		return "", "", fmt.Errorf("seal refresh token: %w", err)
	}
	return a, r, nil
}

// openPair reverses sealPair.
func (q *Queries) openPair(access, refresh string) (string, string, error) {
	a, err := q.sealer.Open(access)
	if err != nil {
		return "", "", fmt.Errorf("open access token: %w", err)
	}
	r, err := q.sealer.Open(refresh)
	if err != nil {
		return "", "", fmt.Errorf("open refresh token: %w", err)
	}
	return a, r, nil
}

func (q *Queries) nowMillis() int64 { return q.now().UnixMilli() }

func (q *Queries) isUniqueViolation(err error) bool {
	return err != nil && q.dialect.IsUniqueViolation != nil && q.dialect.IsUniqueViolation(err)
}
