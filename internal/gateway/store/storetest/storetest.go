// Package storetest is a behaviour suite every store driver must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, migrated store whose timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) store.Store

// Clock is a settable clock for Factory.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Upsert returns a plausible install-path upsert for user on portal.
func Upsert(user int64, portal string) domain.AccountUpsert {
	return domain.AccountUpsert{
		DomainURL:          portal,
		MemberID:           "member-" + portal,
		B24UserID:          user,
		Status:             "L",
		ApplicationVersion: 1,
		Credentials: domain.Credentials{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			Expires:      1_700_003_600,
			ExpiresIn:    3600,
		},
		CurrentScope: []string{"crm", "user"},
	}
}

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	t.Run("upsert creates then updates", func(t *testing.T) {
		clock := NewClock(time.UnixMilli(1_700_000_000_000))
		st := open(t, clock.Now)
		ctx := context.Background()

		acc, created, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(42, "x.example"))
		require.NoError(t, err)
		require.True(t, created)
		require.NotEmpty(t, acc.ID)
		require.Equal(t, int64(42), acc.B24UserID)
		require.Equal(t, "x.example", acc.DomainURL)
		require.Equal(t, []string{"crm", "user"}, acc.CurrentScope)
		require.Nil(t, acc.IsMasterAccount)
		require.Equal(t, acc.CreatedAt, acc.UpdatedAt)

		clock.Advance(time.Minute)
		u := Upsert(42, "x.example")
		u.IsB24UserAdmin = true
		u.ApplicationVersion = 3
		u.Credentials = domain.Credentials{AccessToken: "at-2", RefreshToken: "rt-2", Expires: 1_700_007_200, ExpiresIn: 3600}

		again, created, err := st.Accounts().UpsertByNaturalKey(ctx, u)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, acc.ID, again.ID)
		require.True(t, again.IsB24UserAdmin)
		require.Equal(t, 3, again.ApplicationVersion)
		require.Equal(t, "at-2", again.Credentials.AccessToken)
		require.Equal(t, acc.CreatedAt, again.CreatedAt)
		require.True(t, again.UpdatedAt.After(acc.UpdatedAt))

		got, err := st.Accounts().GetAccountByID(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, again, got)
	})

	t.Run("natural key is user and domain", func(t *testing.T) {
		st := open(t, time.Now)
		ctx := context.Background()

		a, _, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(1, "x.example"))
		require.NoError(t, err)
		b, created, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(2, "x.example"))
		require.NoError(t, err)
		require.True(t, created)
		c, created, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(1, "y.example"))
		require.NoError(t, err)
		require.True(t, created)

		require.NotEqual(t, a.ID, b.ID)
		require.NotEqual(t, a.ID, c.ID)
	})

	t.Run("stale payload cannot roll credentials back", func(t *testing.T) {
		st := open(t, time.Now)
		ctx := context.Background()

		fresh := Upsert(7, "x.example")
		fresh.Credentials = domain.Credentials{AccessToken: "new", RefreshToken: "new-r", Expires: 2_000, ExpiresIn: 3600}
		acc, _, err := st.Accounts().UpsertByNaturalKey(ctx, fresh)
		require.NoError(t, err)

		stale := Upsert(7, "x.example")
		stale.Status = "P"
		stale.Credentials = domain.Credentials{AccessToken: "old", RefreshToken: "old-r", Expires: 1_000, ExpiresIn: 3600}
		got, created, err := st.Accounts().UpsertByNaturalKey(ctx, stale)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, acc.ID, got.ID)
		require.Equal(t, "P", got.Status)
		require.Equal(t, fresh.Credentials, got.Credentials)
	})

	t.Run("concurrent upserts converge on one row", func(t *testing.T) {
		st := open(t, time.Now)
		ctx := context.Background()

		const n = 16
		var (
			wg      sync.WaitGroup
			creates atomic.Int32
			ids     = make(chan string, n)
			errs    = make(chan error, n)
			start   = make(chan struct{})
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				acc, created, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(42, "race.example"))
				if err != nil {
					errs <- err
					return
				}
				if created {
					creates.Add(1)
				}
				ids <- acc.ID
			}()
		}
		close(start)
		wg.Wait()
		close(ids)
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, int32(1), creates.Load())

		var first string
		for id := range ids {
			if first == "" {
				first = id
			}
			require.Equal(t, first, id)
		}
	})

	t.Run("get unknown account", func(t *testing.T) {
		st := open(t, time.Now)
		_, err := st.Accounts().GetAccountByID(context.Background(), "0b7c5f2e-8c67-4d89-9d5b-6b7f1f0b7a11")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("credential renewal is monotonic and idempotent", func(t *testing.T) {
		clock := NewClock(time.UnixMilli(1_700_000_000_000))
		st := open(t, clock.Now)
		ctx := context.Background()

		acc, _, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(42, "x.example"))
		require.NoError(t, err)

		renewed := domain.Credentials{AccessToken: "at-r", RefreshToken: "rt-r", Expires: acc.Credentials.Expires + 3600, ExpiresIn: 3600}

		clock.Advance(time.Second)
		applied, err := st.Accounts().RecordCredentialRenewal(ctx, acc.ID, renewed)
		require.NoError(t, err)
		require.True(t, applied)

		after, err := st.Accounts().GetAccountByID(ctx, acc.ID)
		require.NoError(t, err)

		// Replaying the same event leaves the row as it was.
		_, err = st.Accounts().RecordCredentialRenewal(ctx, acc.ID, renewed)
		require.NoError(t, err)
		replayed, err := st.Accounts().GetAccountByID(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, after.Credentials, replayed.Credentials)
		require.Equal(t, renewed, replayed.Credentials)

		// Non-credential columns are untouched.
		require.Equal(t, acc.Status, replayed.Status)
		require.Equal(t, acc.MemberID, replayed.MemberID)
		require.Equal(t, acc.CurrentScope, replayed.CurrentScope)
		require.True(t, replayed.UpdatedAt.After(acc.UpdatedAt))

		// An older pair arriving late is dropped.
		applied, err = st.Accounts().RecordCredentialRenewal(ctx, acc.ID, acc.Credentials)
		require.NoError(t, err)
		require.False(t, applied)

		final, err := st.Accounts().GetAccountByID(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, renewed, final.Credentials)
	})

	t.Run("update domain", func(t *testing.T) {
		st := open(t, time.Now)
		ctx := context.Background()

		a, _, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(42, "old.example"))
		require.NoError(t, err)
		_, _, err = st.Accounts().UpsertByNaturalKey(ctx, Upsert(42, "taken.example"))
		require.NoError(t, err)

		require.NoError(t, st.Accounts().UpdateDomain(ctx, a.ID, "new.example"))
		got, err := st.Accounts().GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, "new.example", got.DomainURL)

		err = st.Accounts().UpdateDomain(ctx, a.ID, "taken.example")
		require.ErrorIs(t, err, store.ErrConflict)

		err = st.Accounts().UpdateDomain(ctx, "0b7c5f2e-8c67-4d89-9d5b-6b7f1f0b7a11", "any.example")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list stale accounts", func(t *testing.T) {
		clock := NewClock(time.UnixMilli(1_700_000_000_000))
		st := open(t, clock.Now)
		ctx := context.Background()

		old, _, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(1, "x.example"))
		require.NoError(t, err)
		clock.Advance(48 * time.Hour)
		_, _, err = st.Accounts().UpsertByNaturalKey(ctx, Upsert(2, "x.example"))
		require.NoError(t, err)

		cutoff := clock.Now().Add(-24 * time.Hour).UnixMilli()
		stale, err := st.Accounts().ListStaleAccounts(ctx, cutoff, store.StaleCursor{}, 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		require.Equal(t, old.ID, stale[0].ID)
	})

	t.Run("list stale accounts pages by cursor", func(t *testing.T) {
		clock := NewClock(time.UnixMilli(1_700_000_000_000))
		st := open(t, clock.Now)
		ctx := context.Background()

		// Three rows share one timestamp, so ties break on id.
		want := map[string]bool{}
		for user := int64(1); user <= 3; user++ {
			acc, _, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(user, "page.example"))
			require.NoError(t, err)
			want[acc.ID] = true
		}
		clock.Advance(time.Minute)
		last, _, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(4, "page.example"))
		require.NoError(t, err)
		want[last.ID] = true

		cutoff := clock.Now().UnixMilli()
		var (
			cursor store.StaleCursor
			seen   []string
		)
		for {
			page, err := st.Accounts().ListStaleAccounts(ctx, cutoff, cursor, 2)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			for _, a := range page {
				seen = append(seen, a.ID)
			}
			cursor = store.After(page[len(page)-1])
		}

		require.Len(t, seen, 4)
		require.Equal(t, last.ID, seen[3])
		for _, id := range seen {
			require.True(t, want[id], id)
		}
		require.IsIncreasing(t, seen[:3])
	})

	t.Run("installation upsert", func(t *testing.T) {
		st := open(t, time.Now)
		ctx := context.Background()

		acc, _, err := st.Accounts().UpsertByNaturalKey(ctx, Upsert(42, "x.example"))
		require.NoError(t, err)

		_, err = st.Installations().GetByAccountID(ctx, acc.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		users := 12
		token := "app-token"
		first, err := st.Installations().UpsertByAccount(ctx, domain.Installation{
			AccountID:           acc.ID,
			Status:              "L",
			PortalLicenseFamily: "nfr",
			PortalUsersCount:    &users,
			ApplicationToken:    &token,
			StatusCode:          json.RawMessage(`{"code":"ok"}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, first.ID)

		second, err := st.Installations().UpsertByAccount(ctx, domain.Installation{
			AccountID: acc.ID,
			Status:    "P",
		})
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		require.Equal(t, "P", second.Status)
		require.Equal(t, "nfr", second.PortalLicenseFamily)
		require.Equal(t, &users, second.PortalUsersCount)
		require.Equal(t, &token, second.ApplicationToken)
		require.JSONEq(t, `{"code":"ok"}`, string(second.StatusCode))

		got, err := st.Installations().GetByAccountID(ctx, acc.ID)
		require.NoError(t, err)
		require.Equal(t, second, got)
	})

	t.Run("installation requires account", func(t *testing.T) {
		st := open(t, time.Now)
		_, err := st.Installations().UpsertByAccount(context.Background(), domain.Installation{
			AccountID: "0b7c5f2e-8c67-4d89-9d5b-6b7f1f0b7a11",
			Status:    "L",
		})
		require.Error(t, err)
	})

	t.Run("WithTx rolls back on error", func(t *testing.T) {
		st := open(t, time.Now)
		ctx := context.Background()
		boom := errors.New("boom")

		var id string
		err := st.WithTx(ctx, func(tx store.Tx) error {
			acc, _, err := tx.Accounts().UpsertByNaturalKey(ctx, Upsert(9, "tx.example"))
			if err != nil {
				return err
			}
			id = acc.ID
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.NotEmpty(t, id)

		_, err = st.Accounts().GetAccountByID(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)

		err = st.WithTx(ctx, func(tx store.Tx) error {
			_, _, err := tx.Accounts().UpsertByNaturalKey(ctx, Upsert(9, "tx.example"))
			return err
		})
		require.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		st := open(t, time.Now)
		require.NoError(t, st.Ping(context.Background()))
	})
}
