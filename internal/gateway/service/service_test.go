package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/sqlstore"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/storetest"
	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/aussiebroadwan/b24gate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func newStore(t *testing.T, clock *storetest.Clock) store.Store {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "gateway.db"), sqlstore.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())
	return st
}

func newCodec(t *testing.T, clock *storetest.Clock) *jwtx.Codec {
	t.Helper()

	c, err := jwtx.NewCodec([]byte("test-secret"), "HS256", jwtx.WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

// fakeExchanger answers Exchange from a function and counts calls.
type fakeExchanger struct {
	calls atomic.Int32
	fn    func(p domain.PlacementPayload) (domain.TenantInfo, error)
}

func (f *fakeExchanger) Exchange(_ context.Context, p domain.PlacementPayload) (domain.TenantInfo, error) {
	f.calls.Add(1)
	return f.fn(p)
}

func tenant(userID int64) func(p domain.PlacementPayload) (domain.TenantInfo, error) {
	return func(p domain.PlacementPayload) (domain.TenantInfo, error) {
		return domain.TenantInfo{
			UserID:         userID,
			IsAdmin:        true,
			InstallVersion: 1,
			LicenseFamily:  "project",
			Status:         p.Status,
			Scope:          []string{"crm"},
			Credentials:    p.Credentials(),
			Domain:         p.Domain,
		}, nil
	}
}

func placementFields() map[string]string {
	return map[string]string{
		"domain":        "x.example",
		"member_id":     "m1",
		"status":        "active",
		"access_token":  "t1",
		"refresh_token": "r1",
		"expires":       "1700000000",
	}
}

type fixture struct {
	clock    *storetest.Clock
	store    store.Store
	codec    *jwtx.Codec
	upstream *fakeExchanger
	resolver *AuthResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{clock: storetest.NewClock(t0)}
	f.store = newStore(t, f.clock)
	f.codec = newCodec(t, f.clock)
	f.upstream = &fakeExchanger{fn: tenant(42)}
	f.resolver = &AuthResolver{
		Tokens:   f.codec,
		Store:    f.store,
		Upstream: f.upstream,
		Now:      f.clock.Now,
	}
	return f
}

func (f *fixture) countAccounts(t *testing.T) int {
	t.Helper()
	accs, err := f.store.Accounts().ListStaleAccounts(context.Background(), t0.Add(100*365*24*time.Hour).UnixMilli(), store.StaleCursor{}, 1000)
	require.NoError(t, err)
	return len(accs)
}

func TestResolveInstallCreatesAccount(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.resolver.Resolve(ctx, ResolveInput{Fields: placementFields()})
	require.NoError(t, err)

	require.Equal(t, ModeInstall, p.Mode)
	require.True(t, p.Created)
	require.Equal(t, int64(42), p.Account.B24UserID)
	require.Equal(t, "x.example", p.Account.DomainURL)
	require.Equal(t, "m1", p.Account.MemberID)
	require.Equal(t, "active", p.Account.Status)
	require.Equal(t, domain.Credentials{AccessToken: "t1", RefreshToken: "r1", Expires: 1700000000}, p.Account.Credentials)
	require.NotNil(t, p.Tenant)
	require.NotNil(t, p.Payload)

	// The resolver alone never records an installation.
	_, err = f.store.Installations().GetByAccountID(ctx, p.Account.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveInstallResubmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, ResolveInput{Fields: placementFields()})
	require.NoError(t, err)
	second, err := f.resolver.Resolve(ctx, ResolveInput{Fields: placementFields()})
	require.NoError(t, err)

	require.True(t, first.Created)
	require.False(t, second.Created)
	require.Equal(t, first.Account.ID, second.Account.ID)
	require.Equal(t, 1, f.countAccounts(t))
}

func TestResolveInstallNormalizesReportedDomain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, ResolveInput{Fields: placementFields()})
	require.NoError(t, err)

	// The refresh reports the portal host with different case and a root dot.
	for _, reported := range []string{"X.Example.", "https://x.example/rest/", "bad host!"} {
		f.upstream.fn = func(p domain.PlacementPayload) (domain.TenantInfo, error) {
			info, err := tenant(42)(p)
			info.Domain = reported
			return info, err
		}

		again, err := f.resolver.Resolve(ctx, ResolveInput{Fields: placementFields()})
		require.NoError(t, err, reported)
		require.False(t, again.Created, reported)
		require.Equal(t, first.Account.ID, again.Account.ID, reported)
		require.Equal(t, "x.example", again.Account.DomainURL, reported)
	}
	require.Equal(t, 1, f.countAccounts(t))
}

func TestResolveInstallConcurrent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	const n = 16
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.resolver.Resolve(context.Background(), ResolveInput{Fields: placementFields()})
			if !assertNoError(t, err) {
				return
			}
			if p.Created {
				created.Add(1)
			}
			ids.Store(p.Account.ID, true)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), created.Load())
	count := 0
	ids.Range(func(any, any) bool { count++; return true })
	require.Equal(t, 1, count)
	require.Equal(t, 1, f.countAccounts(t))
}

func assertNoError(t *testing.T, err error) bool {
	if err != nil {
		t.Errorf("unexpected error: %v", err)
		return false
	}
	return true
}

func TestResolveInstallUpstreamRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.upstream.fn = func(domain.PlacementPayload) (domain.TenantInfo, error) {
		return domain.TenantInfo{}, fmt.Errorf("exchange: %w", b24.NewAPIError(401, b24.CodeInvalidToken, "invalid signature"))
	}

	_, err := f.resolver.Resolve(context.Background(), ResolveInput{Fields: placementFields()})
	require.ErrorIs(t, err, ErrUpstreamRejected)
	require.True(t, IsValidation(err))
	require.Equal(t, "invalid signature", Message(err))
	require.Zero(t, f.countAccounts(t))
}

func TestResolveInstallUpstreamUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.upstream.fn = func(domain.PlacementPayload) (domain.TenantInfo, error) {
		return domain.TenantInfo{}, fmt.Errorf("%w: call batch: %w", b24.ErrUnavailable, context.DeadlineExceeded)
	}

	_, err := f.resolver.Resolve(context.Background(), ResolveInput{Fields: placementFields()})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsValidation(err))
	require.False(t, IsAuthentication(err))
	require.Equal(t, MsgUpstreamUnavailable, Message(err))
	require.Zero(t, f.countAccounts(t))
}

func TestResolveInstallInvalidPayload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	fields := placementFields()
	delete(fields, "member_id")

	_, err := f.resolver.Resolve(context.Background(), ResolveInput{Fields: fields})
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.ErrorIs(t, err, domain.ErrInvalidPlacement)
	require.Contains(t, Message(err), "member_id is required")
	require.Zero(t, f.upstream.calls.Load())
}

func TestResolveBearer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	installed, err := f.resolver.Resolve(ctx, ResolveInput{Fields: placementFields()})
	require.NoError(t, err)

	token, err := NewSessionIssuer(f.codec, 0).IssueFor(installed.Account)
	require.NoError(t, err)

	p, err := f.resolver.Resolve(ctx, ResolveInput{HasBearer: true, Bearer: token})
	require.NoError(t, err)
	require.Equal(t, ModeBearer, p.Mode)
	require.Equal(t, installed.Account.ID, p.Account.ID)
	require.Nil(t, p.Tenant)
	require.Equal(t, int32(1), f.upstream.calls.Load())
}

func TestResolveBearerFailures(t *testing.T) {
	t.Parallel()

	t.Run("expired token", func(t *testing.T) {
		f := newFixture(t)
		token, err := f.codec.Issue("0b7e5c1a-0000-4000-8000-000000000001", time.Minute)
		require.NoError(t, err)
		f.clock.Advance(time.Minute + time.Second)

		_, err = f.resolver.Resolve(context.Background(), ResolveInput{
			HasBearer: true,
			Bearer:    token,
			Fields:    placementFields(),
		})
		require.ErrorIs(t, err, ErrExpiredToken)
		require.True(t, IsAuthentication(err))
		require.Equal(t, MsgExpiredToken, Message(err))
		require.Zero(t, f.upstream.calls.Load())
		require.Zero(t, f.countAccounts(t))
	})

	t.Run("garbage", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Resolve(context.Background(), ResolveInput{HasBearer: true, Bearer: "not.a.token"})
		require.ErrorIs(t, err, ErrMalformedToken)
		require.Equal(t, MsgInvalidToken, Message(err))
	})

	t.Run("empty token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Resolve(context.Background(), ResolveInput{HasBearer: true})
		require.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		f := newFixture(t)
		other, err := jwtx.NewCodec([]byte("other-secret"), "HS256", jwtx.WithClock(f.clock.Now))
		require.NoError(t, err)
		token, err := other.Issue("0b7e5c1a-0000-4000-8000-000000000001", time.Hour)
		require.NoError(t, err)

		_, err = f.resolver.Resolve(context.Background(), ResolveInput{HasBearer: true, Bearer: token})
		require.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("account id not a uuid", func(t *testing.T) {
		f := newFixture(t)
		token, err := f.codec.Issue("42", time.Hour)
		require.NoError(t, err)

		_, err = f.resolver.Resolve(context.Background(), ResolveInput{HasBearer: true, Bearer: token})
		require.ErrorIs(t, err, ErrInvalidClaims)
		require.Equal(t, MsgInvalidToken, Message(err))
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newFixture(t)
		token, err := f.codec.Issue("0b7e5c1a-0000-4000-8000-000000000001", time.Hour)
		require.NoError(t, err)

		_, err = f.resolver.Resolve(context.Background(), ResolveInput{HasBearer: true, Bearer: token})
		require.ErrorIs(t, err, ErrAccountNotFound)
		require.Equal(t, MsgInvalidToken, Message(err))
	})
}

func TestSessionIssuerLifetime(t *testing.T) {
	t.Parallel()

	clock := storetest.NewClock(t0)
	codec := newCodec(t, clock)
	issuer := NewSessionIssuer(codec, 0)
	require.Equal(t, jwtx.DefaultSessionLifetime, issuer.Lifetime)

	acc := domain.Account{ID: "0b7e5c1a-0000-4000-8000-000000000001"}
	token, err := issuer.IssueFor(acc)
	require.NoError(t, err)

	clock.Advance(jwtx.DefaultSessionLifetime - time.Second)
	id, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, acc.ID, id)

	clock.Advance(2 * time.Second)
	_, err = codec.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

type failingIssuer struct{}

func (failingIssuer) Issue(string, time.Duration) (string, error) {
	return "", errors.New("boom")
}

func TestSessionIssuerError(t *testing.T) {
	t.Parallel()

	_, err := NewSessionIssuer(failingIssuer{}, time.Minute).IssueFor(domain.Account{ID: "x"})
	require.Error(t, err)
	require.Equal(t, MsgInternal, Message(err))
}

func TestInstallService(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	fields := placementFields()
	fields["application_token"] = "app-tok"
	p, err := f.resolver.Resolve(ctx, ResolveInput{Fields: fields})
	require.NoError(t, err)

	users := 12
	p.Tenant.UsersCount = &users

	svc := &InstallService{Store: f.store}
	inst, err := svc.Install(ctx, p)
	require.NoError(t, err)
	require.Equal(t, p.Account.ID, inst.AccountID)
	require.Equal(t, "active", inst.Status)
	require.Equal(t, "project", inst.PortalLicenseFamily)
	require.Equal(t, &users, inst.PortalUsersCount)
	require.Equal(t, "app-tok", *inst.ApplicationToken)

	// A later bearer-authenticated install keeps what only the install
	// path knows.
	bearer := Principal{Account: p.Account, Mode: ModeBearer}
	again, err := svc.Install(ctx, bearer)
	require.NoError(t, err)
	require.Equal(t, inst.ID, again.ID)
	require.Equal(t, "project", again.PortalLicenseFamily)
	require.Equal(t, &users, again.PortalUsersCount)
}
