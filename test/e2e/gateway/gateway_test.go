package gateway_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/b24gate/pkg/cryptox"
	"github.com/aussiebroadwan/b24gate/pkg/gatewaysdk"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func decodeSegment(t *testing.T, token string) []byte {
	t.Helper()

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	return payload
}

// TestHealthEndpoints verifies the probes before any account exists.
func TestHealthEndpoints(t *testing.T) {
	g := setupGateway(t, newPortal(t))
	client := gatewaysdk.NewSDKClient(g.baseURL)

	live, err := client.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)

	ready, err := client.GetReadiness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.NotNil(t, ready.Checks)
	require.Equal(t, "ok", ready.Checks.Database)
}

// TestPlacementToSession walks the frame flow: placement payload in,
// session token out, then authenticated calls with the token.
func TestPlacementToSession(t *testing.T) {
	p := newPortal(t)
	g := setupGateway(t, p)
	client := gatewaysdk.NewSDKClient(g.baseURL)

	session, err := client.AuthenticateWithPlacement(t.Context(), p.placement("t1"))
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt(), time.Minute)

	acc := g.account(t, accountID(t, session.Token()))
	require.Equal(t, int64(portalUserID), acc.B24UserID)
	require.Equal(t, p.domain, acc.DomainURL)
	require.Equal(t, "m-e2e", acc.MemberID)
	require.True(t, acc.IsB24UserAdmin)
	require.Equal(t, 3, acc.ApplicationVersion)

	banner, err := session.Banner(t.Context())
	require.NoError(t, err)
	require.Equal(t, "Go Backend is running", banner)

	status, err := session.Status(t.Context())
	require.NoError(t, err)
	require.Equal(t, "healthy", status.Status)
	require.Equal(t, "go", status.Backend)

	enum, err := session.Enum(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"option 1", "option 2", "option 3"}, enum)

	list, err := session.List(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"element 1", "element 2", "element 3"}, list)

	require.NoError(t, session.Install(t.Context()))
}

// TestReinstallKeepsAccount verifies a second placement for the same user
// lands on the same account.
func TestReinstallKeepsAccount(t *testing.T) {
	p := newPortal(t)
	g := setupGateway(t, p)
	client := gatewaysdk.NewSDKClient(g.baseURL)

	require.NoError(t, client.Install(t.Context(), p.placement("t1")))

	first, err := client.AuthenticateWithPlacement(t.Context(), p.placement("t1"))
	require.NoError(t, err)
	second, err := client.AuthenticateWithPlacement(t.Context(), p.placement("t1"))
	require.NoError(t, err)

	require.Equal(t, accountID(t, first.Token()), accountID(t, second.Token()))
}

// TestSessionRenewal verifies a session token can be traded for a fresh one.
func TestSessionRenewal(t *testing.T) {
	p := newPortal(t)
	g := setupGateway(t, p)
	client := gatewaysdk.NewSDKClient(g.baseURL)

	session, err := client.AuthenticateWithPlacement(t.Context(), p.placement("t1"))
	require.NoError(t, err)
	before := session.Token()

	time.Sleep(1100 * time.Millisecond) // exp has second precision
	require.NoError(t, session.Renew(t.Context()))

	require.NotEqual(t, before, session.Token())
	require.Equal(t, accountID(t, before), accountID(t, session.Token()))
}

// TestProfileRefreshesCredentials verifies that an expired portal token is
// refreshed during an ordinary call and the new pair is persisted.
func TestProfileRefreshesCredentials(t *testing.T) {
	p := newPortal(t)
	g := setupGateway(t, p)
	client := gatewaysdk.NewSDKClient(g.baseURL)

	session, err := client.AuthenticateWithPlacement(t.Context(), p.placement("t1"))
	require.NoError(t, err)
	id := accountID(t, session.Token())

	profile, err := session.Profile(t.Context())
	require.NoError(t, err)
	require.Equal(t, "Ann", gjson.GetBytes(profile, "NAME").String())
	require.Zero(t, p.refreshes.Load())

	p.expireToken()

	profile, err = session.Profile(t.Context())
	require.NoError(t, err)
	require.Equal(t, "42", gjson.GetBytes(profile, "ID").String())
	require.Equal(t, int32(1), p.refreshes.Load())

	require.Eventually(t, func() bool {
		return g.account(t, id).Credentials.AccessToken == "t2"
	}, 5*time.Second, 50*time.Millisecond)

	acc := g.account(t, id)
	require.Equal(t, "r2", acc.Credentials.RefreshToken)

	// Without the key the stored tokens are opaque.
	raw, err := sqlite.NewStore(g.dbPath)
	require.NoError(t, err)
	defer raw.Close()

	stored, err := raw.Accounts().GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, cryptox.IsSealed(stored.Credentials.AccessToken))
	require.True(t, cryptox.IsSealed(stored.Credentials.RefreshToken))
}

// TestRejections covers the error mapping seen by a client.
func TestRejections(t *testing.T) {
	p := newPortal(t)
	g := setupGateway(t, p)
	client := gatewaysdk.NewSDKClient(g.baseURL)

	t.Run("forged payload", func(t *testing.T) {
		_, err := client.AuthenticateWithPlacement(t.Context(), p.placement("forged"))
		require.True(t, gatewaysdk.IsBadRequest(err), "got %v", err)
		require.ErrorContains(t, err, "invalid signature")
	})

	t.Run("incomplete payload", func(t *testing.T) {
		_, err := client.AuthenticateWithPlacement(t.Context(), gatewaysdk.Placement{Domain: p.domain})
		require.True(t, gatewaysdk.IsBadRequest(err), "got %v", err)
		require.ErrorContains(t, err, "member_id is required")
	})

	t.Run("foreign token", func(t *testing.T) {
		session := client.NewSessionFromToken("eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ4In0.c2ln")
		_, err := session.Enum(t.Context())
		require.True(t, gatewaysdk.IsUnauthorized(err), "got %v", err)
	})
}
