package gatewaysdk

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "0b3c4d1e-8f2a-4c5b-9d6e-7f8091a2b3c4",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("gateway-secret"))
	require.NoError(t, err)
	return token
}

func TestPlacementValues(t *testing.T) {
	t.Parallel()

	t.Run("absolute expiry", func(t *testing.T) {
		v := Placement{
			Domain:           "x.example",
			MemberID:         "m1",
			AccessToken:      "t1",
			RefreshToken:     "r1",
			Expires:          1_700_003_600,
			ExpiresIn:        3600,
			PlacementOptions: json.RawMessage(`{"ID":"5"}`),
		}.Values()

		require.Equal(t, "x.example", v.Get("domain"))
		require.Equal(t, "1700003600", v.Get("expires"))
		require.Equal(t, "3600", v.Get("expires_in"))
		require.Equal(t, `{"ID":"5"}`, v.Get("placement_options"))
		require.False(t, v.Has("AUTH_EXPIRES"))
		require.False(t, v.Has("status"))
		require.False(t, v.Has("user_id"))
	})

	t.Run("relative expiry", func(t *testing.T) {
		v := Placement{Domain: "x.example", ExpiresIn: 3600, UserID: 42}.Values()

		require.Equal(t, "3600", v.Get("AUTH_EXPIRES"))
		require.False(t, v.Has("expires"))
		require.Equal(t, "42", v.Get("user_id"))
	})
}

func TestAuthenticateWithPlacement(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signed(t, exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/getToken", r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "x.example", r.PostForm.Get("domain"))
		require.Empty(t, r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(TokenResponse{Token: token})
	}))
	t.Cleanup(srv.Close)

	session, err := NewSDKClient(srv.URL+"/").AuthenticateWithPlacement(t.Context(), Placement{Domain: "x.example"})
	require.NoError(t, err)
	require.Equal(t, token, session.Token())
	require.True(t, exp.Equal(session.ExpiresAt()))
}

func TestSessionErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/enum":
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid session token"}`)
		case "/api/install":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid signature"}`)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, "rate limit exceeded\n")
		}
	}))
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL)
	session := client.NewSessionFromToken("opaque")

	_, err := session.Enum(t.Context())
	require.True(t, IsUnauthorized(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "invalid session token", apiErr.Message)
	require.Contains(t, apiErr.Challenge, "invalid_token")

	err = client.Install(t.Context(), Placement{Domain: "x.example"})
	require.True(t, IsBadRequest(err))
	require.ErrorContains(t, err, "invalid signature")

	_, err = session.Profile(t.Context())
	require.True(t, IsRateLimited(err))
	require.ErrorContains(t, err, "Too Many Requests")
}

func TestSessionRenewsBeforeExpiry(t *testing.T) {
	t.Parallel()

	old := signed(t, time.Now().Add(10*time.Second))
	fresh := signed(t, time.Now().Add(time.Hour))

	var renewals atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/getToken":
			renewals.Add(1)
			require.Equal(t, "Bearer "+old, r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(TokenResponse{Token: fresh})
		case "/api/list":
			require.Equal(t, "Bearer "+fresh, r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode([]string{"element 1"})
		}
	}))
	t.Cleanup(srv.Close)

	session := NewSDKClient(srv.URL).NewSessionFromToken(old)

	for range 3 {
		items, err := session.List(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"element 1"}, items)
	}

	require.Equal(t, int32(1), renewals.Load())
	require.Equal(t, fresh, session.Token())
}

func TestSessionExpiredToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	session := NewSDKClient(srv.URL).NewSessionFromToken(signed(t, time.Now().Add(-time.Minute)))

	_, err := session.Status(t.Context())
	require.ErrorContains(t, err, "expired")
	require.Zero(t, calls.Load())
}

func TestOpaqueTokenIsNeverRenewed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/", r.URL.Path)
		_ = json.NewEncoder(w).Encode(MessageResponse{Message: "Go Backend is running"})
	}))
	t.Cleanup(srv.Close)

	session := NewSDKClient(srv.URL).NewSessionFromToken("opaque")
	require.True(t, session.ExpiresAt().IsZero())

	msg, err := session.Banner(t.Context())
	require.NoError(t, err)
	require.Equal(t, "Go Backend is running", msg)
}
