package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var now = time.Unix(1_700_000_000, 0)

func newPlatform(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := b24.NewClient("app.1", "secret")
	c.HTTPClient = NewHTTPClient(5*time.Second, true)
	c.OAuthURL = srv.URL + "/oauth/token/"
	c.Endpoint = func(d string) string { return srv.URL + "/rest/" + d + "/" }
	c.Now = func() time.Time { return now }
	return New(c)
}

func payload() domain.PlacementPayload {
	return domain.PlacementPayload{
		Domain:       "x.example",
		MemberID:     "m1",
		Status:       "L",
		AccessToken:  "t1",
		RefreshToken: "r1",
		Expires:      now.Add(time.Hour).Unix(),
		ExpiresIn:    3600,
	}
}

func batchReply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestExchange(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/x.example/batch.json", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "t1", gjson.GetBytes(body, "auth").String())
		require.Equal(t, "app.info", gjson.GetBytes(body, "cmd.app").String())

		batchReply(w, `{"result":{
			"result": {
				"app": {"ID": 3, "VERSION": 1, "STATUS": "F", "LICENSE_FAMILY": "project", "user_id": 42, "install": {"version": 2}},
				"profile": {"ID": "42", "ADMIN": true},
				"scope": ["crm", "user", "placement"],
				"users": [{"ID": "1"}]
			},
			"result_error": [],
			"result_total": {"users": 17}
		}}`)
	})
	c := newPlatform(t, mux)

	info, err := c.Exchange(context.Background(), payload())
	require.NoError(t, err)

	require.Equal(t, int64(42), info.UserID)
	require.True(t, info.IsAdmin)
	require.Equal(t, 2, info.InstallVersion)
	require.Equal(t, "project", info.LicenseFamily)
	require.Equal(t, "L", info.Status)
	require.Equal(t, []string{"crm", "user", "placement"}, info.Scope)
	require.Equal(t, payload().Credentials(), info.Credentials)
	require.Equal(t, "x.example", info.Domain)
	require.NotNil(t, info.UsersCount)
	require.Equal(t, 17, *info.UsersCount)
}

func TestExchangeFallbacks(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/x.example/batch.json", func(w http.ResponseWriter, r *http.Request) {
		batchReply(w, `{"result":{
			"result": {
				"app": {"VERSION": 5, "STATUS": "P"},
				"profile": {"ID": "7", "ADMIN": "N"}
			},
			"result_error": {
				"scope": {"error": "insufficient_scope"},
				"users": {"error": "insufficient_scope"}
			}
		}}`)
	})
	c := newPlatform(t, mux)

	p := payload()
	p.Status = ""
	info, err := c.Exchange(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, int64(7), info.UserID)
	require.False(t, info.IsAdmin)
	require.Equal(t, 5, info.InstallVersion)
	require.Equal(t, "P", info.Status)
	require.Empty(t, info.Scope)
	require.NotNil(t, info.Scope)
	require.Nil(t, info.UsersCount)
}

func TestExchangeRejected(t *testing.T) {
	t.Parallel()

	t.Run("error body", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /rest/x.example/batch.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid_token","error_description":"invalid signature"}`)
		})

		_, err := newPlatform(t, mux).Exchange(context.Background(), payload())
		require.ErrorIs(t, err, b24.ErrRejected)

		var apiErr *b24.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "invalid signature", apiErr.Message())
	})

	t.Run("app.info failed inside batch", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /rest/x.example/batch.json", func(w http.ResponseWriter, r *http.Request) {
			batchReply(w, `{"result":{"result":{"profile":{"ID":"1"}},"result_error":{"app":{"error":"NO_AUTH_FOUND","error_description":"Wrong authorization data"}}}}`)
		})

		_, err := newPlatform(t, mux).Exchange(context.Background(), payload())
		require.ErrorIs(t, err, b24.ErrRejected)
	})

	t.Run("no user id", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /rest/x.example/batch.json", func(w http.ResponseWriter, r *http.Request) {
			batchReply(w, `{"result":{"result":{"app":{"VERSION":1},"profile":{}},"result_error":[]}}`)
		})

		_, err := newPlatform(t, mux).Exchange(context.Background(), payload())
		require.ErrorIs(t, err, b24.ErrRejected)
		require.ErrorIs(t, err, ErrNoUser)
	})
}

func TestExchangeUnavailable(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/x.example/batch.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"QUERY_LIMIT_EXCEEDED","error_description":"Too many requests"}`)
	})

	_, err := newPlatform(t, mux).Exchange(context.Background(), payload())
	require.ErrorIs(t, err, b24.ErrUnavailable)
	require.NotErrorIs(t, err, b24.ErrRejected)
}

func TestExchangeRefreshesExpiredPayload(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"t2","refresh_token":"r2","expires_in":3600,"expires":1700003600}`)
	})
	mux.HandleFunc("POST /rest/x.example/batch.json", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "t2", gjson.GetBytes(body, "auth").String())
		batchReply(w, `{"result":{"result":{"app":{"user_id":42},"profile":{"ID":"42"}},"result_error":[]}}`)
	})
	c := newPlatform(t, mux)

	var owners []string
	c.b24.Subscribe(func(_ context.Context, ev b24.RenewalEvent) { owners = append(owners, ev.Owner) })

	p := payload()
	p.Expires = now.Unix() - 10
	info, err := c.Exchange(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, domain.Credentials{AccessToken: "t2", RefreshToken: "r2", Expires: 1700003600, ExpiresIn: 3600}, info.Credentials)
	require.Equal(t, []string{""}, owners)
}

func TestProfilePublishesAccountRenewal(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"t2","refresh_token":"r2","expires_in":3600}`)
	})
	mux.HandleFunc("POST /rest/x.example/profile.json", func(w http.ResponseWriter, r *http.Request) {
		batchReply(w, `{"result":{"ID":"42","NAME":"Ada"}}`)
	})
	c := newPlatform(t, mux)

	var got []b24.RenewalEvent
	c.b24.Subscribe(func(_ context.Context, ev b24.RenewalEvent) { got = append(got, ev) })

	acc := domain.Account{
		ID:        "0b7e5c1a-0000-4000-8000-000000000001",
		DomainURL: "x.example",
		Credentials: domain.Credentials{
			AccessToken:  "t1",
			RefreshToken: "r1",
			Expires:      now.Unix() - 1,
		},
	}

	res, err := c.Profile(context.Background(), acc)
	require.NoError(t, err)
	require.Equal(t, "Ada", res.Get("NAME").String())

	require.Len(t, got, 1)
	require.Equal(t, acc.ID, got[0].Owner)
	require.Equal(t, domain.Credentials{AccessToken: "t2", RefreshToken: "r2", Expires: now.Unix() + 3600, ExpiresIn: 3600}, FromRenewal(got[0]))
}

func TestNewHTTPClientBlocksLoopback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	resp, err := NewHTTPClient(time.Second, false).Get(srv.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)

	resp, err = NewHTTPClient(time.Second, true).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}
