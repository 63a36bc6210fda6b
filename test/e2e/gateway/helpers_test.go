package gateway_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/app"
	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store/sqlstore"
	"github.com/aussiebroadwan/b24gate/pkg/cryptox"
	"github.com/aussiebroadwan/b24gate/pkg/gatewaysdk"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

/*
 * The gateway runs in-process against a fake portal. The portal serves the
 * REST methods the gateway calls and the central OAuth endpoint, and lets a
 * test expire the current access token.
 */

const (
	clientID       = "local.e2e"
	credentialsKey = "e2e-credentials-key"
	clientSecret   = "e2e-secret"
	portalUserID   = 42
)

type portal struct {
	srv    *httptest.Server
	domain string

	// token is the access token the portal currently honours.
	token     atomic.Value
	refreshes atomic.Int32
}

func newPortal(t *testing.T) *portal {
	t.Helper()

	p := &portal{}
	p.token.Store("t1")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/batch.json", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch gjson.GetBytes(body, "auth").String() {
		case p.current():
		case "forged":
			reply(w, http.StatusUnauthorized, `{"error":"invalid_token","error_description":"invalid signature"}`)
			return
		default:
			reply(w, http.StatusUnauthorized, `{"error":"expired_token"}`)
			return
		}
		reply(w, http.StatusOK, `{"result":{
			"result": {
				"app": {"VERSION": 3, "STATUS": "L", "LICENSE_FAMILY": "project", "user_id": `+strconv.Itoa(portalUserID)+`},
				"profile": {"ID": "42", "ADMIN": true},
				"scope": ["crm", "user"],
				"users": []
			},
			"result_error": [],
			"result_total": {"users": 12}
		}}`)
	})
	mux.HandleFunc("POST /rest/profile.json", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "auth").String() != p.current() {
			reply(w, http.StatusUnauthorized, `{"error":"expired_token","error_description":"The access token provided has expired."}`)
			return
		}
		reply(w, http.StatusOK, `{"result":{"ID":"42","NAME":"Ann","LAST_NAME":"Lee","ADMIN":true}}`)
	})
	mux.HandleFunc("POST /oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, clientID, r.PostForm.Get("client_id"))

		n := p.refreshes.Add(1)
		next := "t" + strconv.Itoa(int(n)+1)
		p.token.Store(next)
		reply(w, http.StatusOK, `{
			"access_token": "`+next+`",
			"refresh_token": "r`+strconv.Itoa(int(n)+1)+`",
			"expires_in": 3600,
			"expires": `+strconv.FormatInt(time.Now().Add(2*time.Hour).Unix(), 10)+`
		}`)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)

	u, err := url.Parse(p.srv.URL)
	require.NoError(t, err)
	p.domain = u.Host
	return p
}

func (p *portal) current() string { return p.token.Load().(string) }

// expireToken makes the portal reject the current access token.
func (p *portal) expireToken() { p.token.Store("revoked") }

func (p *portal) placement(accessToken string) gatewaysdk.Placement {
	return gatewaysdk.Placement{
		Domain:       p.domain,
		MemberID:     "m-e2e",
		Status:       "L",
		AccessToken:  accessToken,
		RefreshToken: "r1",
		Expires:      time.Now().Add(time.Hour).Unix(),
		ExpiresIn:    3600,
		Placement:    "DEFAULT",
	}
}

type gateway struct {
	baseURL string
	dbPath  string
}

// setupGateway starts the application with its workers and serves it over
// a real listener.
func setupGateway(t *testing.T, p *portal) *gateway {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	cfg := app.Config{
		JWTSecret:            "e2e-jwt-secret",
		JWTAlgorithm:         "HS256",
		SessionLifetime:      time.Hour,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		DatabaseURL:          dbPath,
		CredentialsKey:       credentialsKey,
		OAuthURL:             p.srv.URL + "/oauth/token/",
		PortalScheme:         "http",
		UpstreamTimeout:      5 * time.Second,
		UpstreamAllowPrivate: true,
		RenewalBuffer:        16,
		KeeperStaleAfter:     time.Hour,
		Env:                  "test",
		LogLevel:             "error",
		LogFormat:            "json",
		Port:                 8000,
		ShutdownGracePeriod:  time.Second,
	}
	require.NoError(t, cfg.Validate())

	application, err := app.New(cfg)
	require.NoError(t, err)
	application.Start()

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, application.Shutdown())
	})

	return &gateway{baseURL: srv.URL, dbPath: dbPath}
}

// account reads the account row straight from the gateway's database.
func (g *gateway) account(t *testing.T, id string) domain.Account {
	t.Helper()

	sealer, err := cryptox.NewSealer([]byte(credentialsKey))
	require.NoError(t, err)

	st, err := sqlite.NewStore(g.dbPath, sqlstore.WithSealer(sealer))
	require.NoError(t, err)
	defer st.Close()

	acc, err := st.Accounts().GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

// accountID extracts the account claim of a session token.
func accountID(t *testing.T, token string) string {
	t.Helper()

	id := gjson.GetBytes(decodeSegment(t, token), "account_id").String()
	require.NotEmpty(t, id)
	return id
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
