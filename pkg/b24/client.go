package b24

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultOAuthURL is the platform's central OAuth token endpoint.
const DefaultOAuthURL = "https://oauth.bitrix.info/oauth/token/"

// DefaultRefreshBuffer is how close to expiry a token is refreshed ahead
// of a call.
const DefaultRefreshBuffer = 30 * time.Second

// Credentials is a portal user's OAuth pair. Expires is absolute epoch
// seconds.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expires      int64
	ExpiresIn    int64
}

// RenewalEvent is published after every successful refresh.
type RenewalEvent struct {
	// Owner is whatever the Session was created with, usually an account
	// id. Empty for sessions nobody has persisted yet.
	Owner string

	// Domain is the portal the new pair belongs to. PreviousDomain is set
	// only when the platform reported a different portal than before.
	Domain         string
	PreviousDomain string

	Credentials Credentials
	RenewedAt   time.Time
}

// RenewalHandler receives renewal events on the refreshing goroutine.
type RenewalHandler func(ctx context.Context, ev RenewalEvent)

// CallObserver is told about every upstream request, for metrics.
type CallObserver func(method string, elapsed time.Duration, err error)

// Client is the application's side of the platform.
type Client struct {
	ClientID     string
	ClientSecret string
	OAuthURL     string
	HTTPClient   *http.Client

	// Endpoint maps a portal domain to its REST base URL. The default is
	// https://<domain>/rest/.
	Endpoint func(domain string) string

	// RefreshBuffer overrides DefaultRefreshBuffer when positive.
	RefreshBuffer time.Duration

	// Now overrides time.Now.
	Now func() time.Time

	// Observe is optional.
	Observe CallObserver

	mu       sync.RWMutex
	handlers []RenewalHandler
}

// NewClient returns a client with a 10 second HTTP timeout and the public
// OAuth endpoint.
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		OAuthURL:     DefaultOAuthURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Subscribe registers h for every future renewal.
func (c *Client) Subscribe(h RenewalHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) publish(ctx context.Context, ev RenewalEvent) {
	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// Session binds creds for a user on domain. owner is echoed back in
// renewal events.
func (c *Client) Session(owner, domain string, creds Credentials) *Session {
	return &Session{
		client: c,
		owner:  owner,
		domain: domain,
		creds:  creds,
	}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) refreshBuffer() time.Duration {
	if c.RefreshBuffer > 0 {
		return c.RefreshBuffer
	}
	return DefaultRefreshBuffer
}

func (c *Client) restURL(domain, method string) string {
	base := "https://" + domain + "/rest/"
	if c.Endpoint != nil {
		base = c.Endpoint(domain)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + method + ".json"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) oauthConfig() *oauth2.Config {
	tokenURL := c.OAuthURL
	if tokenURL == "" {
		tokenURL = DefaultOAuthURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) observe(method string, start time.Time, err error) {
	if c.Observe != nil {
		c.Observe(method, time.Since(start), err)
	}
}
