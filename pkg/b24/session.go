package b24

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// maxResponseBytes caps how much of a platform response is read.
const maxResponseBytes = 4 << 20

// Session is one user's authenticated view of a portal. All methods are
// safe for concurrent use; refreshes are serialised.
type Session struct {
	client *Client
	owner  string

	mu     sync.RWMutex
	domain string
	creds  Credentials
}

// Owner returns the owner the session was created with.
func (s *Session) Owner() string { return s.owner }

// Domain returns the current portal domain, which a refresh may change.
func (s *Session) Domain() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domain
}

// Credentials returns the pair currently in use.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Call invokes a REST method and returns its "result" member.
func (s *Session) Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	body, err := s.do(ctx, method, params)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(body, "result"), nil
}

// BatchResult splits a batch response by command key.
type BatchResult struct {
	Results map[string]gjson.Result
	Errors  map[string]*APIError

	// Totals holds the item count of list methods.
	Totals map[string]int64
}

// Batch runs several methods in one request. cmds maps a key to a method
// call such as "profile" or "user.get?ID=1". A failing command does not
// halt the others; its error lands in BatchResult.Errors.
func (s *Session) Batch(ctx context.Context, cmds map[string]string) (*BatchResult, error) {
	body, err := s.do(ctx, "batch", map[string]any{"halt": 0, "cmd": cmds})
	if err != nil {
		return nil, err
	}

	inner := gjson.GetBytes(body, "result")
	out := &BatchResult{
		Results: make(map[string]gjson.Result, len(cmds)),
		Errors:  make(map[string]*APIError),
		Totals:  make(map[string]int64),
	}

	inner.Get("result").ForEach(func(k, v gjson.Result) bool {
		out.Results[k.String()] = v
		return true
	})
	inner.Get("result_error").ForEach(func(k, v gjson.Result) bool {
		out.Errors[k.String()] = NewAPIError(http.StatusOK, v.Get("error").String(), v.Get("error_description").String())
		return true
	})
	inner.Get("result_total").ForEach(func(k, v gjson.Result) bool {
		out.Totals[k.String()] = v.Int()
		return true
	})

	return out, nil
}

// Refresh forces a token refresh regardless of expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	ev, err := s.refreshLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.client.publish(ctx, ev)
	return nil
}

func (s *Session) do(ctx context.Context, method string, params map[string]any) ([]byte, error) {
	token, domain, err := s.validToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := s.post(ctx, domain, method, token, params)

	// Our idea of the expiry can lag the platform's. Refresh once and
	// repeat the call.
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeExpiredToken {
		if token, domain, err = s.replaceToken(ctx, token); err != nil {
			return nil, err
		}
		body, err = s.post(ctx, domain, method, token, params)
	}

	return body, err
}

// validToken returns a usable access token, refreshing when it expires
// within the client's buffer.
func (s *Session) validToken(ctx context.Context) (string, string, error) {
	deadline := s.client.now().Add(s.client.refreshBuffer()).Unix()

	s.mu.RLock()
	if s.creds.AccessToken != "" && deadline < s.creds.Expires {
		token, domain := s.creds.AccessToken, s.domain
		s.mu.RUnlock()
		return token, domain, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if s.creds.AccessToken != "" && deadline < s.creds.Expires {
		token, domain := s.creds.AccessToken, s.domain
		s.mu.Unlock()
		return token, domain, nil
	}

	ev, err := s.refreshLocked(ctx)
	token, domain := s.creds.AccessToken, s.domain
	s.mu.Unlock()
	if err != nil {
		return "", "", err
	}

	s.client.publish(ctx, ev)
	return token, domain, nil
}

// replaceToken refreshes unless someone already replaced stale.
func (s *Session) replaceToken(ctx context.Context, stale string) (string, string, error) {
	s.mu.Lock()
	if s.creds.AccessToken != stale {
		token, domain := s.creds.AccessToken, s.domain
		s.mu.Unlock()
		return token, domain, nil
	}

	ev, err := s.refreshLocked(ctx)
	token, domain := s.creds.AccessToken, s.domain
	s.mu.Unlock()
	if err != nil {
		return "", "", err
	}

	s.client.publish(ctx, ev)
	return token, domain, nil
}

// refreshLocked trades the refresh token for a new pair. s.mu must be held
// for writing.
func (s *Session) refreshLocked(ctx context.Context) (RenewalEvent, error) {
	if s.creds.RefreshToken == "" {
		return RenewalEvent{}, NewAPIError(http.StatusUnauthorized, CodeInvalidGrant, "no refresh token available")
	}

	start := time.Now()
	octx := context.WithValue(ctx, oauth2.HTTPClient, s.client.httpClient())
	tok, err := s.client.oauthConfig().TokenSource(octx, &oauth2.Token{RefreshToken: s.creds.RefreshToken}).Token()
	if err != nil {
		err = classifyRefreshError(err)
	}
	s.client.observe("oauth.refresh", start, err)
	if err != nil {
		return RenewalEvent{}, err
	}

	now := s.client.now()
	expiresIn := extraInt(tok, "expires_in")
	if expiresIn == 0 {
		expiresIn = tok.ExpiresIn
	}
	expires := extraInt(tok, "expires")
	if expires == 0 {
		expires = now.Unix() + expiresIn
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = s.creds.RefreshToken
	}

	ev := RenewalEvent{
		Owner:  s.owner,
		Domain: s.domain,
		Credentials: Credentials{
			AccessToken:  tok.AccessToken,
			RefreshToken: refresh,
			Expires:      expires,
			ExpiresIn:    expiresIn,
		},
		RenewedAt: now,
	}

	if host := endpointHost(tok.Extra("client_endpoint")); host != "" && host != s.domain {
		ev.PreviousDomain = s.domain
		ev.Domain = host
		s.domain = host
	}
	s.creds = ev.Credentials

	return ev, nil
}

func (s *Session) post(ctx context.Context, domain, method, token string, params map[string]any) ([]byte, error) {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["auth"] = token

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("b24: encode %s params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.restURL(domain, method), bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("b24: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	body, err := s.send(req, method)
	s.client.observe(method, start, err)
	return body, err
}

func (s *Session) send(req *http.Request, method string) ([]byte, error) {
	resp, err := s.client.httpClient().Do(req)
	if err != nil {
		return nil, unavailable("call "+method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable("read "+method, err)
	}

	return decodeResponse(resp.StatusCode, raw)
}

// decodeResponse turns a platform reply into its body or a classified
// error.
func decodeResponse(status int, raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		if status >= http.StatusBadRequest {
			return nil, NewAPIError(status, "http_"+strconv.Itoa(status), http.StatusText(status))
		}
		return nil, unavailable("decode", fmt.Errorf("non-JSON response (http %d)", status))
	}

	if code := gjson.GetBytes(raw, "error").String(); code != "" {
		return nil, NewAPIError(status, code, gjson.GetBytes(raw, "error_description").String())
	}
	if status >= http.StatusBadRequest {
		return nil, NewAPIError(status, "http_"+strconv.Itoa(status), http.StatusText(status))
	}
	if !gjson.GetBytes(raw, "result").Exists() {
		return nil, unavailable("decode", errors.New("response has no result"))
	}

	return raw, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return unavailable("refresh", err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}

	code, desc := re.ErrorCode, re.ErrorDescription
	if code == "" && gjson.ValidBytes(re.Body) {
		code = gjson.GetBytes(re.Body, "error").String()
		desc = gjson.GetBytes(re.Body, "error_description").String()
	}
	if code == "" {
		code = "refresh_failed"
	}

	return NewAPIError(status, code, desc)
}

func extraInt(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func endpointHost(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return u.Host
}
