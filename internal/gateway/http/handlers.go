package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/service"
	"github.com/aussiebroadwan/b24gate/pkg/httpx"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
)

// TokenHandler issues session tokens.
type TokenHandler struct {
	Issuer *service.SessionIssuer
}

// ServeHTTP issues a session token for the resolved account.
//
//	@Summary		Issue a session token
//	@Description	Authenticates with a placement payload or an existing session token and returns a new session token.
//	@Description	Without an Authorization header the body (JSON, form or query) must carry a placement payload.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			json
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Success		200	{object}	TokenResponse		"Session token"
//	@Failure		400	{object}	httpx.ErrorResponse	"Invalid payload or rejected by the platform"
//	@Failure		401	{object}	httpx.ErrorResponse	"Invalid or expired session token"
//	@Failure		500	{object}	httpx.ErrorResponse	"Internal error"
//	@Router			/api/getToken [post].
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteBearerError(w, service.MsgInvalidToken)
		return
	}

	token, err := h.Issuer.IssueFor(p.Account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// InstallHandler records the installation of the app for an account.
type InstallHandler struct {
	InstallService *service.InstallService
}

// ServeHTTP handles the app installation callback.
//
//	@Summary		Record an installation
//	@Description	Resolves the caller, then creates or updates the installation record of its account.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			json
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Success		200	{object}	MessageResponse		"Installation successful"
//	@Failure		400	{object}	httpx.ErrorResponse	"Invalid payload or rejected by the platform"
//	@Failure		401	{object}	httpx.ErrorResponse	"Invalid or expired session token"
//	@Failure		500	{object}	httpx.ErrorResponse	"Internal error"
//	@Router			/api/install [post].
func (h *InstallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteBearerError(w, service.MsgInvalidToken)
		return
	}

	if _, err := h.InstallService.Install(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Installation successful"})
}

// ProfileHandler proxies the platform profile of the caller.
type ProfileHandler struct {
	ProfileService *service.ProfileService
}

// ServeHTTP returns the caller's platform profile.
//
//	@Summary		Platform profile
//	@Description	Calls the platform's profile method with the account's stored credentials, refreshing them when needed.
//	@Tags			App
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	map[string]any		"Profile as returned by the platform"
//	@Failure		400	{object}	httpx.ErrorResponse	"Rejected by the platform"
//	@Failure		401	{object}	httpx.ErrorResponse	"Invalid or expired session token"
//	@Failure		500	{object}	httpx.ErrorResponse	"Platform unavailable"
//	@Router			/api/profile [get].
func (h *ProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteBearerError(w, service.MsgInvalidToken)
		return
	}

	profile, err := h.ProfileService.Profile(r.Context(), p.Account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, profile)
}

// RootHandler godoc
//
//	@Summary	Service banner
//	@Tags		App
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	MessageResponse
//	@Failure	401	{object}	httpx.ErrorResponse
//	@Router		/api [get]
//	@Router		/api/ [get].
func RootHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Go Backend is running"})
}

// StatusHandler godoc
//
//	@Summary	Authenticated health check
//	@Tags		App
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Failure	401	{object}	httpx.ErrorResponse
//	@Router		/api/health [get].
func StatusHandler(now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, StatusResponse{
			Status:    "healthy",
			Backend:   "go",
			Timestamp: float64(now().UnixMilli()) / 1000,
		})
	}
}

// StaticListHandler returns items as a JSON array.
//
//	@Summary	Demo lists
//	@Tags		App
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{array}		string
//	@Failure	401	{object}	httpx.ErrorResponse
//	@Router		/api/enum [get]
//	@Router		/api/list [get].
func StaticListHandler(items ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slogx.FromContext(r.Context()).Debug("serving static list", "items", len(items))
		httpx.WriteJSON(w, http.StatusOK, items)
	}
}
