package http

import (
	"net/http"

	"github.com/aussiebroadwan/b24gate/internal/gateway/service"
	"github.com/aussiebroadwan/b24gate/pkg/httpx"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
)

// writeError maps a service error onto the response. Authentication
// failures get 401 with a WWW-Authenticate challenge, validation failures
// 400 and everything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())
	msg := service.Message(err)

	switch {
	case service.IsAuthentication(err):
		log.Info("authentication failed", "error", err)
		httpx.WriteBearerError(w, msg)
	case service.IsValidation(err):
		log.Info("request rejected", "error", err)
		httpx.WriteError(w, http.StatusBadRequest, msg)
	default:
		log.Error("request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, msg)
	}
}
