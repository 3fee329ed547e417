package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/sessiond/internal/auth/service"
	"github.com/aussiebroadwan/sessiond/internal/auth/session"
	"github.com/aussiebroadwan/sessiond/pkg/authsdk"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
	"github.com/aussiebroadwan/sessiond/pkg/slogx"
)

// writeServiceError maps service errors onto the wire. Rejection causes stay
// in the logs.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, service.ErrInvalidRefreshToken):
		authsdk.ErrInvalidRefreshToken.WriteError(w)
	case errors.Is(err, session.ErrStoreUnavailable):
		log.Warn("session store unavailable", slog.Any("error", err))
		w.Header().Set("Retry-After", "1")
		authsdk.ErrServiceUnavailable.WriteError(w)
	default:
		log.Error("request failed", slog.Any("error", err))
		authsdk.ErrServerError.WriteError(w)
	}
}

// decodeBody reads a JSON body and answers 400/415 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := httpx.DecodeJSON(w, r, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httpx.ErrUnsupportedMediaType):
		authsdk.ErrUnsupportedMediaType.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Debug("bad request body", slog.Any("error", err))
		authsdk.ErrInvalidRequest.WriteError(w)
	}
	return false
}

// writeEmpty answers 200 with an empty JSON object.
func writeEmpty(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}
