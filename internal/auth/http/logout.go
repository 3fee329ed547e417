package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessiond/internal/auth/service"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
)

// LogoutHandler serves POST /v1/auth/logout. It is idempotent: a missing,
// unknown or already revoked cookie still gets 200 so the endpoint cannot be
// used to test whether a token is valid.
type LogoutHandler struct {
	Sessions *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Log out this device
//	@Description	Revokes the refresh_token cookie and clears it. Always 200 unless the session store is unreachable.
//	@Tags			Session
//	@Produce		json
//	@Success		200	"Session ended (or was already gone)"
//	@Failure		503	{object}	authsdk.ErrorResponse	"service_unavailable"
//	@Header			200	{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/logout [post].
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Logout(r.Context(), refreshCookie(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	clearRefreshCookie(w)
	writeEmpty(w)
}

// LogoutAllHandler serves POST /v1/auth/logout-all behind AuthnMiddleware.
type LogoutAllHandler struct {
	Sessions *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Log out every device
//	@Description	Revokes every refresh token held by the caller and clears the cookie on this device.
//	@Description	Access tokens already issued stay valid until they expire.
//	@Tags			Session
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	"All sessions ended"
//	@Failure		401	{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		503	{object}	authsdk.ErrorResponse	"service_unavailable"
//	@Router			/v1/auth/logout-all [post].
func (h *LogoutAllHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Sessions.LogoutAll(ctx, httpx.UserIDFromContext(ctx)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	clearRefreshCookie(w)
	writeEmpty(w)
}
