package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
	"github.com/aussiebroadwan/sessiond/internal/auth/service"
	"github.com/aussiebroadwan/sessiond/pkg/authsdk"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
)

// RefreshHandler serves POST /v1/auth/refresh-token. Each refresh token is
// good for exactly one call. Presenting a spent one revokes every session of
// its owner.
type RefreshHandler struct {
	Sessions *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Rotate the refresh token
//	@Description	Spends the refresh_token cookie and returns a new access token. The cookie is replaced in the same response.
//	@Description	Every rejection (missing, expired, forged, already used, revoked) is reported as invalid_refresh_token.
//	@Tags			Session
//	@Produce		json
//	@Success		200				{object}	authsdk.TokenResponse	"new access token"
//	@Failure		401				{object}	authsdk.ErrorResponse	"invalid_refresh_token"
//	@Failure		429				{object}	authsdk.ErrorResponse	"rate_limit_exceeded"
//	@Failure		503				{object}	authsdk.ErrorResponse	"service_unavailable"
//	@Router			/v1/auth/refresh-token [post].
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := refreshCookie(r)
	if raw == "" {
		authsdk.ErrInvalidRefreshToken.WriteError(w)
		return
	}

	// Device and origin carry over from the spent token
	pair, err := h.Sessions.Refresh(r.Context(), raw, domain.Device{})
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			clearRefreshCookie(w)
		}
		writeServiceError(w, r, err)
		return
	}

	setRefreshCookie(w, pair.RefreshToken, h.Sessions.Codec.RefreshTTL())
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   pair.TokenType,
		ExpiresIn:   int64(pair.ExpiresIn.Seconds()),
	})
}
