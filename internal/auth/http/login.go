package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
	"github.com/aussiebroadwan/sessiond/internal/auth/service"
	"github.com/aussiebroadwan/sessiond/pkg/authsdk"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
)

// LoginHandler serves POST /v1/auth/login.
type LoginHandler struct {
	Sessions *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		Password login
//	@Description	Authenticates with email and password and opens a session on the calling device.
//	@Description	The access token is returned in the body, the refresh token is set as an HttpOnly cookie scoped to /v1/auth.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse	"access token and user"
//	@Header			200		{string}	Set-Cookie				"refresh_token=...; Path=/v1/auth; HttpOnly; Secure; SameSite=Strict"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limit_exceeded"
//	@Failure		503		{object}	authsdk.ErrorResponse	"service_unavailable"
//	@Router			/v1/auth/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. Parse the body
	var req authsdk.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	// 2. Authenticate and open the session
	device := domain.Device{
		ID:       strings.TrimSpace(req.DeviceID),
		OriginIP: httpx.IPKeyExtractor(r),
	}
	pair, user, err := h.Sessions.Login(ctx, req.Email, req.Password, device)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// 3. Refresh token in the cookie, access token in the body
	setRefreshCookie(w, pair.RefreshToken, h.Sessions.Codec.RefreshTTL())
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   pair.TokenType,
		ExpiresIn:   int64(pair.ExpiresIn.Seconds()),
		User: &authsdk.UserInfo{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
		},
	})
}
