package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessiond/pkg/authsdk"
)

// The refresh token only ever travels to the auth routes.
const refreshCookiePath = "/v1/auth"

func setRefreshCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     authsdk.RefreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authsdk.RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshCookie returns the refresh token sent by the client, empty if none.
func refreshCookie(r *http.Request) string {
	c, err := r.Cookie(authsdk.RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
