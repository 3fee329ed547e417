package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants for the session flows.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Short-lived, typical range is 15m to 1h.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	// Longer-lived for user convenience, typical range is 7d to 30d.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token scopes. A refresh token must never be accepted where an access token
// is expected and the other way around, the scope claim is what tells them
// apart since both are HS256.
const (
	ScopeAccess  = "access"
	ScopeRefresh = "refresh"
)

// AccessClaims are the claims embedded in a short-lived access token. They
// are never persisted server side.
type AccessClaims struct {
	jwt.RegisteredClaims

	// Role identifiers the user held at issue time
	RoleIDs []int `json:"role_ids"`

	// Always ScopeAccess
	Scope string `json:"scope"`
}

// UserID returns the subject of the token.
func (c AccessClaims) UserID() string { return c.Subject }

// RefreshClaims are the claims embedded in a long-lived refresh token. The
// signed string is the credential, so only its HMAC identifier is stored.
type RefreshClaims struct {
	jwt.RegisteredClaims

	// Always ScopeRefresh
	Scope string `json:"scope"`

	// Device the session was established from, opaque to the server
	DeviceID string `json:"device_id,omitempty"`

	// Remote address the session was established from
	OriginIP string `json:"origin_ip,omitempty"`
}

// UserID returns the subject of the token.
func (c RefreshClaims) UserID() string { return c.Subject }

// NewAccessClaims builds minimally-correct access claims.
func NewAccessClaims(userID string, roleIDs []int, ttl time.Duration, issuer string, now time.Time) AccessClaims {
	if roleIDs == nil {
		roleIDs = []int{}
	}
	return AccessClaims{
		RegisteredClaims: registered(userID, ttl, issuer, now),
		RoleIDs:          roleIDs,
		Scope:            ScopeAccess,
	}
}

// NewRefreshClaims builds minimally-correct refresh claims.
func NewRefreshClaims(
	userID, deviceID, originIP string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) RefreshClaims {
	return RefreshClaims{
		RegisteredClaims: registered(userID, ttl, issuer, now),
		Scope:            ScopeRefresh,
		DeviceID:         deviceID,
		OriginIP:         originIP,
	}
}

func registered(subject string, ttl time.Duration, issuer string, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        NewJTI(),
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. Two tokens
// minted in the same second for the same subject still differ because of it.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// RemainingSeconds returns the whole seconds left before exp, relative to
// now. A missing exp yields zero.
func RemainingSeconds(rc jwt.RegisteredClaims, now time.Time) int64 {
	if rc.ExpiresAt == nil {
		return 0
	}
	return int64(rc.ExpiresAt.Sub(now) / time.Second)
}
