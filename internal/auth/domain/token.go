package domain

import "time"

// TokenPair is what login and refresh hand back. The refresh token only ever
// leaves the service inside an HttpOnly cookie.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"-"`
	TokenType    string        `json:"token_type,omitempty"` // always "Bearer"
	ExpiresIn    time.Duration `json:"-"`
}

// Device describes where a session was established from.
type Device struct {
	ID       string // client supplied, opaque
	OriginIP string
}

// TokenStatus is the state of a persisted refresh token record.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenRevoked TokenStatus = "revoked"
)

// TokenRecord is the metadata stored for one refresh token under its HMAC
// identifier. The raw token is never part of it.
type TokenRecord struct {
	UserID     string      `json:"userId"`
	DeviceID   string      `json:"deviceId"`
	OriginIP   string      `json:"originIp"`
	Status     TokenStatus `json:"status"`
	IssuedAt   time.Time   `json:"issuedAt"`
	LastUsedAt time.Time   `json:"lastUsedAt"`
}
