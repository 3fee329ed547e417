package jwtx

import "errors"

// Verifier validates an access token and gives you back the claims if it's
// legit. It is what the HTTP authn middleware depends on.
type Verifier interface {
	VerifyAccess(token string) (AccessClaims, error)
}

var (
	// ErrInvalidToken covers bad signatures, wrong algorithms, malformed
	// payloads and tokens presented with the wrong scope.
	ErrInvalidToken = errors.New("jwtx: invalid token")

	// ErrExpiredToken is returned when exp has passed.
	ErrExpiredToken = errors.New("jwtx: token expired")

	// ErrTokenIssuance is returned when a token cannot be minted or would be
	// persisted with a non-positive lifetime. Config or programming error.
	ErrTokenIssuance = errors.New("jwtx: token issuance failed")
)
