package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Secret size constants (in bytes before encoding).
const (
	// SecretSize256 provides 256 bits of entropy (43 chars base64url).
	SecretSize256 = 32
	// SecretSize512 provides 512 bits of entropy (86 chars base64url).
	SecretSize512 = 64
)

// GenerateSecret creates a cryptographically secure random secret of the
// specified byte length, base64url-encoded without padding. Used to mint
// throwaway signing secrets in dev when none are configured.
func GenerateSecret(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("secret size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenIdentifier returns the hex-encoded HMAC-SHA256 of a raw bearer token
// under key. This is the only form in which refresh tokens are stored, so a
// dump of the backing store does not yield usable credentials.
//
// The output is 64 lowercase hex characters and is deterministic for a
// given key. Rotating key orphans every identifier computed with the old one.
func TokenIdentifier(key []byte, token string) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(token))
	return hex.EncodeToString(m.Sum(nil))
}
