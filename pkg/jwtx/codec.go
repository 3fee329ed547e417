package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CodecOptions configures a Codec. Access and refresh tokens are signed with
// independent secrets so a leaked access secret cannot mint refresh tokens.
type CodecOptions struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration // zero means DefaultAccessTokenTTL
	RefreshTTL    time.Duration // zero means DefaultRefreshTokenTTL
	Issuer        string        // optional, enforced on verify when set

	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Codec signs and verifies HS256 access and refresh tokens. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

var _ Verifier = (*Codec)(nil)

// NewCodec validates the options and returns a ready Codec.
func NewCodec(opts CodecOptions) (*Codec, error) {
	if len(opts.AccessSecret) == 0 || len(opts.RefreshSecret) == 0 {
		return nil, fmt.Errorf("%w: access and refresh secrets are required", ErrTokenIssuance)
	}
	if opts.AccessTTL < 0 || opts.RefreshTTL < 0 {
		return nil, fmt.Errorf("%w: token ttl must not be negative", ErrTokenIssuance)
	}

	c := &Codec{
		accessSecret:  opts.AccessSecret,
		refreshSecret: opts.RefreshSecret,
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		issuer:        opts.Issuer,
		now:           opts.Now,
	}
	if c.accessTTL == 0 {
		c.accessTTL = DefaultAccessTokenTTL
	}
	if c.refreshTTL == 0 {
		c.refreshTTL = DefaultRefreshTokenTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// AccessTTL reports the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs a new access token for the user.
func (c *Codec) IssueAccess(userID string, roleIDs []int) (string, error) {
	claims := NewAccessClaims(userID, roleIDs, c.accessTTL, c.issuer, c.now().UTC())
	return sign(claims, c.accessSecret)
}

// IssueRefresh signs a new refresh token for the user and device.
func (c *Codec) IssueRefresh(userID, deviceID, originIP string) (string, error) {
	claims := NewRefreshClaims(userID, deviceID, originIP, c.refreshTTL, c.issuer, c.now().UTC())
	return sign(claims, c.refreshSecret)
}

// VerifyAccess validates signature, expiry and scope of an access token.
func (c *Codec) VerifyAccess(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(token, &claims, c.accessSecret); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// VerifyRefresh validates signature, expiry and scope of a refresh token.
func (c *Codec) VerifyRefresh(token string) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(token, &claims, c.refreshSecret); err != nil {
		return RefreshClaims{}, err
	}
	return claims, nil
}

// RemainingTTL returns the whole seconds of validity left on a refresh
// token. Anything that is not strictly positive is an issuance error, a
// record must never be persisted with a zero or negative lifetime.
func (c *Codec) RemainingTTL(refreshToken string) (int64, error) {
	claims, err := c.VerifyRefresh(refreshToken)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTokenIssuance, err)
	}

	secs := RemainingSeconds(claims.RegisteredClaims, c.now())
	if secs <= 0 {
		return 0, fmt.Errorf("%w: non-positive remaining ttl %d", ErrTokenIssuance, secs)
	}
	return secs, nil
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenIssuance, err)
	}
	return s, nil
}

func (c *Codec) parse(token string, claims jwt.Claims, secret []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case err != nil:
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	case !parsed.Valid:
		return ErrInvalidToken
	}
	return nil
}

// Validate is called by the jwt parser after the registered claims checks.
func (c AccessClaims) Validate() error {
	if c.Scope != ScopeAccess {
		return errors.New("jwtx: not an access token")
	}
	if c.Subject == "" {
		return errors.New("jwtx: missing subject")
	}
	return nil
}

// Validate is called by the jwt parser after the registered claims checks.
func (c RefreshClaims) Validate() error {
	if c.Scope != ScopeRefresh {
		return errors.New("jwtx: not a refresh token")
	}
	if c.Subject == "" {
		return errors.New("jwtx: missing subject")
	}
	return nil
}
