package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
	"github.com/aussiebroadwan/sessiond/internal/auth/metrics"
	"github.com/aussiebroadwan/sessiond/internal/auth/session"
	"github.com/aussiebroadwan/sessiond/pkg/jwtx"
	"github.com/aussiebroadwan/sessiond/pkg/slogx"
)

var (
	ErrInvalidCredentials  = errors.New("invalid_credentials")
	ErrInvalidRefreshToken = errors.New("invalid_refresh_token")
)

// Authenticator checks a password login. It returns ErrInvalidCredentials
// for an unknown user and for a wrong password alike.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (domain.User, error)
}

// RoleLookup resolves the role ids embedded in access tokens.
type RoleLookup interface {
	RoleIDs(ctx context.Context, userID string) ([]int, error)
}

// SessionStore is the persistence behind refresh rotation. *session.Store
// implements it.
type SessionStore interface {
	Store(ctx context.Context, userID, rawRefresh string, meta session.Meta) error
	ValidateAndConsume(ctx context.Context, rawRefresh string) (bool, error)
	Revoke(ctx context.Context, rawRefresh string) error
	RevokeAll(ctx context.Context, userID string) error
}

var _ SessionStore = (*session.Store)(nil)

type SessionService struct {
	Codec    *jwtx.Codec
	Sessions SessionStore
	Users    Authenticator
	Roles    RoleLookup
	Metrics  *metrics.Metrics // optional
}

// Login authenticates the user and opens a new session on the device.
func (s *SessionService) Login(
	ctx context.Context,
	email, password string,
	device domain.Device,
) (domain.TokenPair, domain.User, error) {
	l := slogx.FromContext(ctx)

	// 1. Check credentials
	user, err := s.Users.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			l.Info("login rejected")
			s.Metrics.Login(metrics.ResultRejected)
			return domain.TokenPair{}, domain.User{}, ErrInvalidCredentials
		}
		s.Metrics.Login(metrics.ResultError)
		return domain.TokenPair{}, domain.User{}, fmt.Errorf("authenticate: %w", err)
	}

	// 2. Issue and persist
	pair, err := s.openSession(ctx, user.ID, device)
	if err != nil {
		s.Metrics.Login(outcome(err))
		return domain.TokenPair{}, domain.User{}, err
	}

	l.Info("login succeeded", slog.String("user_id", user.ID), slog.String("device_id", device.ID))
	s.Metrics.Login(metrics.ResultSuccess)
	return pair, user, nil
}

// Refresh rotates oldRefresh into a brand new pair. Every rejection reason is
// reported as ErrInvalidRefreshToken.
func (s *SessionService) Refresh(
	ctx context.Context,
	oldRefresh string,
	device domain.Device,
) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	// 1. Signature, expiry and scope
	claims, err := s.Codec.VerifyRefresh(oldRefresh)
	if err != nil {
		l.Debug("refresh token failed verification", slog.Any("error", err))
		s.Metrics.Refresh(metrics.ResultRejected)
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	// 2. Spend it, the store handles replays
	ok, err := s.Sessions.ValidateAndConsume(ctx, oldRefresh)
	if err != nil {
		s.Metrics.Refresh(outcome(err))
		return domain.TokenPair{}, err
	}
	if !ok {
		s.Metrics.Refresh(metrics.ResultRejected)
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	// 3. Keep the device identity across rotations
	if device.ID == "" {
		device.ID = claims.DeviceID
	}
	if device.OriginIP == "" {
		device.OriginIP = claims.OriginIP
	}

	pair, err := s.openSession(ctx, claims.UserID(), device)
	if err != nil {
		s.Metrics.Refresh(outcome(err))
		return domain.TokenPair{}, err
	}

	s.Metrics.Refresh(metrics.ResultSuccess)
	return pair, nil
}

// Logout revokes a single refresh token. An empty or unknown token is a
// no-op.
func (s *SessionService) Logout(ctx context.Context, refresh string) error {
	if strings.TrimSpace(refresh) == "" {
		return nil
	}
	if err := s.Sessions.Revoke(ctx, refresh); err != nil {
		return err
	}
	s.Metrics.Revoked("logout")
	return nil
}

// LogoutAll revokes every session the user holds.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.Sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("all sessions revoked", slog.String("user_id", userID))
	s.Metrics.Revoked("logout_all")
	return nil
}

func (s *SessionService) openSession(ctx context.Context, userID string, device domain.Device) (domain.TokenPair, error) {
	roleIDs, err := s.Roles.RoleIDs(ctx, userID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("lookup roles: %w", err)
	}

	access, err := s.Codec.IssueAccess(userID, roleIDs)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := s.Codec.IssueRefresh(userID, device.ID, device.OriginIP)
	if err != nil {
		return domain.TokenPair{}, err
	}

	ttl, err := s.Codec.RemainingTTL(refresh)
	if err != nil {
		return domain.TokenPair{}, err
	}

	err = s.Sessions.Store(ctx, userID, refresh, session.Meta{
		DeviceID:   device.ID,
		OriginIP:   device.OriginIP,
		TTLSeconds: ttl,
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.Codec.AccessTTL(),
	}, nil
}

func outcome(err error) string {
	if errors.Is(err, session.ErrStoreUnavailable) {
		return metrics.ResultUnavailable
	}
	return metrics.ResultError
}
