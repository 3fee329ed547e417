package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
	"github.com/aussiebroadwan/sessiond/internal/auth/session"
	"github.com/aussiebroadwan/sessiond/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/sessiond/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	users   map[string]domain.User // by email
	pass    map[string]string      // email -> password
	roles   map[string][]int
	roleErr error
}

func (f *fakeDirectory) Authenticate(_ context.Context, email, password string) (domain.User, error) {
	u, ok := f.users[email]
	if !ok || f.pass[email] != password {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (f *fakeDirectory) RoleIDs(_ context.Context, userID string) ([]int, error) {
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	return f.roles[userID], nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: map[string]domain.User{
			"alice@example.com": {ID: "user-alice", Email: "alice@example.com", DisplayName: "Alice"},
		},
		pass:  map[string]string{"alice@example.com": "correct horse"},
		roles: map[string][]int{"user-alice": {1, 3}},
	}
}

func newSessionService(t *testing.T) (*SessionService, *fakeDirectory) {
	t.Helper()

	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		AccessSecret:  []byte("access-secret-for-tests-0123456789"),
		RefreshSecret: []byte("refresh-secret-for-tests-012345678"),
		Issuer:        "sessiond-test",
	})
	require.NoError(t, err)

	dir := newDirectory()
	return &SessionService{
		Codec:    codec,
		Sessions: &session.Store{KV: memory.NewStore(), Secret: []byte("hmac-secret-for-tests")},
		Users:    dir,
		Roles:    dir,
	}, dir
}

var laptop = domain.Device{ID: "laptop", OriginIP: "198.51.100.4"}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a pair with roles", func(t *testing.T) {
		svc, _ := newSessionService(t)

		pair, user, err := svc.Login(ctx, "alice@example.com", "correct horse", laptop)
		require.NoError(t, err)
		require.Equal(t, "user-alice", user.ID)
		require.Equal(t, "Bearer", pair.TokenType)
		require.Equal(t, jwtx.DefaultAccessTokenTTL, pair.ExpiresIn)

		access, err := svc.Codec.VerifyAccess(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "user-alice", access.UserID())
		require.Equal(t, []int{1, 3}, access.RoleIDs)

		refresh, err := svc.Codec.VerifyRefresh(pair.RefreshToken)
		require.NoError(t, err)
		require.Equal(t, "laptop", refresh.DeviceID)
		require.Equal(t, "198.51.100.4", refresh.OriginIP)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, _ := newSessionService(t)
		_, _, err := svc.Login(ctx, "alice@example.com", "wrong", laptop)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _ := newSessionService(t)
		_, _, err := svc.Login(ctx, "mallory@example.com", "correct horse", laptop)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("role lookup failure is not a credential error", func(t *testing.T) {
		svc, dir := newSessionService(t)
		dir.roleErr = errors.New("directory down")

		_, _, err := svc.Login(ctx, "alice@example.com", "correct horse", laptop)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionService(t)

	pair, _, err := svc.Login(ctx, "alice@example.com", "correct horse", laptop)
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken, domain.Device{})
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	require.NotEmpty(t, next.AccessToken)

	// Device identity carries over when the caller does not send one
	claims, err := svc.Codec.VerifyRefresh(next.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "laptop", claims.DeviceID)
	require.Equal(t, "198.51.100.4", claims.OriginIP)

	// The spent token is rejected
	_, err = svc.Refresh(ctx, pair.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	// and the replay took the rotated one down with it
	_, err = svc.Refresh(ctx, next.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshRejects(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionService(t)

	pair, _, err := svc.Login(ctx, "alice@example.com", "correct horse", laptop)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"access token", pair.AccessToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Refresh(ctx, tt.token, laptop)
			require.ErrorIs(t, err, ErrInvalidRefreshToken)
		})
	}

	t.Run("signed but never stored", func(t *testing.T) {
		orphan, err := svc.Codec.IssueRefresh("user-alice", "laptop", "")
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, orphan, laptop)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("expired", func(t *testing.T) {
		now := time.Now()
		past, err := jwtx.NewCodec(jwtx.CodecOptions{
			AccessSecret:  []byte("access-secret-for-tests-0123456789"),
			RefreshSecret: []byte("refresh-secret-for-tests-012345678"),
			Issuer:        "sessiond-test",
			RefreshTTL:    time.Minute,
			Now:           func() time.Time { return now.Add(-time.Hour) },
		})
		require.NoError(t, err)
		stale, err := past.IssueRefresh("user-alice", "laptop", "")
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, stale, laptop)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionService(t)

	pair, _, err := svc.Login(ctx, "alice@example.com", "correct horse", laptop)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, svc.Logout(ctx, ""))
	require.NoError(t, svc.Logout(ctx, "   "))

	_, err = svc.Refresh(ctx, pair.RefreshToken, laptop)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogoutAllAcrossDevices(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionService(t)

	first, _, err := svc.Login(ctx, "alice@example.com", "correct horse", laptop)
	require.NoError(t, err)
	second, _, err := svc.Login(ctx, "alice@example.com", "correct horse", domain.Device{ID: "phone"})
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(ctx, "user-alice"))
	require.NoError(t, svc.LogoutAll(ctx, "user-alice"))

	for _, raw := range []string{first.RefreshToken, second.RefreshToken} {
		_, err := svc.Refresh(ctx, raw, laptop)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	}
}

// unavailableSessions fails every call like an unreachable backend.
type unavailableSessions struct{}

func (unavailableSessions) Store(context.Context, string, string, session.Meta) error {
	return session.ErrStoreUnavailable
}

func (unavailableSessions) ValidateAndConsume(context.Context, string) (bool, error) {
	return false, session.ErrStoreUnavailable
}
func (unavailableSessions) Revoke(context.Context, string) error    { return session.ErrStoreUnavailable }
func (unavailableSessions) RevokeAll(context.Context, string) error { return session.ErrStoreUnavailable }

func TestStoreUnavailableIsNotInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionService(t)

	refresh, err := svc.Codec.IssueRefresh("user-alice", "laptop", "")
	require.NoError(t, err)

	svc.Sessions = unavailableSessions{}

	_, _, err = svc.Login(ctx, "alice@example.com", "correct horse", laptop)
	require.ErrorIs(t, err, session.ErrStoreUnavailable)

	_, err = svc.Refresh(ctx, refresh, laptop)
	require.ErrorIs(t, err, session.ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrInvalidRefreshToken)

	require.ErrorIs(t, svc.Logout(ctx, refresh), session.ErrStoreUnavailable)
	require.ErrorIs(t, svc.LogoutAll(ctx, "user-alice"), session.ErrStoreUnavailable)
}
