package authsdk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// expiryBuffer refreshes the access token slightly before it actually expires.
const expiryBuffer = 30 * time.Second

// Session represents a logged in user with automatic access token refresh.
// The refresh token itself stays in the client's cookie jar.
type Session struct {
	client *SDKClient
	user   UserInfo

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

func newSession(client *SDKClient, tokenResp *TokenResponse) *Session {
	s := &Session{client: client}
	if tokenResp.User != nil {
		s.user = *tokenResp.User
	}
	s.update(tokenResp)
	return s
}

func (s *Session) update(tokenResp *TokenResponse) {
	s.accessToken = tokenResp.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - expiryBuffer)
}

// User returns the user returned on login.
func (s *Session) User() UserInfo {
	return s.user
}

// AccessToken returns a valid access token, refreshing it first when it is
// about to expire.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// Refresh rotates the session now, regardless of expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	tokenResp, err := s.client.RefreshAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	s.update(tokenResp)
	return nil
}

// Logout ends this session only.
func (s *Session) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

// LogoutAll ends every session of this user, on every device.
func (s *Session) LogoutAll(ctx context.Context) error {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return err
	}
	return s.client.LogoutAll(ctx, token)
}
