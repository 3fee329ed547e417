package sessiond_test

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/app"
	"github.com/aussiebroadwan/sessiond/pkg/authsdk"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
	"github.com/stretchr/testify/require"
)

/*
 * Common constants and helper functions for session service end-to-end tests.
 * Each test runs the fully wired service behind a TLS test server, since the
 * refresh cookie is Secure and the SDK's cookie jar only returns it over TLS.
 */

const (
	adminEmail    = "admin@example.com"
	adminPassword = "bootstrap-password"
)

var generousLimit = httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}

type serviceOption func(*app.Config)

func withBackend(backend, redisURL string) serviceOption {
	return func(c *app.Config) {
		c.SessionBackend = backend
		c.RedisURL = redisURL
	}
}

func withDefaultLimits() serviceOption {
	return func(c *app.Config) { c.RateLimits = httpx.DefaultRateLimits() }
}

// startService boots the application and returns the TLS server fronting it.
func startService(t *testing.T, opts ...serviceOption) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	cfg := app.LoadConfig()
	cfg.Env = "test"
	cfg.LogLevel = "error"
	cfg.AccessTokenSecret = "e2e-access-secret-0123456789abcdef01234"
	cfg.RefreshTokenSecret = "e2e-refresh-secret-0123456789abcdef0123"
	cfg.TokenHMACSecret = "e2e-hmac-secret-0123456789abcdef012345678"
	cfg.DatabaseFile = filepath.Join(dir, "sessiond.db")
	cfg.PepperFile = filepath.Join(dir, "pepper")
	cfg.SeedUserEmail = adminEmail
	cfg.SeedUserPassword = adminPassword
	// Tests make many rapid requests from one address
	cfg.RateLimits = httpx.RateLimits{Strict: generousLimit, Moderate: generousLimit, Lenient: generousLimit}

	for _, opt := range opts {
		opt(&cfg)
	}

	application, err := app.New(cfg)
	require.NoError(t, err)

	srv := httptest.NewTLSServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		if err := application.Shutdown(); err != nil {
			t.Logf("shutdown: %v", err)
		}
	})
	return srv
}

// newClient returns an SDK client with its own cookie jar, one per device.
func newClient(srv *httptest.Server) *authsdk.SDKClient {
	return authsdk.NewSDKClientWithHTTPClient(srv.URL, srv.Client())
}

// performLogin logs the admin in from the named device.
func performLogin(t *testing.T, client *authsdk.SDKClient, device string) *authsdk.Session {
	t.Helper()

	session, err := client.Login(t.Context(), authsdk.LoginRequest{
		Email:    adminEmail,
		Password: adminPassword,
		DeviceID: device,
	})
	require.NoError(t, err)
	require.Equal(t, adminEmail, session.User().Email)
	require.NotEmpty(t, client.RefreshToken(), "login should set the refresh cookie")
	return session
}

func assertTokenResponse(t *testing.T, resp *authsdk.TokenResponse) {
	t.Helper()
	require.NotEmpty(t, resp.AccessToken, "Access token should not be empty")
	require.Equal(t, "Bearer", resp.TokenType)
	require.Positive(t, resp.ExpiresIn)
}
