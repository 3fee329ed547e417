package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

// Login authenticates with email and password. On success the jar holds the
// refresh cookie and the returned Session holds the access token.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	tokenResp, err := c.PasswordLogin(ctx, req)
	if err != nil {
		return nil, err
	}
	return newSession(c, tokenResp), nil
}

// PasswordLogin is the raw POST /v1/auth/login call.
func (c *SDKClient) PasswordLogin(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/login", bytes.NewReader(body), jsonHeaders)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// RefreshAccessToken spends the refresh cookie for a new access token. The
// server rotates the cookie in the same response.
func (c *SDKClient) RefreshAccessToken(ctx context.Context) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/refresh-token", nil, nil)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Logout revokes the refresh cookie held in the jar and clears it.
func (c *SDKClient) Logout(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/logout", nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusOK)
}

// LogoutAll revokes every session of the user owning accessToken.
func (c *SDKClient) LogoutAll(ctx context.Context, accessToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/logout-all", nil, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusOK)
}
