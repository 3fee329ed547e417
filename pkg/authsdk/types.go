package authsdk

// ============================================================================
// Internal Response Types (used for JSON unmarshaling)
// ============================================================================

// ErrorResponse is the body of every non-2xx response.
// Client code should use the APIError type from errors.go instead.
type ErrorResponse struct {
	// Error is the machine readable code (e.g., "invalid_credentials")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// ============================================================================
// Session Types
// ============================================================================

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	// DeviceID is an optional client chosen label kept on the session
	DeviceID string `json:"device_id,omitempty"`
}

// UserInfo is the public projection of a user returned on login.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// TokenResponse is returned from login and refresh. The refresh token never
// appears in the body, it travels in the refresh_token cookie.
type TokenResponse struct {
	// AccessToken is the JWT used as a bearer credential
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in"`

	// User is only set on login
	User *UserInfo `json:"user,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	// SessionStore is the KV backend holding refresh token records
	SessionStore string `json:"session_store"`

	// Directory is the database holding users and roles
	Directory string `json:"directory"`
}
