package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/session"
	"github.com/aussiebroadwan/sessiond/pkg/httpx"
	"github.com/aussiebroadwan/sessiond/pkg/jwtx"
)

// Session backends selectable with SESSION_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// minSecretLen is the shortest accepted signing or HMAC secret.
const minSecretLen = 32

// ErrConfig wraps every configuration problem reported by Validate.
var ErrConfig = errors.New("invalid configuration")

type Config struct {
	AccessTokenSecret  string        // AUTH_ACCESS_TOKEN_SECRET: HS256 key for access tokens (required outside dev)
	AccessTokenTTL     time.Duration // AUTH_ACCESS_TOKEN_TTL (default: 15m)
	RefreshTokenSecret string        // AUTH_REFRESH_TOKEN_SECRET: HS256 key for refresh tokens (required outside dev)
	RefreshTokenTTL    time.Duration // AUTH_REFRESH_TOKEN_TTL (default: 7 days)
	TokenHMACSecret    string        // AUTH_TOKEN_HMAC_SECRET: keys the token identifiers in the KV (required outside dev)
	Issuer             string        // AUTH_ISSUER (default: sessiond)

	SessionBackend        string        // SESSION_BACKEND: memory, sqlite or redis (default: sqlite)
	RedisURL              string        // REDIS_URL: required for the redis backend
	SessionCommandTimeout time.Duration // SESSION_COMMAND_TIMEOUT: per KV call (default: 2s)

	DatabaseFile     string // AUTH_DATABASE_FILE: SQLite file for users, roles and the sqlite backend (default: ./sessiond.db)
	PepperFile       string // AUTH_PEPPER_FILE: pepper for password hashing (default: ./pepper)
	SeedUserEmail    string // AUTH_SEED_USER_EMAIL: created with the admin role when the directory is empty
	SeedUserPassword string // AUTH_SEED_USER_PASSWORD

	Env                  string        // ENV: dev, staging, prod (default: dev)
	LogLevel             string        // LOG_LEVEL: debug, info, warn, error (default: info)
	LogFormat            string        // LOG_FORMAT: json, text (default: json)
	Port                 int           // PORT (default: 8080)
	ShutdownGracePeriod  time.Duration // SHUTDOWN_GRACE_PERIOD (default: 10s)
	HousekeepingInterval time.Duration // HOUSEKEEPING_INTERVAL: expired KV sweep (default: 1h)

	RateLimits httpx.RateLimits // RATELIMIT_{STRICT,MODERATE,LENIENT}_{REQUESTS,WINDOW_SEC,BURST}
}

func LoadConfig() Config {
	defaults := httpx.DefaultRateLimits()

	return Config{
		AccessTokenSecret:  os.Getenv("AUTH_ACCESS_TOKEN_SECRET"),
		AccessTokenTTL:     getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTokenSecret: os.Getenv("AUTH_REFRESH_TOKEN_SECRET"),
		RefreshTokenTTL:    getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_TTL", jwtx.DefaultRefreshTokenTTL),
		TokenHMACSecret:    os.Getenv("AUTH_TOKEN_HMAC_SECRET"),
		Issuer:             getEnvOrDefault("AUTH_ISSUER", "sessiond"),

		SessionBackend:        getEnvOrDefault("SESSION_BACKEND", BackendSQLite),
		RedisURL:              os.Getenv("REDIS_URL"),
		SessionCommandTimeout: getEnvDurationOrDefault("SESSION_COMMAND_TIMEOUT", session.DefaultCommandTimeout),

		DatabaseFile:     getEnvOrDefault("AUTH_DATABASE_FILE", "sessiond.db"),
		PepperFile:       getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		SeedUserEmail:    os.Getenv("AUTH_SEED_USER_EMAIL"),
		SeedUserPassword: os.Getenv("AUTH_SEED_USER_PASSWORD"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		RateLimits: httpx.RateLimits{
			Strict:   getEnvRateLimitOrDefault("STRICT", defaults.Strict),
			Moderate: getEnvRateLimitOrDefault("MODERATE", defaults.Moderate),
			Lenient:  getEnvRateLimitOrDefault("LENIENT", defaults.Lenient),
		},
	}
}

// IsDev reports whether missing secrets may be generated at startup.
func (c Config) IsDev() bool {
	return c.Env == "dev"
}

// Validate reports every problem at once, each wrapped in ErrConfig.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...)))
	}

	secrets := []struct{ name, value string }{
		{"AUTH_ACCESS_TOKEN_SECRET", c.AccessTokenSecret},
		{"AUTH_REFRESH_TOKEN_SECRET", c.RefreshTokenSecret},
		{"AUTH_TOKEN_HMAC_SECRET", c.TokenHMACSecret},
	}
	for _, s := range secrets {
		switch {
		case s.value == "" && c.IsDev():
			// generated at startup
		case s.value == "":
			fail("%s is required when ENV=%s", s.name, c.Env)
		case len(s.value) < minSecretLen:
			fail("%s must be at least %d bytes", s.name, minSecretLen)
		}
	}
	if c.AccessTokenSecret != "" && c.AccessTokenSecret == c.RefreshTokenSecret {
		fail("AUTH_ACCESS_TOKEN_SECRET and AUTH_REFRESH_TOKEN_SECRET must differ")
	}

	if c.AccessTokenTTL <= 0 {
		fail("AUTH_ACCESS_TOKEN_TTL must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		fail("AUTH_REFRESH_TOKEN_TTL must be positive")
	}
	if c.AccessTokenTTL > 0 && c.RefreshTokenTTL > 0 && c.RefreshTokenTTL < c.AccessTokenTTL {
		fail("AUTH_REFRESH_TOKEN_TTL must not be shorter than AUTH_ACCESS_TOKEN_TTL")
	}
	if c.SessionCommandTimeout <= 0 {
		fail("SESSION_COMMAND_TIMEOUT must be positive")
	}

	switch c.SessionBackend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.RedisURL == "" {
			fail("REDIS_URL is required for SESSION_BACKEND=redis")
		}
	default:
		fail("unknown SESSION_BACKEND %q", c.SessionBackend)
	}

	if (c.SeedUserEmail == "") != (c.SeedUserPassword == "") {
		fail("AUTH_SEED_USER_EMAIL and AUTH_SEED_USER_PASSWORD must be set together")
	}
	if c.DatabaseFile == "" {
		fail("AUTH_DATABASE_FILE must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		fail("PORT %d out of range", c.Port)
	}

	limits := map[string]httpx.RateLimitConfig{
		"STRICT":   c.RateLimits.Strict,
		"MODERATE": c.RateLimits.Moderate,
		"LENIENT":  c.RateLimits.Lenient,
	}
	for name, l := range limits {
		if err := l.Validate(); err != nil {
			fail("RATELIMIT_%s: %v", name, err)
		}
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvRateLimitOrDefault reads RATELIMIT_{prefix}_REQUESTS, _WINDOW_SEC and
// _BURST. Unset or non-positive values keep the default.
func getEnvRateLimitOrDefault(prefix string, defaultValue httpx.RateLimitConfig) httpx.RateLimitConfig {
	cfg := defaultValue
	if v := getEnvIntOrDefault("RATELIMIT_"+prefix+"_REQUESTS", 0); v > 0 {
		cfg.RequestsPerWindow = v
	}
	if v := getEnvIntOrDefault("RATELIMIT_"+prefix+"_WINDOW_SEC", 0); v > 0 {
		cfg.Window = time.Duration(v) * time.Second
	}
	if v := getEnvIntOrDefault("RATELIMIT_"+prefix+"_BURST", 0); v > 0 {
		cfg.Burst = v
	}
	return cfg
}
