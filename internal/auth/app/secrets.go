package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/sessiond/pkg/cryptox"
)

// Secrets holds the key material resolved at startup.
type Secrets struct {
	Access    []byte
	Refresh   []byte
	TokenHMAC []byte
}

// InitSecrets returns the configured secrets. In dev any missing secret is
// replaced by a random one, which means sessions and access tokens do not
// survive a restart. Outside dev Validate has already rejected missing ones.
func InitSecrets(cfg Config, logger *slog.Logger) (Secrets, error) {
	resolve := func(name, value string) ([]byte, error) {
		if value != "" {
			return []byte(value), nil
		}
		if !cfg.IsDev() {
			return nil, fmt.Errorf("%w: %s is required", ErrConfig, name)
		}

		generated, err := cryptox.GenerateSecret(cryptox.SecretSize256)
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", name, err)
		}
		logger.Warn("generated ephemeral secret, sessions will not survive a restart",
			slog.String("name", name))
		return []byte(generated), nil
	}

	var (
		s   Secrets
		err error
	)
	if s.Access, err = resolve("AUTH_ACCESS_TOKEN_SECRET", cfg.AccessTokenSecret); err != nil {
		return Secrets{}, err
	}
	if s.Refresh, err = resolve("AUTH_REFRESH_TOKEN_SECRET", cfg.RefreshTokenSecret); err != nil {
		return Secrets{}, err
	}
	if s.TokenHMAC, err = resolve("AUTH_TOKEN_HMAC_SECRET", cfg.TokenHMACSecret); err != nil {
		return Secrets{}, err
	}
	return s, nil
}
