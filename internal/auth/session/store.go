// Package session persists refresh token metadata on a store.KV backend and
// decides, on every rotation, whether a presented token is fresh, spent or
// being replayed.
//
// Tokens are never stored verbatim. Every key is derived from the HMAC of the
// raw bearer string:
//
//	token:<id>          TokenRecord JSON, expires with the token
//	token:owner:<id>    owning user id, same expiry as the record
//	user:<uid>:tokens   set of <id> held by the user
//
// Consumption deletes only the record. The reverse mapping stays until its
// own expiry, so a mapping without a record proves the token was issued and
// already spent, which is the reuse signal. Revoke and RevokeAll delete both.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
	"github.com/aussiebroadwan/sessiond/internal/auth/store"
	"github.com/aussiebroadwan/sessiond/pkg/cryptox"
	"github.com/aussiebroadwan/sessiond/pkg/slogx"
)

// DefaultCommandTimeout bounds each Store call when CommandTimeout is unset.
const DefaultCommandTimeout = 2 * time.Second

var (
	ErrInvalidTTL       = errors.New("session: ttl must be positive")
	ErrStoreUnavailable = errors.New("session: store unavailable")
)

// Meta describes the refresh token being stored.
type Meta struct {
	DeviceID   string
	OriginIP   string
	TTLSeconds int64
}

// RevokeReasonReuse labels the revocation triggered by a replayed token.
const RevokeReasonReuse = "reuse"

// Recorder receives security events. *metrics.Metrics implements it.
type Recorder interface {
	ReuseDetected()
	Revoked(reason string)
}

type Store struct {
	KV             store.KV
	Secret         []byte           // HMAC key for token identifiers
	CommandTimeout time.Duration    // per call, DefaultCommandTimeout if zero
	Recorder       Recorder         // optional
	Now            func() time.Time // optional, time.Now
}

func recordKey(id string) string   { return "token:" + id }
func ownerKey(id string) string    { return "token:owner:" + id }
func userSetKey(uid string) string { return "user:" + uid + ":tokens" }

func (s *Store) identify(raw string) string {
	return cryptox.TokenIdentifier(s.Secret, raw)
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.CommandTimeout
	if d <= 0 {
		d = DefaultCommandTimeout
	}
	return context.WithTimeout(ctx, d)
}

// unavailable wraps a backend failure. ErrNotFound and friends never reach
// here, callers handle them first.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Store persists the record, the reverse mapping and the set membership for
// a freshly issued refresh token. The set expiry is only ever extended.
func (s *Store) Store(ctx context.Context, userID, rawRefresh string, meta Meta) error {
	if meta.TTLSeconds <= 0 {
		return ErrInvalidTTL
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := s.identify(rawRefresh)
	ttl := time.Duration(meta.TTLSeconds) * time.Second
	now := s.now().UTC()

	record, err := json.Marshal(domain.TokenRecord{
		UserID:     userID,
		DeviceID:   meta.DeviceID,
		OriginIP:   meta.OriginIP,
		Status:     domain.TokenActive,
		IssuedAt:   now,
		LastUsedAt: now,
	})
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}

	// 1. Work out the set expiry from what is already there
	setKey := userSetKey(userID)
	setTTL, extend, err := s.extendedSetTTL(ctx, setKey, ttl)
	if err != nil {
		return err
	}

	// 2. Write everything as one batch
	ops := []store.Op{
		store.SetEx(recordKey(id), record, ttl),
		store.SAdd(setKey, id),
	}
	if extend {
		ops = append(ops, store.Expire(setKey, setTTL))
	}
	ops = append(ops, store.SetEx(ownerKey(id), []byte(userID), ttl))

	if err := s.KV.Exec(ctx, ops...); err != nil {
		return unavailable("store", err)
	}
	return nil
}

// extendedSetTTL returns the expiry the user set should carry after adding a
// token that lives for ttl, and whether an Expire must be issued at all.
func (s *Store) extendedSetTTL(ctx context.Context, setKey string, ttl time.Duration) (time.Duration, bool, error) {
	current, err := s.KV.TTL(ctx, setKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ttl, true, nil
	case err != nil:
		return 0, false, unavailable("read set ttl", err)
	case current == store.NoExpiry:
		// Some member never expires, keep it that way
		return 0, false, nil
	}
	return max(current, ttl), true, nil
}

// ValidateAndConsume spends rawRefresh. It returns true exactly once for an
// active token. A replay of a spent token revokes every session of its owner.
// The reverse mapping survives consumption, it is what tells a replay apart
// from a token that never existed.
func (s *Store) ValidateAndConsume(ctx context.Context, rawRefresh string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	l := slogx.FromContext(ctx)
	id := s.identify(rawRefresh)

	value, deleted, err := s.KV.CompareAndDelete(ctx,
		recordKey(id), "status", string(domain.TokenActive))
	switch {
	case err == nil && deleted:
		var rec domain.TokenRecord
		if err := json.Unmarshal(value, &rec); err == nil && rec.UserID != "" {
			// The record is gone already, a stale member only costs a lookup
			if err := s.KV.Exec(ctx, store.SRem(userSetKey(rec.UserID), id)); err != nil {
				l.Warn("failed to prune consumed token from user set",
					slog.String("user_id", rec.UserID), slog.Any("error", err))
			}
		}
		return true, nil

	case err == nil:
		var rec domain.TokenRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			l.Debug("unreadable token record rejected", slog.Any("error", err))
		} else {
			l.Debug("inactive token record rejected",
				slog.String("user_id", rec.UserID), slog.String("status", string(rec.Status)))
		}
		return false, nil

	case !errors.Is(err, store.ErrNotFound):
		return false, unavailable("consume", err)
	}

	// Record absent. A live owner mapping means this token was already spent.
	owner, err := s.KV.Get(ctx, ownerKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("read owner", err)
	}

	userID := string(owner)
	l.Warn("refresh token reuse detected, revoking all sessions",
		slog.String("user_id", userID))
	if s.Recorder != nil {
		s.Recorder.ReuseDetected()
	}

	// The replayed mapping is left to expire, every further replay revokes again
	if err := s.revokeAll(ctx, userID); err != nil {
		return false, err
	}
	if s.Recorder != nil {
		s.Recorder.Revoked(RevokeReasonReuse)
	}
	return false, nil
}

// Revoke deletes the record and reverse mapping of rawRefresh and prunes it
// from its owner's set. Revoking an unknown token is not an error.
func (s *Store) Revoke(ctx context.Context, rawRefresh string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := s.identify(rawRefresh)

	userID, err := s.owner(ctx, id)
	if err != nil {
		return err
	}

	ops := []store.Op{store.Del(recordKey(id)), store.Del(ownerKey(id))}
	if userID != "" {
		ops = append(ops, store.SRem(userSetKey(userID), id))
	}
	if err := s.KV.Exec(ctx, ops...); err != nil {
		return unavailable("revoke", err)
	}
	return nil
}

// owner resolves the user of id from the record, falling back to the reverse
// mapping. Empty if neither exists.
func (s *Store) owner(ctx context.Context, id string) (string, error) {
	value, err := s.KV.Get(ctx, recordKey(id))
	switch {
	case err == nil:
		var rec domain.TokenRecord
		if json.Unmarshal(value, &rec) == nil && rec.UserID != "" {
			return rec.UserID, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return "", unavailable("read record", err)
	}

	owner, err := s.KV.Get(ctx, ownerKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("read owner", err)
	}
	return string(owner), nil
}

// RevokeAll deletes every session indexed for userID, then the index itself.
func (s *Store) RevokeAll(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.revokeAll(ctx, userID)
}

func (s *Store) revokeAll(ctx context.Context, userID string) error {
	setKey := userSetKey(userID)

	ids, err := s.KV.SMembers(ctx, setKey)
	if err != nil {
		return unavailable("read user set", err)
	}

	ops := make([]store.Op, 0, 2*len(ids)+1)
	for _, id := range ids {
		ops = append(ops, store.Del(recordKey(id)), store.Del(ownerKey(id)))
	}
	ops = append(ops, store.Del(setKey))

	if err := s.KV.Exec(ctx, ops...); err != nil {
		return unavailable("revoke all", err)
	}
	return nil
}
