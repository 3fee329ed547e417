package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/store"
)

const (
	kindString = "string"
	kindSet    = "set"
)

var errWrongType = errors.New("sqlite: operation against a key holding the wrong kind of value")

// liveFilter matches rows that have not expired at the bound time.
const liveFilter = `(expires_at IS NULL OR expires_at > ?)`

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		kind  string
		value []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, value FROM kv_entries WHERE key = ? AND `+liveFilter,
		key, toMillis(s.now()),
	).Scan(&kind, &value)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if kind != kindString {
		return nil, errWrongType
	}
	return value, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	now := s.now()

	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM kv_entries WHERE key = ? AND `+liveFilter,
		key, toMillis(now),
	).Scan(&expiresAt)
	if err != nil {
		return 0, mapNotFound(err)
	}
	if !expiresAt.Valid {
		return store.NoExpiry, nil
	}
	return fromMillis(expiresAt.Int64).Sub(now), nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	kind, err := liveKind(ctx, s.db, key, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if kind != kindSet {
		return nil, errWrongType
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM kv_set_members WHERE key = ? ORDER BY member`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// Exec applies the whole batch inside one transaction.
func (s *Store) Exec(ctx context.Context, ops ...store.Op) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := s.now()
	for _, op := range ops {
		if err := applyOp(ctx, tx, op, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyOp(ctx context.Context, tx *sql.Tx, op store.Op, now time.Time) error {
	switch op.Kind {
	case store.OpSetEx:
		// Replacing a set must drop its members too, the cascade handles that
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, op.Key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv_entries (key, kind, value, expires_at) VALUES (?, ?, ?, ?)`,
			op.Key, kindString, op.Value, toMillis(now.Add(op.TTL)),
		)
		return err

	case store.OpDel:
		_, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, op.Key)
		return err

	case store.OpSAdd:
		kind, err := liveKind(ctx, tx, op.Key, now)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := purgeExpired(ctx, tx, op.Key, now); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv_entries (key, kind, value, expires_at) VALUES (?, ?, NULL, NULL)`,
				op.Key, kindSet,
			); err != nil {
				return err
			}
		case err != nil:
			return err
		case kind != kindSet:
			return errWrongType
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO kv_set_members (key, member) VALUES (?, ?)`,
			op.Key, op.Member,
		)
		return err

	case store.OpSRem:
		kind, err := liveKind(ctx, tx, op.Key, now)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if kind != kindSet {
			return errWrongType
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM kv_set_members WHERE key = ? AND member = ?`,
			op.Key, op.Member,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM kv_entries
			 WHERE key = ? AND NOT EXISTS (SELECT 1 FROM kv_set_members WHERE key = ?)`,
			op.Key, op.Key,
		)
		return err

	case store.OpExpire:
		_, err := tx.ExecContext(ctx,
			`UPDATE kv_entries SET expires_at = ? WHERE key = ? AND `+liveFilter,
			toMillis(now.Add(op.TTL)), op.Key, toMillis(now),
		)
		return err
	}
	return store.ErrInvalidOp
}

// CompareAndDelete runs as one write transaction. With FileDSN the lock is
// taken at BEGIN, so two consumers of the same key can never both match.
func (s *Store) CompareAndDelete(
	ctx context.Context,
	key, field, want string,
	also ...string,
) ([]byte, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		kind  string
		value []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT kind, value FROM kv_entries WHERE key = ? AND `+liveFilter,
		key, toMillis(s.now()),
	).Scan(&kind, &value)
	if err != nil {
		return nil, false, mapNotFound(err)
	}
	if kind != kindString {
		return nil, false, errWrongType
	}

	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return value, false, nil
	}
	if got, _ := doc[field].(string); got != want {
		return value, false, nil
	}

	for _, k := range append([]string{key}, also...) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, k); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// DeleteExpired reclaims rows whose expiry has passed. Reads already ignore
// them.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		toMillis(s.now()),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func liveKind(ctx context.Context, db dbtx, key string, now time.Time) (string, error) {
	var kind string
	err := db.QueryRowContext(ctx,
		`SELECT kind FROM kv_entries WHERE key = ? AND `+liveFilter,
		key, toMillis(now),
	).Scan(&kind)
	if err != nil {
		return "", mapNotFound(err)
	}
	return kind, nil
}

func purgeExpired(ctx context.Context, tx *sql.Tx, key string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		key, toMillis(now),
	)
	return err
}
