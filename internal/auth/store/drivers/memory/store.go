// Package memory is an in-process KV driver. It backs single-instance
// deployments and tests; state does not survive a restart.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/store"
)

var errWrongType = errors.New("memory: operation against a key holding the wrong kind of value")

type entry struct {
	value     []byte
	set       map[string]struct{} // nil for string keys
	expiresAt time.Time           // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a mutex guarded map with lazy expiry. A single lock covers every
// operation so Exec and CompareAndDelete are atomic.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

var (
	_ store.KV      = (*Store)(nil)
	_ store.Sweeper = (*Store)(nil)
)

// NewStore returns an empty store using the wall clock.
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock returns an empty store driven by now, used by tests to
// step over expiries.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{data: make(map[string]*entry), now: now}
}

// lookup returns the live entry for key, evicting it if it has expired.
// Callers hold s.mu.
func (s *Store) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil, store.ErrNotFound
	}
	if e.set != nil {
		return nil, errWrongType
	}
	return slices.Clone(e.value), nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return 0, store.ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return store.NoExpiry, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if e.set == nil {
		return nil, errWrongType
	}

	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	slices.Sort(members)
	return members, nil
}

func (s *Store) Exec(ctx context.Context, ops ...store.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, op := range ops {
		if err := s.apply(op, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(op store.Op, now time.Time) error {
	switch op.Kind {
	case store.OpSetEx:
		s.data[op.Key] = &entry{value: slices.Clone(op.Value), expiresAt: now.Add(op.TTL)}

	case store.OpDel:
		delete(s.data, op.Key)

	case store.OpSAdd:
		e := s.lookup(op.Key)
		if e == nil {
			e = &entry{set: make(map[string]struct{})}
			s.data[op.Key] = e
		}
		if e.set == nil {
			return errWrongType
		}
		e.set[op.Member] = struct{}{}

	case store.OpSRem:
		e := s.lookup(op.Key)
		if e == nil {
			return nil
		}
		if e.set == nil {
			return errWrongType
		}
		delete(e.set, op.Member)
		if len(e.set) == 0 {
			delete(s.data, op.Key)
		}

	case store.OpExpire:
		if e := s.lookup(op.Key); e != nil {
			e.expiresAt = now.Add(op.TTL)
		}
	}
	return nil
}

func (s *Store) CompareAndDelete(
	ctx context.Context,
	key, field, want string,
	also ...string,
) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil, false, store.ErrNotFound
	}
	if e.set != nil {
		return nil, false, errWrongType
	}
	value := slices.Clone(e.value)

	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return value, false, nil
	}
	if got, _ := doc[field].(string); got != want {
		return value, false, nil
	}

	delete(s.data, key)
	for _, k := range also {
		delete(s.data, k)
	}
	return value, true, nil
}

// DeleteExpired drops every expired entry and reports how many went.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }
