// Package storetest holds the behaviour every store.KV driver must share.
// Driver tests call Run with a constructor for a fresh, empty backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/store"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty KV plus a function that moves its clock forward.
// Drivers without an injectable clock may sleep instead.
type Factory func(t *testing.T) (kv store.KV, advance func(time.Duration))

// Run executes the shared KV behaviour suite against a driver.
func Run(t *testing.T, newKV Factory) {
	t.Run("Get", func(t *testing.T) { testGet(t, newKV) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, newKV) })
	t.Run("Sets", func(t *testing.T) { testSets(t, newKV) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, newKV) })
	t.Run("InvalidOps", func(t *testing.T) { testInvalidOps(t, newKV) })
	t.Run("CompareAndDelete", func(t *testing.T) { testCompareAndDelete(t, newKV) })
	t.Run("CompareAndDeleteKeepsUnlisted", func(t *testing.T) { testCompareAndDeleteKeepsUnlisted(t, newKV) })
	t.Run("CompareAndDeleteConcurrent", func(t *testing.T) { testCompareAndDeleteConcurrent(t, newKV) })
	t.Run("Ping", func(t *testing.T) {
		kv, _ := newKV(t)
		require.NoError(t, kv.Ping(context.Background()))
	})
}

func testGet(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, _ := newKV(t)

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, kv.Exec(ctx, store.SetEx("k", []byte("v1"), time.Hour)))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	// Overwrite
	require.NoError(t, kv.Exec(ctx, store.SetEx("k", []byte("v2"), time.Hour)))
	got, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	// Delete is idempotent
	require.NoError(t, kv.Exec(ctx, store.Del("k"), store.Del("k"), store.Del("never-existed")))
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testExpiry(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, advance := newKV(t)

	require.NoError(t, kv.Exec(ctx,
		store.SetEx("short", []byte("x"), time.Second),
		store.SetEx("long", []byte("y"), time.Hour),
		store.SAdd("set", "a"),
		store.Expire("set", time.Second),
	))

	advance(1500 * time.Millisecond)

	_, err := kv.Get(ctx, "short")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = kv.TTL(ctx, "short")
	require.ErrorIs(t, err, store.ErrNotFound)

	members, err := kv.SMembers(ctx, "set")
	require.NoError(t, err)
	require.Empty(t, members)

	got, err := kv.Get(ctx, "long")
	require.NoError(t, err)
	require.Equal(t, []byte("y"), got)

	if sw, ok := kv.(store.Sweeper); ok {
		n, err := sw.DeleteExpired(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(0))

		// Sweeping never touches live keys
		_, err = kv.Get(ctx, "long")
		require.NoError(t, err)
	}
}

func testSets(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, _ := newKV(t)

	members, err := kv.SMembers(ctx, "s")
	require.NoError(t, err)
	require.Empty(t, members)

	require.NoError(t, kv.Exec(ctx,
		store.SAdd("s", "b"),
		store.SAdd("s", "a"),
		store.SAdd("s", "a"),
	))
	members, err = kv.SMembers(ctx, "s")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	// A freshly created set has no expiry
	ttl, err := kv.TTL(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, store.NoExpiry, ttl)

	require.NoError(t, kv.Exec(ctx, store.SRem("s", "a"), store.SRem("s", "zzz")))
	members, err = kv.SMembers(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)

	// Removing the last member drops the key entirely
	require.NoError(t, kv.Exec(ctx, store.SRem("s", "b")))
	_, err = kv.TTL(ctx, "s")
	require.ErrorIs(t, err, store.ErrNotFound)

	// SRem on an absent set is a no-op
	require.NoError(t, kv.Exec(ctx, store.SRem("absent", "x")))
}

func testTTL(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, _ := newKV(t)

	require.NoError(t, kv.Exec(ctx, store.SetEx("k", []byte("v"), time.Hour)))
	ttl, err := kv.TTL(ctx, "k")
	require.NoError(t, err)
	require.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 2)

	// Expire replaces the lifetime, it can shorten it too
	require.NoError(t, kv.Exec(ctx, store.Expire("k", time.Minute)))
	ttl, err = kv.TTL(ctx, "k")
	require.NoError(t, err)
	require.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 2)

	// Expire on an absent key does not create it
	require.NoError(t, kv.Exec(ctx, store.Expire("absent", time.Minute)))
	_, err = kv.TTL(ctx, "absent")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testInvalidOps(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, _ := newKV(t)

	tests := []struct {
		name string
		op   store.Op
	}{
		{"zero ttl", store.SetEx("k", []byte("v"), 0)},
		{"negative ttl", store.SetEx("k", []byte("v"), -time.Second)},
		{"expire zero", store.Expire("k", 0)},
		{"empty key", store.Del("")},
		{"empty member", store.SAdd("s", "")},
		{"unknown kind", store.Op{Key: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := kv.Exec(ctx, store.SetEx("before", []byte("v"), time.Hour), tt.op)
			require.ErrorIs(t, err, store.ErrInvalidOp)

			// The batch is rejected up front, nothing before the bad op lands
			_, err = kv.Get(ctx, "before")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func testCompareAndDelete(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, _ := newKV(t)

	_, _, err := kv.CompareAndDelete(ctx, "missing", "status", "active")
	require.ErrorIs(t, err, store.ErrNotFound)

	active := []byte(`{"status":"active","userId":"u1"}`)
	revoked := []byte(`{"status":"revoked","userId":"u1"}`)

	require.NoError(t, kv.Exec(ctx,
		store.SetEx("rec:a", active, time.Hour),
		store.SetEx("owner:a", []byte("u1"), time.Hour),
		store.SetEx("rec:r", revoked, time.Hour),
		store.SetEx("rec:junk", []byte("not json"), time.Hour),
	))

	// Field mismatch leaves everything in place
	value, deleted, err := kv.CompareAndDelete(ctx, "rec:r", "status", "active")
	require.NoError(t, err)
	require.False(t, deleted)
	require.JSONEq(t, string(revoked), string(value))
	_, err = kv.Get(ctx, "rec:r")
	require.NoError(t, err)

	// Non JSON values never match
	_, deleted, err = kv.CompareAndDelete(ctx, "rec:junk", "status", "active")
	require.NoError(t, err)
	require.False(t, deleted)

	// Match deletes the key and the extra keys
	value, deleted, err = kv.CompareAndDelete(ctx, "rec:a", "status", "active", "owner:a")
	require.NoError(t, err)
	require.True(t, deleted)
	require.JSONEq(t, string(active), string(value))

	_, err = kv.Get(ctx, "rec:a")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = kv.Get(ctx, "owner:a")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Second attempt sees nothing
	_, _, err = kv.CompareAndDelete(ctx, "rec:a", "status", "active", "owner:a")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// Only the compared key and the keys passed as also are deleted. Session
// consumption relies on the owner mapping surviving its record.
func testCompareAndDeleteKeepsUnlisted(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, _ := newKV(t)

	require.NoError(t, kv.Exec(ctx,
		store.SetEx("rec:a", []byte(`{"status":"active"}`), time.Hour),
		store.SetEx("owner:a", []byte("u1"), time.Hour),
		store.SAdd("set:u1", "a"),
	))

	_, deleted, err := kv.CompareAndDelete(ctx, "rec:a", "status", "active")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = kv.Get(ctx, "rec:a")
	require.ErrorIs(t, err, store.ErrNotFound)

	owner, err := kv.Get(ctx, "owner:a")
	require.NoError(t, err)
	require.Equal(t, []byte("u1"), owner)

	ttl, err := kv.TTL(ctx, "owner:a")
	require.NoError(t, err)
	require.Positive(t, ttl)

	members, err := kv.SMembers(ctx, "set:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, members)
}

func testCompareAndDeleteConcurrent(t *testing.T, newKV Factory) {
	ctx := context.Background()
	kv, _ := newKV(t)

	require.NoError(t, kv.Exec(ctx, store.SetEx("rec", []byte(`{"status":"active"}`), time.Hour)))

	const workers = 16
	var (
		wins    atomic.Int32
		wg      sync.WaitGroup
		errs    = make(chan error, workers)
		release = make(chan struct{})
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			_, deleted, err := kv.CompareAndDelete(ctx, "rec", "status", "active")
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				errs <- err
				return
			}
			if deleted {
				wins.Add(1)
			}
		}()
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), wins.Load(), "exactly one caller may win the delete")
}
