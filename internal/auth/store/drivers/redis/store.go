// Package redis is the shared KV driver for multi-instance deployments.
// Expiry is native so it does not implement store.Sweeper.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

// compareAndDeleteScript reads KEYS[1], decodes it as JSON and deletes every
// key when the field ARGV[1] equals ARGV[2]. Returns false if KEYS[1] is
// absent, otherwise {deleted, value}. All keys must share a hash slot on
// Redis Cluster.
var compareAndDeleteScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local ok, doc = pcall(cjson.decode, v)
if ok and type(doc) == 'table' and doc[ARGV[1]] == ARGV[2] then
  redis.call('DEL', unpack(KEYS))
  return {1, v}
end
return {0, v}
`)

type Store struct {
	client redis.UniversalClient
}

var _ store.KV = (*Store)(nil)

// NewStore connects using a redis:// or rediss:// URL.
func NewStore(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	return NewStoreWithClient(redis.NewClient(opts)), nil
}

// NewStoreWithClient wraps an existing client. Close closes the client.
func NewStoreWithClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return b, err
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// go-redis passes the -1 and -2 sentinels through unscaled
	switch d {
	case -2:
		return 0, store.ErrNotFound
	case -1:
		return store.NoExpiry, nil
	}
	return d, nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(members)
	return members, nil
}

// Exec sends the batch as a MULTI/EXEC transaction. Redis does not roll back
// on a failing command, the remaining ops still apply.
func (s *Store) Exec(ctx context.Context, ops ...store.Op) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	if len(ops) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Kind {
			case store.OpSetEx:
				pipe.Set(ctx, op.Key, op.Value, op.TTL)
			case store.OpDel:
				pipe.Del(ctx, op.Key)
			case store.OpSAdd:
				pipe.SAdd(ctx, op.Key, op.Member)
			case store.OpSRem:
				pipe.SRem(ctx, op.Key, op.Member)
			case store.OpExpire:
				pipe.PExpire(ctx, op.Key, op.TTL)
			}
		}
		return nil
	})
	return err
}

func (s *Store) CompareAndDelete(
	ctx context.Context,
	key, field, want string,
	also ...string,
) ([]byte, bool, error) {
	keys := append([]string{key}, also...)

	res, err := compareAndDeleteScript.Run(ctx, s.client, keys, field, want).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, false, store.ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("redis: unexpected script reply of length %d", len(res))
	}

	deleted, _ := res[0].(int64)
	value, _ := res[1].(string)
	return []byte(value), deleted == 1, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }
