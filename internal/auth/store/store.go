package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrInvalidOp     = errors.New("store: invalid operation")
)

// NoExpiry is what KV.TTL reports for a key that exists without an expiry.
const NoExpiry time.Duration = -1

// KV is the key-value backend the session store is phrased against. Drivers
// (memory, sqlite, redis) implement it. Every method is a network round trip
// on remote drivers, so callers bound them with a context deadline.
type KV interface {
	// Get returns the value of a string key, ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// TTL returns the remaining lifetime of a key, NoExpiry if it has none and
	// ErrNotFound if it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SMembers returns the members of a set key, empty if the key is absent.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Exec applies ops in order as one batch. Drivers wrap the batch as
	// tightly as the backend allows but callers must only rely on
	// best-effort semantics.
	Exec(ctx context.Context, ops ...Op) error

	// CompareAndDelete atomically reads key, decodes it as a JSON object and,
	// if the string field equals want, deletes key together with also. The
	// value read is always returned. ErrNotFound if key is absent.
	CompareAndDelete(ctx context.Context, key, field, want string, also ...string) (value []byte, deleted bool, err error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Sweeper is implemented by KV drivers without native key expiry. Expired
// keys are already invisible to reads, sweeping only reclaims space.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// OpKind names a single batched KV mutation.
type OpKind int

const (
	OpSetEx OpKind = iota + 1
	OpDel
	OpSAdd
	OpSRem
	OpExpire
)

// Op is one mutation inside a KV.Exec batch.
type Op struct {
	Kind   OpKind
	Key    string
	Value  []byte        // OpSetEx
	Member string        // OpSAdd, OpSRem
	TTL    time.Duration // OpSetEx, OpExpire; must be positive
}

// SetEx sets a string key with an expiry.
func SetEx(key string, value []byte, ttl time.Duration) Op {
	return Op{Kind: OpSetEx, Key: key, Value: value, TTL: ttl}
}

// Del deletes a key of any type, a no-op if absent.
func Del(key string) Op { return Op{Kind: OpDel, Key: key} }

// SAdd adds member to the set at key, creating it without expiry if absent.
func SAdd(key, member string) Op { return Op{Kind: OpSAdd, Key: key, Member: member} }

// SRem removes member from the set at key. An emptied set is deleted.
func SRem(key, member string) Op { return Op{Kind: OpSRem, Key: key, Member: member} }

// Expire sets the expiry of an existing key, a no-op if absent.
func Expire(key string, ttl time.Duration) Op { return Op{Kind: OpExpire, Key: key, TTL: ttl} }

// Validate rejects ops that no driver can apply.
func (o Op) Validate() error {
	if o.Key == "" {
		return errors.Join(ErrInvalidOp, errors.New("empty key"))
	}
	switch o.Kind {
	case OpSetEx, OpExpire:
		if o.TTL <= 0 {
			return errors.Join(ErrInvalidOp, errors.New("ttl must be positive"))
		}
	case OpSAdd, OpSRem:
		if o.Member == "" {
			return errors.Join(ErrInvalidOp, errors.New("empty set member"))
		}
	case OpDel:
	default:
		return errors.Join(ErrInvalidOp, errors.New("unknown op kind"))
	}
	return nil
}

// Directory is the relational user directory backing login. Only the sqlite
// driver implements it. It exposes sub-repositories to keep concerns tidy and
// to actively stop people from accidently doing transactions within
// transactions.
type Directory interface {
	Users() Users
	Roles() Roles

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Directory.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional directory. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Directory
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail returns a user by (lower-cased) email.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user, ErrAlreadyExists on duplicate email.
	CreateUser(ctx context.Context, u domain.User) error

	// IsEmpty reports whether no users exist yet.
	IsEmpty(ctx context.Context) (bool, error)

	// AssignRole links a role to a user, idempotent.
	AssignRole(ctx context.Context, userID string, roleID int) error

	// ListRoleIDs returns the role ids held by a user in ascending order.
	ListRoleIDs(ctx context.Context, userID string) ([]int, error)
}

type Roles interface {
	// CreateRole inserts a role, ErrAlreadyExists on duplicate name.
	CreateRole(ctx context.Context, name string) (domain.Role, error)

	// GetRoleByName returns a role by name.
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)

	// ListRoles returns every role ordered by id.
	ListRoles(ctx context.Context) ([]domain.Role, error)
}
