// Package lease provides redis-backed advisory locks with a bounded lifetime.
// A lease that expires without renewal is considered abandoned and may be
// re-acquired by another worker. This is part of the platform layer and
// contains no business logic.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lease is currently held by another owner.
var ErrNotAcquired = errors.New("lease: not acquired")

// releaseScript deletes the key only if it still holds our token, so an
// expired lease re-acquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only if the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Manager acquires leases against a shared redis client.
type Manager struct {
	rdb *redis.Client
	ttl time.Duration
}

// Lease is a held advisory lock. Release it when the guarded work is done.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// NewManager creates a lease manager. ttl bounds how long a crashed holder
// can block other workers.
func NewManager(rdb *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Manager{rdb: rdb, ttl: ttl}
}

// Acquire attempts to take the lease for the given key. Returns
// ErrNotAcquired if another owner holds a live lease.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{rdb: m.rdb, key: key, token: token, ttl: m.ttl}, nil
}

// Renew extends the lease by its original TTL. Returns ErrNotAcquired if
// the lease expired and was taken by someone else in the meantime.
func (l *Lease) Renew(ctx context.Context) error {
	res, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotAcquired
	}
	return nil
}

// Release gives up the lease. Releasing an already-expired lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	return err
}
