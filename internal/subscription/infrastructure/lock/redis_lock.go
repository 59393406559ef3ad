// Package lock provides advisory locks for coordinating sweep runs across
// worker replicas.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLock is a Redis-backed advisory lock using SET NX with a TTL. The
// lock value is unique per holder so Unlock never releases a lock taken
// over by another replica after expiry.
type RedisLock struct {
	client *redis.Client
	token  string
}

// NewRedisLock creates a Redis advisory lock.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{
		client: client,
		token:  uuid.NewString(),
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.token, ttl).Result()
}

// unlockScript deletes the key only while this holder still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Unlock releases the lock if still held by this instance.
func (l *RedisLock) Unlock(ctx context.Context, key string) error {
	return unlockScript.Run(ctx, l.client, []string{key}, l.token).Err()
}

// MemoryLock is an in-process advisory lock for single-instance deployments
// and tests.
type MemoryLock struct {
	mu      sync.Mutex
	holders map[string]time.Time
}

// NewMemoryLock creates an in-memory advisory lock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{holders: make(map[string]time.Time)}
}

// TryLock attempts to acquire the lock without blocking.
func (l *MemoryLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.holders[key]; held && time.Now().Before(expiry) {
		return false, nil
	}
	l.holders[key] = time.Now().Add(ttl)
	return true, nil
}

// Unlock releases the lock.
func (l *MemoryLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, key)
	return nil
}
