package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Mutex guards short critical sections with a per-key Redis lock. The lock
// value is an owner token so an expired lock held by someone else is never
// released by mistake.
type Mutex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMutex(client *redis.Client, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Mutex{client: client, ttl: ttl}
}

// WithLock runs fn while holding the named lock. The callback context carries
// a deadline of the lock TTL so fn cannot outlive the lock.
func (m *Mutex) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := "lock:" + name
	token := uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return ErrNotAcquired
	}

	defer func() {
		_ = m.release(ctx, key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, m.ttl)
	defer cancel()

	return fn(lockCtx)
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (m *Mutex) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, m.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
