package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the lease key only when it still holds our token, so
// an instance that lost its lease to TTL expiry cannot release a successor's.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker acquires a single-holder lease in Redis.
type Locker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewLocker creates a lease locker. The TTL should comfortably exceed the
// longest expected iteration.
func NewLocker(client *redis.Client, key string, ttl time.Duration) *Locker {
	if key == "" {
		key = "billing:iteration-lease"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{client: client, key: key, ttl: ttl}
}

// Acquire attempts to take the lease. On success it returns true and a
// release function; on contention it returns false. Redis errors are
// returned so the caller can decide whether to skip the iteration.
func (l *Locker) Acquire(ctx context.Context) (bool, func(context.Context) error, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return false, nil, nil
	}

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("failed to release lease: %w", err)
		}
		return nil
	}

	return true, release, nil
}
