package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/affiliate-engine/pkg/cache"
)

// Locker grants a job to a single instance at a time
type Locker interface {
	// Acquire returns ok=false when another holder has the lock. release must
	// be called once the job is done.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker is a Locker over Redis keys that expire after ttl, so a crashed
// holder never blocks the job for longer than that
type RedisLocker struct {
	cache *cache.Client
}

// NewRedisLocker creates a new Redis-backed job lock
func NewRedisLocker(c *cache.Client) *RedisLocker {
	return &RedisLocker{cache: c}
}

// Key returns the Redis key of a job lock
func (l *RedisLocker) Key(name string) string {
	return "job:lock:" + name
}

// Acquire takes the job lock
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, l.Key(name), token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() {
		// the job context may be spent by now
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = l.cache.DeleteIfEquals(ctx, l.Key(name), token)
	}
	return release, true, nil
}
