package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SchedulerLock implements ports.SchedulerLock using Redis SET NX with a TTL.
// The TTL bounds how long a crashed holder can block other instances.
type SchedulerLock struct {
	client *goredis.Client
	prefix string
}

// NewSchedulerLock creates a new Redis-backed scheduler lock.
func NewSchedulerLock(client *goredis.Client) *SchedulerLock {
	return &SchedulerLock{
		client: client,
		prefix: "lock:",
	}
}

// Acquire returns true if the lock was taken, false if another instance holds it.
func (l *SchedulerLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	result, err := l.client.SetArgs(ctx, l.prefix+name, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis lock acquire: %w", err)
	}
	return result == "OK", nil
}

// Release drops the lock so the next tick can run without waiting for the TTL.
func (l *SchedulerLock) Release(ctx context.Context, name string) error {
	if err := l.client.Del(ctx, l.prefix+name).Err(); err != nil {
		return fmt.Errorf("redis lock release: %w", err)
	}
	return nil
}
