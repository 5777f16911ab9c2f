package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock gives one worker replica exclusive use of a job for ttl.
type Lock interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, job string) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock holds one SETNX key per job, each tagged with a random owner
// token so a replica never deletes a key another replica took over after expiry.
type RedisLock struct {
	client redisStore
	keyFor func(job string) string

	mu     sync.Mutex
	owners map[string]string
}

// NewRedisLock builds a lock that stores each job's owner under keyFor(job).
func NewRedisLock(client redisStore, keyFor func(job string) string) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if keyFor == nil {
		return nil, errors.New("lock key builder is required")
	}
	return &RedisLock{
		client: client,
		keyFor: keyFor,
		owners: map[string]string{},
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl for %s must be positive", job)
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.keyFor(job), token, ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", job, err)
	}
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	l.owners[job] = token
	l.mu.Unlock()
	return true, nil
}

// Release deletes the job's key only while it still carries our token.
func (l *RedisLock) Release(ctx context.Context, job string) error {
	l.mu.Lock()
	token, held := l.owners[job]
	delete(l.owners, job)
	l.mu.Unlock()
	if !held {
		return nil
	}

	key := l.keyFor(job)
	current, err := l.client.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("read lock owner %s: %w", job, err)
	case current != token:
		return nil
	}
	if err := l.client.Del(ctx, key); err != nil {
		return fmt.Errorf("delete lock %s: %w", job, err)
	}
	return nil
}
