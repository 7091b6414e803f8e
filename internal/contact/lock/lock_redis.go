// Package lock serializes Identify calls that share a phone number or email
// across replicas. It only narrows contention; the serializable transaction
// stays the source of correctness.
package lock

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "reconcile/pkg/domain-errors"
)

const (
	defaultTTL          = 10 * time.Second
	defaultPollInterval = 25 * time.Millisecond
	defaultKeyPrefix    = "reconcile:lock:"
	releaseTimeout      = 2 * time.Second
)

// releaseScript deletes a key only while it still holds our token, so an
// expired lock re-acquired by another caller is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker acquires one SET NX PX key per lock key.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	poll   time.Duration
	prefix string
	logger *slog.Logger
}

type Option func(*RedisLocker)

// WithTTL bounds how long a crashed holder can block others.
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *RedisLocker) {
		l.logger = logger
	}
}

func NewRedisLocker(client redis.Cmdable, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    defaultTTL,
		poll:   defaultPollInterval,
		prefix: defaultKeyPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until every key is held or ctx ends. Keys are taken in sorted
// order so two callers with overlapping sets cannot deadlock. On failure any
// key already taken is released before returning.
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = slices.Compact(slices.Sorted(slices.Values(keys)))
	token := uuid.NewString()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		redisKey := l.prefix + key
		if err := l.acquire(ctx, redisKey, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, redisKey)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(held, token) })
	}, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for contact lock")
			}
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "contact lock unavailable")
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for contact lock")
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(keys []string, token string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	for _, key := range keys {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			// The key expires after the TTL anyway.
			l.logger.WarnContext(ctx, "failed to release contact lock", "key", key, "error", err)
		}
	}
}
