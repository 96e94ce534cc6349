// Package lock serializes work on a single key across service instances.
//
// The Redis locker is an optimisation on top of the optimistic
// concurrency checks in the repositories, not a replacement: when Redis
// is unreachable (or the breaker guarding it is open) Lock degrades to a
// no-op and the version checks alone keep copy counts consistent.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"lendinghub/internal/apperr"
)

// ErrBusy is returned when the key stays locked for the whole wait.
var ErrBusy = fmt.Errorf("resource busy: %w", apperr.ErrConcurrencyConflict)

const pollInterval = 20 * time.Millisecond

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Noop never blocks. Used when Redis is not configured.
type Noop struct{}

func (Noop) Lock(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

// RedisLocker takes SET NX locks with a TTL and releases them with a
// compare-and-delete script so a lock that expired and was re-taken by
// someone else is never released by the old owner.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	wait    time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Option configures a RedisLocker.
type Option func(*RedisLocker)

// WithWait bounds how long Lock polls for a held key. Defaults to the TTL.
func WithWait(d time.Duration) Option {
	return func(l *RedisLocker) { l.wait = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *RedisLocker) { l.logger = logger }
}

// WithBreakerSettings overrides the circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(l *RedisLocker) { l.breaker = gobreaker.NewCircuitBreaker(st) }
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   ttl,
		logger: slog.Default(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "redis-lock",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until key is held, the wait elapses (ErrBusy) or ctx ends.
// The returned release function is safe to call once.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := "lock:" + key
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(l.wait)
	for {
		acquired, err := l.tryAcquire(ctx, redisKey, token)
		if err != nil {
			l.logger.WarnContext(ctx, "lock backend unavailable, continuing without lock",
				"key", redisKey,
				"error", err,
			)
			return func() {}, nil
		}
		if acquired {
			return func() { l.release(redisKey, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *RedisLocker) tryAcquire(ctx context.Context, key, token string) (bool, error) {
	res, err := l.breaker.Execute(func() (interface{}, error) {
		return l.client.SetNX(ctx, key, token, l.ttl).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := l.breaker.Execute(func() (interface{}, error) {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("release lock", "key", key, "error", err)
	}
}

// State exposes the breaker state for readiness reporting.
func (l *RedisLocker) State() string {
	return l.breaker.State().String()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
