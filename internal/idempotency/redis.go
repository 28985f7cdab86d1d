package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our owner token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// RedisClient is the subset of *redis.Client the locker uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker keeps leases as Redis keys with an expiry.
type RedisLocker struct {
	client    RedisClient
	keyPrefix string
	nowFunc   func() time.Time
	ownerFunc func() string
}

// NewRedisLocker returns a locker using client. An empty prefix defaults to "lease:".
func NewRedisLocker(client RedisClient, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "lease:"
	}
	return &RedisLocker{
		client:    client,
		keyPrefix: keyPrefix,
		nowFunc:   time.Now,
		ownerFunc: uuid.NewString,
	}
}

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Acquire uses SETNX with a TTL in a single atomic operation.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lease := Lease{Key: key, Owner: l.ownerFunc(), ExpiresAt: l.nowFunc().Add(ttl)}
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, lease.Owner, ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return Lease{}, ErrHeld
	}
	return lease, nil
}

// Release removes the key if the owner token still matches.
func (l *RedisLocker) Release(ctx context.Context, lease Lease) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.keyPrefix + lease.Key}, lease.Owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
