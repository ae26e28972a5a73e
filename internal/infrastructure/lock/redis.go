// Package lock provides a Redis-backed run lock for deployments where
// several hosts share one schedule.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

const (
	defaultTTL        = 30 * time.Minute
	connectionTimeout = 5 * time.Second
	keyPrefix         = "insightdigest:run:"
)

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisLocker implements ports.RunLocker with SET NX and a token-checked delete.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.RunLocker = (*RedisLocker)(nil)

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config) (*RedisLocker, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisLocker(client, cfg.TTL), nil
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// TryLock acquires the lock for key or fails immediately with
// domain.ErrLockContention.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockContention)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}
	return release, nil
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
