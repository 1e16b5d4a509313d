package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a result lives in Redis.
const DefaultTTL = 300 * time.Second

const defaultPrefix = "telemetry:query:"

// RedisConfig configures a RedisBackend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisBackend keeps results in Redis with a TTL. Clear removes only keys
// under its prefix.
type RedisBackend struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend connects a backend using cfg.
func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisBackendFromClient(client, cfg.Prefix, cfg.TTL)
}

// NewRedisBackendFromClient wraps an existing client (useful for testing).
func NewRedisBackendFromClient(client *goredis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

// Name returns the backend identifier.
func (r *RedisBackend) Name() string { return "redis" }

// Ping checks connectivity to the Redis server.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// Get returns the entry for key.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set stores value with the configured TTL.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

// Clear deletes every key under the prefix.
func (r *RedisBackend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("scanning cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
