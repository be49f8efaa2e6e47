package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ensure Redis implements the interface.
var _ Adapter = (*Redis)(nil)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a configuration for a local Redis server.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		MaxRetries:   3,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Redis is an Adapter backed by a Redis server, for terminals that share
// one cache host.
type Redis struct {
	client *redis.Client
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)}
	}

	return &Redis{client: client}, nil
}

// GetItem implements Adapter.GetItem.
func (r *Redis) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &Error{Op: "get", Key: key, Err: err}
	}
	return v, true, nil
}

// SetItem implements Adapter.SetItem. Values never expire.
func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

// RemoveItem implements Adapter.RemoveItem.
func (r *Redis) RemoveItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return &Error{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// Close implements Adapter.Close.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}
