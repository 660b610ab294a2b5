package kpnc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of go-redis used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DefaultRedisPrefix namespaces the agent's keys.
const DefaultRedisPrefix = "kpnc:"

// RedisStore is a Store backed by Redis. It lets several agent processes on
// one device share a single set of preferences.
type RedisStore struct {
	client redisClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client redisClient, prefix string, logger *slog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_store"),
	}, nil
}

// DialRedisStore connects to addr and verifies the connection. Keys are
// stored under prefix, or DefaultRedisPrefix when it is empty.
func DialRedisStore(ctx context.Context, addr, password string, db int, prefix string, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return NewRedisStore(client, prefix, logger)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		s.logger.Error("Failed to read key", "key", key, "err", err)
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if value == "" {
		if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", key, err)
		}
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		s.logger.Error("Failed to write key", "key", key, "err", err)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
