// Package greeting provides a Redis backend for the greeting text. The
// default backend is the Postgres greeting row; deployments that already
// run Redis can keep the greeting there instead.
package greeting

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const greetingKey = "relaydesk:greeting"

// RedisStore holds the greeting as a single Redis string value.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Greeting returns the current greeting, or empty when none is set.
func (s *RedisStore) Greeting(ctx context.Context) (string, error) {
	text, err := s.client.Get(ctx, greetingKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read greeting: %w", err)
	}
	return text, nil
}

// SetGreeting replaces the greeting text wholesale. The value never
// expires.
func (s *RedisStore) SetGreeting(ctx context.Context, text string) error {
	if err := s.client.Set(ctx, greetingKey, text, 0).Err(); err != nil {
		return fmt.Errorf("set greeting: %w", err)
	}
	return nil
}

// EnsureGreeting seeds the greeting on first boot without overwriting a
// value an operator already set.
func (s *RedisStore) EnsureGreeting(ctx context.Context, text string) error {
	if err := s.client.SetNX(ctx, greetingKey, text, 0).Err(); err != nil {
		return fmt.Errorf("seed greeting: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
