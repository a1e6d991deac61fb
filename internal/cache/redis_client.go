package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis client with caching helpers
type Client struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration // Default TTL for cached items
}

// NewClient creates a Redis client from connection parameters
// Security: NEVER hardcode credentials
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password, // Empty string if no password
		DB:       db,
	})

	// Verify connectivity (fail fast on startup)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "redis")
	logger.Info("redis client connected", "addr", addr)

	return &Client{
		client: client,
		logger: logger,
		ttl:    15 * time.Minute,
	}, nil
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("redis client closed")
	return nil
}

// HealthCheck verifies Redis connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Get retrieves a cached value by key and unmarshals into target
// Returns: true if found, false if miss (not an error)
func (c *Client) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Cache miss - not an error
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}

	// Unmarshal JSON into target
	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}

	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// Set stores a value in cache with the default TTL
// Value is marshaled to JSON before storage
func (c *Client) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with custom TTL
// Value is marshaled to JSON before storage
func (c *Client) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	// Marshal value to JSON
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	// Store in Redis with TTL
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}

	c.logger.Debug("cache set", "key", key, "ttl", ttl)
	return nil
}

// Delete removes a key from cache
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}

	c.logger.Debug("cache delete", "key", key)
	return nil
}

// DeletePattern deletes all keys matching a pattern
// Example: DeletePattern(ctx, "analytics:security:*") removes every
// cached security result
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	// Scan for matching keys
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error
		batch, cursor, err = c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan failed for pattern %s: %w", pattern, err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	// Delete all matching keys
	if len(keys) == 0 {
		c.logger.Debug("no keys matched pattern", "pattern", pattern)
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed for pattern %s: %w", pattern, err)
	}

	c.logger.Info("cache pattern delete", "pattern", pattern, "deleted", deleted)
	return deleted, nil
}
