// Package rediscache keeps the latest computed token metrics in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"xrpl-token-sync/internal/storage"
)

// Defaults.
const (
	DefaultTTL       = 10 * time.Minute
	DefaultKeyPrefix = "latest:"
)

// Options configures the cache.
type Options struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration // 0 = DefaultTTL, negative = no expiry
	KeyPrefix string
}

// MetricsCache implements storage.MetricsCache on a Redis string per token.
type MetricsCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*MetricsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts Options) *MetricsCache {
	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &MetricsCache{client: client, ttl: ttl, prefix: prefix}
}

// Close closes the underlying client.
func (c *MetricsCache) Close() error {
	return c.client.Close()
}

// SetLatest replaces the cached fields for tokenKey.
func (c *MetricsCache) SetLatest(ctx context.Context, tokenKey string, fields storage.FieldSet) error {
	if tokenKey == "" {
		return storage.ErrInvalidInput
	}
	encoded, err := fields.Encode()
	if err != nil {
		return err
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	if err := c.client.Set(ctx, c.prefix+tokenKey, data, c.ttl).Err(); err != nil {
		return &storage.PersistenceError{Op: "cache set", Key: tokenKey, Err: err}
	}
	return nil
}

// GetLatest returns the cached fields. Returns ErrNotFound on a miss or expiry.
func (c *MetricsCache) GetLatest(ctx context.Context, tokenKey string) (map[string]json.RawMessage, error) {
	data, err := c.client.Get(ctx, c.prefix+tokenKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, &storage.PersistenceError{Op: "cache get", Key: tokenKey, Err: err}
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached metrics %s: %w", tokenKey, err)
	}
	return out, nil
}

var _ storage.MetricsCache = (*MetricsCache)(nil)
