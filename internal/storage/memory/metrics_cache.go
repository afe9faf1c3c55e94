package memory

import (
	"context"
	"encoding/json"
	"sync"

	"xrpl-token-sync/internal/storage"
)

// MetricsCache is an in-memory implementation of storage.MetricsCache.
// Entries never expire.
type MetricsCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]json.RawMessage
}

// NewMetricsCache creates a new in-memory metrics cache.
func NewMetricsCache() *MetricsCache {
	return &MetricsCache{
		entries: make(map[string]map[string]json.RawMessage),
	}
}

// SetLatest replaces the cached fields for tokenKey.
func (c *MetricsCache) SetLatest(_ context.Context, tokenKey string, fields storage.FieldSet) error {
	if tokenKey == "" {
		return storage.ErrInvalidInput
	}
	encoded, err := fields.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tokenKey] = encoded
	return nil
}

// GetLatest returns the cached fields. Returns ErrNotFound on a miss.
func (c *MetricsCache) GetLatest(_ context.Context, tokenKey string) (map[string]json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[tokenKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.ProjectDocument(e, nil), nil
}

var _ storage.MetricsCache = (*MetricsCache)(nil)
