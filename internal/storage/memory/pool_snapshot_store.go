package memory

import (
	"context"
	"sort"
	"sync"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/storage"
)

type snapshotKey struct {
	tokenKey  string
	timestamp int64
	source    string
}

// PoolSnapshotStore is an in-memory implementation of storage.PoolSnapshotStore.
type PoolSnapshotStore struct {
	mu   sync.RWMutex
	data map[snapshotKey]*domain.PoolSnapshot
}

// NewPoolSnapshotStore creates a new in-memory pool snapshot store.
func NewPoolSnapshotStore() *PoolSnapshotStore {
	return &PoolSnapshotStore{
		data: make(map[snapshotKey]*domain.PoolSnapshot),
	}
}

// Insert adds a snapshot, replacing one with the same key.
func (s *PoolSnapshotStore) Insert(_ context.Context, snap *domain.PoolSnapshot) error {
	if snap == nil || snap.TokenKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := *snap
	s.data[snapshotKey{snap.TokenKey, snap.TimestampMs, snap.Source}] = &snapCopy
	return nil
}

// GetByTokenKey retrieves snapshots in [from, to], ordered by timestamp ASC.
func (s *PoolSnapshotStore) GetByTokenKey(_ context.Context, tokenKey string, from, to int64) ([]*domain.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PoolSnapshot
	for k, v := range s.data {
		if k.tokenKey == tokenKey && k.timestamp >= from && k.timestamp <= to {
			snapCopy := *v
			result = append(result, &snapCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TimestampMs != result[j].TimestampMs {
			return result[i].TimestampMs < result[j].TimestampMs
		}
		return result[i].Source < result[j].Source
	})
	return result, nil
}

var _ storage.PoolSnapshotStore = (*PoolSnapshotStore)(nil)
