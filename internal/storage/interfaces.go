package storage

import (
	"context"
	"encoding/json"

	"xrpl-token-sync/internal/domain"
)

// TokenStore provides access to token documents.
//
// Documents are JSON objects whose field names are the domain.Field*
// constants. Reads take an optional projection; with no fields the whole
// document is returned.
type TokenStore interface {
	// GetByKey retrieves one token. Returns ErrNotFound if it does not exist.
	GetByKey(ctx context.Context, key domain.TokenKey, fields ...string) (*domain.Token, error)

	// FindEligible returns all tokens matching the filter, ordered by key.
	FindEligible(ctx context.Context, filter Filter, fields ...string) ([]*domain.Token, error)

	// Project returns the raw JSON of the requested fields that are present.
	// Returns ErrNotFound if the token does not exist.
	Project(ctx context.Context, key domain.TokenKey, fields []string) (map[string]json.RawMessage, error)

	// MergeUpsert writes only the given fields, creating the document if
	// needed. An existing kingOfTheHill is never replaced.
	MergeUpsert(ctx context.Context, key domain.TokenKey, fields FieldSet) error
}

// PoolSnapshotStore provides access to the append-only pool history.
type PoolSnapshotStore interface {
	// Insert adds a snapshot. Re-inserting the same (token, timestamp, source)
	// replaces the earlier row.
	Insert(ctx context.Context, s *domain.PoolSnapshot) error

	// GetByTokenKey retrieves snapshots within [from, to] (inclusive, Unix ms),
	// ordered by timestamp ASC.
	GetByTokenKey(ctx context.Context, tokenKey string, from, to int64) ([]*domain.PoolSnapshot, error)
}

// MetricsCache holds the most recent computed fields per token for cheap reads.
type MetricsCache interface {
	// SetLatest stores fields for the token, replacing the previous entry.
	SetLatest(ctx context.Context, tokenKey string, fields FieldSet) error

	// GetLatest returns the cached fields. Returns ErrNotFound on a miss.
	GetLatest(ctx context.Context, tokenKey string) (map[string]json.RawMessage, error)
}
