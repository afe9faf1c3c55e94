package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/observability"
	"xrpl-token-sync/internal/storage"
)

// PoolSnapshotStore implements storage.PoolSnapshotStore using ClickHouse.
//
// The table is a ReplacingMergeTree keyed by (token_key, timestamp_ms, source);
// reads use FINAL so a re-inserted key is returned once.
type PoolSnapshotStore struct {
	conn    *Conn
	metrics *observability.Metrics
}

// NewPoolSnapshotStore creates a new PoolSnapshotStore. metrics may be nil.
func NewPoolSnapshotStore(conn *Conn, metrics *observability.Metrics) *PoolSnapshotStore {
	return &PoolSnapshotStore{conn: conn, metrics: metrics}
}

// Compile-time interface check.
var _ storage.PoolSnapshotStore = (*PoolSnapshotStore)(nil)

// Insert adds one snapshot.
func (s *PoolSnapshotStore) Insert(ctx context.Context, snap *domain.PoolSnapshot) error {
	if snap == nil || snap.TokenKey == "" || snap.TimestampMs < 0 {
		return storage.ErrInvalidInput
	}
	return s.InsertBulk(ctx, []*domain.PoolSnapshot{snap})
}

// InsertBulk adds snapshots in one batch.
func (s *PoolSnapshotStore) InsertBulk(ctx context.Context, snaps []*domain.PoolSnapshot) (err error) {
	if len(snaps) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.metrics.RecordStoreOp("clickhouse", "insert", time.Since(start), err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pool_snapshots (
			token_key, timestamp_ms, source, base_amount, quote_amount,
			spot_price, market_cap, total_liquidity, imbalance_pct, health
		)
	`)
	if err != nil {
		return &storage.PersistenceError{Op: "prepare snapshot batch", Err: err}
	}
	defer batch.Abort()

	for _, p := range snaps {
		if p == nil || p.TokenKey == "" || p.TimestampMs < 0 {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			p.TokenKey, uint64(p.TimestampMs), p.Source,
			p.BaseAmount, p.QuoteAmount, p.SpotPrice,
			p.MarketCap, p.TotalLiquidity, p.ImbalancePct, p.Health,
		)
		if err != nil {
			return &storage.PersistenceError{Op: "append snapshot", Key: p.TokenKey, Err: err}
		}
	}

	if err := batch.Send(); err != nil {
		return &storage.PersistenceError{Op: "send snapshot batch", Err: err}
	}
	return nil
}

// GetByTokenKey retrieves snapshots within [from, to] (inclusive), ordered by timestamp ASC.
func (s *PoolSnapshotStore) GetByTokenKey(ctx context.Context, tokenKey string, from, to int64) (result []*domain.PoolSnapshot, err error) {
	if from < 0 {
		from = 0
	}
	if to < from {
		return nil, nil
	}
	start := time.Now()
	defer func() { s.metrics.RecordStoreOp("clickhouse", "get_by_token_key", time.Since(start), err) }()

	query := `
		SELECT token_key, timestamp_ms, source, base_amount, quote_amount,
			spot_price, market_cap, total_liquidity, imbalance_pct, health
		FROM pool_snapshots FINAL
		WHERE token_key = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, source ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenKey, uint64(from), uint64(to))
	if err != nil {
		return nil, &storage.PersistenceError{Op: "query snapshots", Key: tokenKey, Err: err}
	}
	defer rows.Close()

	return scanPoolSnapshots(rows)
}

func scanPoolSnapshots(rows chRows) ([]*domain.PoolSnapshot, error) {
	var snaps []*domain.PoolSnapshot

	for rows.Next() {
		var p domain.PoolSnapshot
		var timestampMs uint64

		err := rows.Scan(
			&p.TokenKey, &timestampMs, &p.Source,
			&p.BaseAmount, &p.QuoteAmount, &p.SpotPrice,
			&p.MarketCap, &p.TotalLiquidity, &p.ImbalancePct, &p.Health,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pool snapshot row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		snaps = append(snaps, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(storage.ErrPersistence, fmt.Errorf("iterate pool snapshot rows: %w", err))
	}

	return snaps, nil
}
