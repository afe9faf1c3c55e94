package domain

import "github.com/shopspring/decimal"

// PoolSnapshot is one computed observation of a token's pool or ticker.
// Corresponds to pool_snapshots table in ClickHouse.
type PoolSnapshot struct {
	TokenKey       string          // TokenKey.String()
	TimestampMs    int64           // observation time (ms)
	Source         string          // variant that produced the snapshot
	BaseAmount     decimal.Decimal // base reserve (zero for ticker snapshots)
	QuoteAmount    decimal.Decimal // quote reserve (zero for ticker snapshots)
	SpotPrice      decimal.Decimal
	MarketCap      decimal.Decimal
	TotalLiquidity decimal.Decimal
	ImbalancePct   decimal.Decimal
	Health         string
}

// CrownEvent is published when a token is first awarded King of the Hill.
type CrownEvent struct {
	EventID   string          `json:"eventId"`
	TokenKey  string          `json:"tokenKey"`
	Label     string          `json:"label"`
	MarketCap decimal.Decimal `json:"marketCap"`
	CrownedAt int64           `json:"crownedAt"` // Unix ms
}
