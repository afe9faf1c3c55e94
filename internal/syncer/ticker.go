package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/failover"
	"xrpl-token-sync/internal/marketdata"
	"xrpl-token-sync/internal/metrics"
	"xrpl-token-sync/internal/storage"
)

// TickerVariant prices tokens without an AMM pool from the HTTP data API.
type TickerVariant struct {
	client    *failover.Client
	apis      []failover.Endpoint
	threshold decimal.Decimal
}

// NewTickerVariant creates the ticker variant. apis are tried in order and
// should be rate limited.
func NewTickerVariant(client *failover.Client, apis []failover.Endpoint, threshold decimal.Decimal) *TickerVariant {
	return &TickerVariant{client: client, apis: apis, threshold: threshold}
}

func (v *TickerVariant) Name() string { return "ticker" }

func (v *TickerVariant) Filter() storage.Filter {
	return storage.Filter{Missing: []string{domain.FieldPoolAddress}}
}

func (v *TickerVariant) Fields() []string {
	return []string{
		domain.FieldPoolAddress,
		domain.FieldTotalSupply,
		domain.FieldPriceHistory,
		domain.FieldKingOfTheHill,
	}
}

func (v *TickerVariant) Eligible(tok *domain.Token) bool {
	return !tok.HasPool()
}

func (v *TickerVariant) Sync(ctx context.Context, tok *domain.Token, now time.Time) (*Update, error) {
	res, err := failover.Do(ctx, v.client, v.apis, marketdata.TickerRequest(tok.Key), marketdata.DecodeTicker)
	if err != nil {
		return nil, fmt.Errorf("ticker %s: %w", tok.Key, err)
	}
	t := res.Value

	fields := storage.FieldSet{
		domain.FieldSpotPrice:    t.Price,
		domain.FieldVolume24h:    t.Volume24h,
		domain.FieldLastSyncedAt: now.UnixMilli(),
	}

	// The stored supply wins; the API's figure fills a gap.
	supply := tok.TotalSupply
	if !supply.Valid && t.Supply.Valid {
		supply = t.Supply
		fields[domain.FieldTotalSupply] = t.Supply.Decimal
	}
	mc := metrics.MarketCapFromPrice(t.Price, supply)
	fields[domain.FieldMarketCap] = mc

	history := metrics.AppendHistory(tok.PriceHistory, domain.PricePoint{
		Timestamp: now.UnixMilli(),
		Price:     t.Price,
	}, now)
	changes := metrics.ComputePriceChanges(history, t.Price, now)
	fields[domain.FieldPriceHistory] = history
	fields[domain.FieldPriceChange1h] = changes.Change1h
	fields[domain.FieldPriceChange24h] = changes.Change24h
	fields[domain.FieldPriceChange7d] = changes.Change7d

	upd := &Update{
		Fields: fields,
		Snapshot: &domain.PoolSnapshot{
			TokenKey:    tok.Key.String(),
			TimestampMs: now.UnixMilli(),
			Source:      v.Name(),
			SpotPrice:   t.Price,
			MarketCap:   mc,
		},
		MarketCap: mc,
	}
	crown(upd, tok, mc, v.threshold, now)
	return upd, nil
}
