package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/failover"
	"xrpl-token-sync/internal/ledger"
	"xrpl-token-sync/internal/metrics"
	"xrpl-token-sync/internal/storage"
)

// PoolVariant refreshes AMM pool liquidity and prices for tokens that have a
// pool address.
type PoolVariant struct {
	client    *failover.Client
	nodes     []failover.Endpoint
	threshold decimal.Decimal
}

// NewPoolVariant creates the pool variant. nodes are tried in order.
func NewPoolVariant(client *failover.Client, nodes []failover.Endpoint, threshold decimal.Decimal) *PoolVariant {
	return &PoolVariant{client: client, nodes: nodes, threshold: threshold}
}

func (v *PoolVariant) Name() string { return "pool" }

func (v *PoolVariant) Filter() storage.Filter {
	return storage.Filter{Exists: []string{domain.FieldPoolAddress}}
}

func (v *PoolVariant) Fields() []string {
	return []string{
		domain.FieldPoolAddress,
		domain.FieldTotalSupply,
		domain.FieldPriceHistory,
		domain.FieldKingOfTheHill,
	}
}

func (v *PoolVariant) Eligible(tok *domain.Token) bool {
	return tok.HasPool()
}

func (v *PoolVariant) Sync(ctx context.Context, tok *domain.Token, now time.Time) (*Update, error) {
	if err := ledger.ValidateAddress(tok.PoolAddress); err != nil {
		return nil, fmt.Errorf("pool address: %w", err)
	}

	res, err := failover.Do(ctx, v.client, v.nodes, ledger.AMMInfoRequest(tok.PoolAddress), ledger.DecodeAMMInfo)
	if err != nil {
		return nil, fmt.Errorf("amm_info %s: %w", tok.PoolAddress, err)
	}

	reserves, err := res.Value.Reserves(tok.Key)
	if err != nil {
		return nil, err
	}

	pm, err := metrics.ComputePool(reserves, tok.TotalSupply)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", tok.PoolAddress, err)
	}

	history := metrics.AppendHistory(tok.PriceHistory, domain.PricePoint{
		Timestamp: now.UnixMilli(),
		Price:     pm.SpotPrice,
	}, now)
	changes := metrics.ComputePriceChanges(history, pm.SpotPrice, now)

	fields := storage.FieldSet{
		domain.FieldSpotPrice:      pm.SpotPrice,
		domain.FieldPricePerBase:   pm.PricePerBase,
		domain.FieldMarketCap:      pm.MarketCap,
		domain.FieldTotalLiquidity: pm.TotalLiquidity,
		domain.FieldBaseAmount:     reserves.Base,
		domain.FieldQuoteAmount:    reserves.Quote,
		domain.FieldBasePct:        pm.BasePct,
		domain.FieldQuotePct:       pm.QuotePct,
		domain.FieldImbalancePct:   pm.ImbalancePct,
		domain.FieldPoolHealth:     string(pm.Health),
		domain.FieldPriceHistory:   history,
		domain.FieldPriceChange1h:  changes.Change1h,
		domain.FieldPriceChange24h: changes.Change24h,
		domain.FieldPriceChange7d:  changes.Change7d,
		domain.FieldLastSyncedAt:   now.UnixMilli(),
	}

	upd := &Update{
		Fields: fields,
		Snapshot: &domain.PoolSnapshot{
			TokenKey:       tok.Key.String(),
			TimestampMs:    now.UnixMilli(),
			Source:         v.Name(),
			BaseAmount:     reserves.Base,
			QuoteAmount:    reserves.Quote,
			SpotPrice:      pm.SpotPrice,
			MarketCap:      pm.MarketCap,
			TotalLiquidity: pm.TotalLiquidity,
			ImbalancePct:   pm.ImbalancePct,
			Health:         string(pm.Health),
		},
		MarketCap: pm.MarketCap,
	}
	crown(upd, tok, pm.MarketCap, v.threshold, now)
	return upd, nil
}

// crown sets kingOfTheHill on upd when it is newly awarded.
func crown(upd *Update, tok *domain.Token, marketCap, threshold decimal.Decimal, now time.Time) {
	status, awarded := metrics.EvaluateKingOfTheHill(tok.KingOfTheHill, marketCap, threshold, now)
	if !awarded {
		return
	}
	upd.Fields[domain.FieldKingOfTheHill] = status
	upd.Crowned = status
}
