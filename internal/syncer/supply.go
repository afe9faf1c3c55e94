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

// SupplyVariant refreshes total supply from the issuer's obligations and
// recomputes market cap from the stored spot price.
type SupplyVariant struct {
	client    *failover.Client
	nodes     []failover.Endpoint
	threshold decimal.Decimal
}

// NewSupplyVariant creates the supply variant.
func NewSupplyVariant(client *failover.Client, nodes []failover.Endpoint, threshold decimal.Decimal) *SupplyVariant {
	return &SupplyVariant{client: client, nodes: nodes, threshold: threshold}
}

func (v *SupplyVariant) Name() string { return "supply" }

func (v *SupplyVariant) Filter() storage.Filter {
	return storage.Filter{Exists: []string{domain.FieldIssuer, domain.FieldCurrency}}
}

func (v *SupplyVariant) Fields() []string {
	return []string{
		domain.FieldIssuer,
		domain.FieldCurrency,
		domain.FieldSpotPrice,
		domain.FieldKingOfTheHill,
	}
}

func (v *SupplyVariant) Eligible(tok *domain.Token) bool {
	return tok.Issuer != "" && tok.Currency != ""
}

func (v *SupplyVariant) Sync(ctx context.Context, tok *domain.Token, now time.Time) (*Update, error) {
	if err := ledger.ValidateAddress(tok.Issuer); err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}

	res, err := failover.Do(ctx, v.client, v.nodes, ledger.GatewayBalancesRequest(tok.Issuer), ledger.DecodeGatewayBalances)
	if err != nil {
		return nil, fmt.Errorf("gateway_balances %s: %w", tok.Issuer, err)
	}
	supply := res.Value.Supply(tok.Currency)

	upd := &Update{
		Fields: storage.FieldSet{
			domain.FieldTotalSupply:  supply,
			domain.FieldLastSyncedAt: now.UnixMilli(),
		},
	}

	if tok.SpotPrice.Valid {
		mc := metrics.MarketCapFromPrice(tok.SpotPrice.Decimal, decimal.NewNullDecimal(supply))
		upd.Fields[domain.FieldMarketCap] = mc
		upd.MarketCap = mc
		crown(upd, tok, mc, v.threshold, now)
	}
	return upd, nil
}
