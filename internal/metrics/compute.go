package metrics

import (
	"errors"

	"github.com/shopspring/decimal"
)

// DivisionScale is the number of fractional digits kept by every division.
// 40 places keeps well over 28 significant digits for realistic reserves.
const DivisionScale = 40

// ErrZeroReserve is returned when a pool side is empty or negative.
var ErrZeroReserve = errors.New("pool reserve must be positive")

var hundred = decimal.NewFromInt(100)

// PoolReserves holds the raw amounts on both sides of an AMM pool.
// Base is the native-asset side (XRP), Quote is the token side.
type PoolReserves struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// PoolMetrics are the values derived from one pool observation.
type PoolMetrics struct {
	SpotPrice        decimal.Decimal // base per quote
	PricePerBase     decimal.Decimal // quote per base
	MarketCap        decimal.Decimal // zero when supply is unknown
	QuoteValueInBase decimal.Decimal
	TotalLiquidity   decimal.Decimal
	BasePct          decimal.Decimal
	QuotePct         decimal.Decimal
	Imbalance        decimal.Decimal
	ImbalancePct     decimal.Decimal
	Health           Health
}

// ComputePool derives prices, liquidity split and health from reserves.
// A missing supply yields a zero market cap.
func ComputePool(r PoolReserves, supply decimal.NullDecimal) (PoolMetrics, error) {
	if !r.Base.IsPositive() || !r.Quote.IsPositive() {
		return PoolMetrics{}, ErrZeroReserve
	}

	spot := div(r.Base, r.Quote)
	perBase := div(r.Quote, r.Base)

	quoteValue := r.Quote.Mul(spot)
	total := r.Base.Add(quoteValue)
	imbalance := r.Base.Sub(quoteValue).Abs()
	imbalancePct := pct(imbalance, total)

	return PoolMetrics{
		SpotPrice:        spot,
		PricePerBase:     perBase,
		MarketCap:        MarketCapFromPrice(spot, supply),
		QuoteValueInBase: quoteValue,
		TotalLiquidity:   total,
		BasePct:          pct(r.Base, total),
		QuotePct:         pct(quoteValue, total),
		Imbalance:        imbalance,
		ImbalancePct:     imbalancePct,
		Health:           ClassifyHealth(imbalancePct),
	}, nil
}

// MarketCapFromPrice returns price * supply, or zero without a supply.
func MarketCapFromPrice(price decimal.Decimal, supply decimal.NullDecimal) decimal.Decimal {
	if !supply.Valid {
		return decimal.Zero
	}
	return price.Mul(supply.Decimal)
}

// FormatDecimal renders d in plain fixed-point notation.
func FormatDecimal(d decimal.Decimal) string {
	return d.String()
}

// div divides at DivisionScale. Caller guarantees b != 0.
func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, DivisionScale)
}

// pct returns part/whole*100, or zero when whole is zero.
func pct(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return div(part.Mul(hundred), whole)
}
