package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenKey identifies a token by issuer account and currency code.
type TokenKey struct {
	Issuer   string // classic address of the issuing account
	Currency string // 3-char ISO code or 40-char hex code
}

// String returns the canonical store key: "<issuer>:<currency>".
func (k TokenKey) String() string {
	return k.Issuer + ":" + k.Currency
}

// IsZero reports whether the key has no issuer and no currency.
func (k TokenKey) IsZero() bool {
	return k.Issuer == "" && k.Currency == ""
}

// ParseTokenKey parses a key produced by TokenKey.String.
func ParseTokenKey(s string) (TokenKey, error) {
	issuer, currency, ok := strings.Cut(s, ":")
	if !ok || issuer == "" || currency == "" {
		return TokenKey{}, fmt.Errorf("invalid token key %q", s)
	}
	return TokenKey{Issuer: issuer, Currency: currency}, nil
}

// Token is the persistent token/pool record. Fields map 1:1 to document
// fields in the record store; see the Field* constants.
//
// Decimal fields are serialized as quoted fixed-point strings.
type Token struct {
	Key TokenKey `json:"-"`

	Issuer      string              `json:"issuer,omitempty"`
	Currency    string              `json:"currency,omitempty"`
	Name        string              `json:"name,omitempty"`
	TotalSupply decimal.NullDecimal `json:"totalSupply"`
	PoolAddress string              `json:"poolAddress,omitempty"`

	SpotPrice      decimal.NullDecimal `json:"spotPrice"`
	PricePerBase   decimal.NullDecimal `json:"pricePerBase"`
	MarketCap      decimal.NullDecimal `json:"marketCap"`
	TotalLiquidity decimal.NullDecimal `json:"totalLiquidity"`
	BaseAmount     decimal.NullDecimal `json:"baseAmount"`
	QuoteAmount    decimal.NullDecimal `json:"quoteAmount"`
	BasePct        decimal.NullDecimal `json:"basePct"`
	QuotePct       decimal.NullDecimal `json:"quotePct"`
	ImbalancePct   decimal.NullDecimal `json:"imbalancePct"`
	PoolHealth     string              `json:"poolHealth,omitempty"`
	Volume24h      decimal.NullDecimal `json:"volume24h"`

	PriceChange1h  decimal.NullDecimal `json:"priceChange1h"`
	PriceChange24h decimal.NullDecimal `json:"priceChange24h"`
	PriceChange7d  decimal.NullDecimal `json:"priceChange7d"`

	PriceHistory  []PricePoint   `json:"priceHistory,omitempty"`
	KingOfTheHill *KingOfTheHill `json:"kingOfTheHill,omitempty"`
	LastSyncedAt  int64          `json:"lastSyncedAt,omitempty"` // Unix ms
}

// HasPool reports whether pool-liquidity sync applies to the token.
func (t *Token) HasPool() bool {
	return t.PoolAddress != ""
}

// PricePoint is one entry of the trailing price history.
type PricePoint struct {
	Timestamp int64           `json:"timestamp"` // Unix ms
	Price     decimal.Decimal `json:"price"`
}

// KingOfTheHill is a write-once status awarded when market cap first crosses
// the configured threshold.
type KingOfTheHill struct {
	Label     string `json:"label"`
	Timestamp int64  `json:"timestamp"` // Unix ms
}

// KingOfTheHillLabel is the label stored on newly crowned tokens.
const KingOfTheHillLabel = "King of the Hill"
