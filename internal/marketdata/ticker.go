package marketdata

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/failover"
)

// Ticker is the market summary of one token, priced in XRP.
type Ticker struct {
	Price     decimal.Decimal
	Volume24h decimal.Decimal
	Supply    decimal.NullDecimal
}

type tickerBody struct {
	Price     *decimal.Decimal    `json:"price"`
	Volume24h decimal.NullDecimal `json:"volume24h"`
	Supply    decimal.NullDecimal `json:"supply"`
}

// TickerRequest builds the ticker request for a token.
func TickerRequest(key domain.TokenKey) failover.Request {
	return failover.Request{
		Command: CommandTicker,
		Params: map[string]any{
			"issuer":   key.Issuer,
			"currency": key.Currency,
		},
	}
}

// DecodeTicker decodes a ticker body. Numbers may be JSON numbers or strings.
func DecodeTicker(raw json.RawMessage) (Ticker, error) {
	var b tickerBody
	if err := json.Unmarshal(raw, &b); err != nil {
		return Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	if b.Price == nil {
		return Ticker{}, errors.New("ticker has no price")
	}
	if b.Price.IsNegative() {
		return Ticker{}, fmt.Errorf("ticker price %s is negative", b.Price)
	}
	t := Ticker{Price: *b.Price, Supply: b.Supply}
	if b.Volume24h.Valid {
		t.Volume24h = b.Volume24h.Decimal
	}
	return t, nil
}
