package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/failover"
	"xrpl-token-sync/internal/metrics"
)

// Command names.
const (
	CommandAMMInfo         = "amm_info"
	CommandGatewayBalances = "gateway_balances"
)

// ErrTokenNotInPool is returned when neither pool side is the requested token.
var ErrTokenNotInPool = errors.New("token is not a side of the pool")

// AMMInfoRequest builds an amm_info request addressed by the pool account.
func AMMInfoRequest(poolAccount string) failover.Request {
	return failover.Request{
		Command: CommandAMMInfo,
		Params: map[string]any{
			"amm_account":  poolAccount,
			"ledger_index": "validated",
		},
	}
}

// AMMInfo is the pool description returned by amm_info.
type AMMInfo struct {
	Account    string `json:"account"`
	Amount     Amount `json:"amount"`
	Amount2    Amount `json:"amount2"`
	LPToken    Amount `json:"lp_token"`
	TradingFee int    `json:"trading_fee"`
}

type ammInfoResult struct {
	AMM *AMMInfo `json:"amm"`
}

// DecodeAMMInfo decodes the result object of amm_info.
func DecodeAMMInfo(raw json.RawMessage) (AMMInfo, error) {
	var r ammInfoResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return AMMInfo{}, fmt.Errorf("decode amm_info: %w", err)
	}
	if r.AMM == nil {
		return AMMInfo{}, errors.New("amm_info result has no amm object")
	}
	return *r.AMM, nil
}

// Reserves orients the pool around token: the token side is Quote and the
// other side (XRP for most pools) is Base.
func (a AMMInfo) Reserves(token domain.TokenKey) (metrics.PoolReserves, error) {
	switch {
	case a.Amount2.Matches(token.Issuer, token.Currency):
		return metrics.PoolReserves{Base: a.Amount.Value, Quote: a.Amount2.Value}, nil
	case a.Amount.Matches(token.Issuer, token.Currency):
		return metrics.PoolReserves{Base: a.Amount2.Value, Quote: a.Amount.Value}, nil
	default:
		return metrics.PoolReserves{}, fmt.Errorf("%w: %s in %s", ErrTokenNotInPool, token, a.Account)
	}
}

// GatewayBalancesRequest builds a gateway_balances request for an issuer.
func GatewayBalancesRequest(issuer string) failover.Request {
	return failover.Request{
		Command: CommandGatewayBalances,
		Params: map[string]any{
			"account":      issuer,
			"ledger_index": "validated",
			"strict":       true,
		},
	}
}

// GatewayBalances lists what an issuer owes, by currency code.
type GatewayBalances struct {
	Account     string
	Obligations map[string]decimal.Decimal
}

type gatewayBalancesResult struct {
	Account     string            `json:"account"`
	Obligations map[string]string `json:"obligations"`
}

// DecodeGatewayBalances decodes the result object of gateway_balances.
func DecodeGatewayBalances(raw json.RawMessage) (GatewayBalances, error) {
	var r gatewayBalancesResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return GatewayBalances{}, fmt.Errorf("decode gateway_balances: %w", err)
	}
	if r.Account == "" {
		return GatewayBalances{}, errors.New("gateway_balances result has no account")
	}
	out := GatewayBalances{Account: r.Account, Obligations: make(map[string]decimal.Decimal, len(r.Obligations))}
	for cur, v := range r.Obligations {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return GatewayBalances{}, fmt.Errorf("obligation %s: %w", cur, err)
		}
		out.Obligations[cur] = d
	}
	return out, nil
}

// Supply returns the outstanding amount of currency. An issuer with no
// obligations in that currency has zero supply.
func (g GatewayBalances) Supply(currency string) decimal.Decimal {
	if v, ok := g.Obligations[currency]; ok {
		return v
	}
	return decimal.Zero
}
