package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// XRPCurrency is the pseudo currency code of the native asset.
const XRPCurrency = "XRP"

// Native amounts are serialized as integer drops; 1 XRP = 10^6 drops.
const dropsExponent = 6

// Amount is a ledger amount: native XRP (drops string on the wire) or an
// issued currency object {currency, issuer, value}.
type Amount struct {
	Currency string
	Issuer   string
	Value    decimal.Decimal
}

// IsXRP reports whether the amount is in the native asset.
func (a Amount) IsXRP() bool {
	return a.Currency == XRPCurrency && a.Issuer == ""
}

// Matches reports whether the amount is denominated in the given issued token.
func (a Amount) Matches(issuer, currency string) bool {
	return a.Issuer == issuer && a.Currency == currency
}

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// UnmarshalJSON decodes either wire form. Drops are converted to XRP exactly.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var drops string
		if err := json.Unmarshal(b, &drops); err != nil {
			return err
		}
		d, err := decimal.NewFromString(drops)
		if err != nil {
			return fmt.Errorf("parse drops %q: %w", drops, err)
		}
		*a = Amount{Currency: XRPCurrency, Value: d.Shift(-dropsExponent)}
		return nil
	}

	var ia issuedAmount
	if err := json.Unmarshal(b, &ia); err != nil {
		return err
	}
	if ia.Currency == "" {
		return fmt.Errorf("issued amount without currency")
	}
	v, err := decimal.NewFromString(ia.Value)
	if err != nil {
		return fmt.Errorf("parse value %q: %w", ia.Value, err)
	}
	*a = Amount{Currency: ia.Currency, Issuer: ia.Issuer, Value: v}
	return nil
}

// MarshalJSON encodes the amount in wire form.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.IsXRP() {
		return json.Marshal(a.Value.Shift(dropsExponent).Truncate(0).String())
	}
	return json.Marshal(issuedAmount{Currency: a.Currency, Issuer: a.Issuer, Value: a.Value.String()})
}
