package metrics

import (
	"time"

	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
)

// DefaultKingOfTheHillThreshold is the market cap at which a token is crowned.
var DefaultKingOfTheHillThreshold = decimal.NewFromInt(58900)

// EvaluateKingOfTheHill returns the status the token should carry and whether
// it was newly awarded. An existing status is returned unchanged regardless of
// the current market cap.
func EvaluateKingOfTheHill(existing *domain.KingOfTheHill, marketCap, threshold decimal.Decimal, now time.Time) (*domain.KingOfTheHill, bool) {
	if existing != nil {
		return existing, false
	}
	if marketCap.LessThan(threshold) {
		return nil, false
	}
	return &domain.KingOfTheHill{
		Label:     domain.KingOfTheHillLabel,
		Timestamp: now.UnixMilli(),
	}, true
}
