package metrics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
)

// HistoryWindow is how far back price history is retained.
const HistoryWindow = 7 * 24 * time.Hour

// Standard price change windows.
const (
	Window1h  = time.Hour
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
)

// AppendHistory returns a new history with p inserted in timestamp order and
// entries older than now-HistoryWindow removed. An existing entry with the
// same timestamp is replaced. The most recent entry always survives pruning.
// The input slice is not modified.
func AppendHistory(history []domain.PricePoint, p domain.PricePoint, now time.Time) []domain.PricePoint {
	out := make([]domain.PricePoint, 0, len(history)+1)
	out = append(out, history...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	idx := sort.Search(len(out), func(i int) bool {
		return out[i].Timestamp >= p.Timestamp
	})
	if idx < len(out) && out[idx].Timestamp == p.Timestamp {
		out[idx] = p
	} else {
		out = append(out, domain.PricePoint{})
		copy(out[idx+1:], out[idx:])
		out[idx] = p
	}

	return pruneHistory(out, now)
}

// pruneHistory drops entries older than the window from a sorted history,
// keeping at least the last entry.
func pruneHistory(sorted []domain.PricePoint, now time.Time) []domain.PricePoint {
	if len(sorted) == 0 {
		return sorted
	}
	cutoff := now.Add(-HistoryWindow).UnixMilli()
	first := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].Timestamp >= cutoff
	})
	if first == len(sorted) {
		first = len(sorted) - 1
	}
	return sorted[first:]
}

// PercentChange compares current against the oldest history entry inside
// the window ending at now. Returns zero when no entry qualifies or the
// reference price is zero.
func PercentChange(history []domain.PricePoint, current decimal.Decimal, window time.Duration, now time.Time) decimal.Decimal {
	cutoff := now.Add(-window).UnixMilli()

	var (
		past   decimal.Decimal
		found  bool
		oldest int64
	)
	for _, p := range history {
		if p.Timestamp < cutoff {
			continue
		}
		if !found || p.Timestamp < oldest {
			past, oldest, found = p.Price, p.Timestamp, true
		}
	}
	if !found || past.IsZero() {
		return decimal.Zero
	}
	return div(current.Sub(past).Mul(hundred), past)
}

// PriceChanges holds the standard 1h / 24h / 7d changes.
type PriceChanges struct {
	Change1h  decimal.Decimal
	Change24h decimal.Decimal
	Change7d  decimal.Decimal
}

// ComputePriceChanges evaluates PercentChange over the standard windows.
func ComputePriceChanges(history []domain.PricePoint, current decimal.Decimal, now time.Time) PriceChanges {
	return PriceChanges{
		Change1h:  PercentChange(history, current, Window1h, now),
		Change24h: PercentChange(history, current, Window24h, now),
		Change7d:  PercentChange(history, current, Window7d, now),
	}
}
