package metrics

import "github.com/shopspring/decimal"

// Health classifies a pool by its imbalance percentage.
type Health string

const (
	HealthExcellent Health = "Excellent"
	HealthGood      Health = "Good"
	HealthFair      Health = "Fair"
	HealthPoor      Health = "Poor"
	HealthCritical  Health = "Critical"
)

// Upper bounds (inclusive) of each health band, in imbalance percent.
var healthBands = []struct {
	max    decimal.Decimal
	health Health
}{
	{decimal.NewFromInt(1), HealthExcellent},
	{decimal.NewFromInt(3), HealthGood},
	{decimal.NewFromInt(5), HealthFair},
	{decimal.NewFromInt(10), HealthPoor},
}

// ClassifyHealth maps an imbalance percentage to a Health band.
func ClassifyHealth(imbalancePct decimal.Decimal) Health {
	for _, b := range healthBands {
		if imbalancePct.LessThanOrEqual(b.max) {
			return b.health
		}
	}
	return HealthCritical
}
