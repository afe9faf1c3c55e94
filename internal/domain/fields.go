package domain

// Document field names of the token record. Merge-upserts address fields by
// these names, so they must match the json tags on Token.
const (
	FieldIssuer         = "issuer"
	FieldCurrency       = "currency"
	FieldName           = "name"
	FieldTotalSupply    = "totalSupply"
	FieldPoolAddress    = "poolAddress"
	FieldSpotPrice      = "spotPrice"
	FieldPricePerBase   = "pricePerBase"
	FieldMarketCap      = "marketCap"
	FieldTotalLiquidity = "totalLiquidity"
	FieldBaseAmount     = "baseAmount"
	FieldQuoteAmount    = "quoteAmount"
	FieldBasePct        = "basePct"
	FieldQuotePct       = "quotePct"
	FieldImbalancePct   = "imbalancePct"
	FieldPoolHealth     = "poolHealth"
	FieldVolume24h      = "volume24h"
	FieldPriceChange1h  = "priceChange1h"
	FieldPriceChange24h = "priceChange24h"
	FieldPriceChange7d  = "priceChange7d"
	FieldPriceHistory   = "priceHistory"
	FieldKingOfTheHill  = "kingOfTheHill"
	FieldLastSyncedAt   = "lastSyncedAt"
)
