package domain

// TaxPercent is the flat tax applied on top of the base price.
const TaxPercent = 10

// OrderPricing captures the amounts charged for a subscription order, in the smallest currency unit.
type OrderPricing struct {
	PricePerDay int64
	Durations   int
	Price       int64
	Tax         int64
	Total       int64
}
