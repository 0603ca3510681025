package services

import (
	"errors"
	"fmt"
	"math"

	domain "github.com/maherkar/api/internal/domain"
)

// ErrPricingInvalidInput signals a duration or plan price that cannot be priced.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// PriceSubscription computes the base price, tax and total for buying durations days of plan.
// Amounts use integer floor arithmetic in the plan's currency unit.
func PriceSubscription(plan domain.SubscriptionPlan, durations int) (domain.OrderPricing, error) {
	if durations < 1 {
		return domain.OrderPricing{}, fmt.Errorf("%w: duration must be at least one day", ErrPricingInvalidInput)
	}
	if plan.PricePerDay < 0 {
		return domain.OrderPricing{}, fmt.Errorf("%w: plan price per day must not be negative", ErrPricingInvalidInput)
	}

	days := int64(durations)
	if plan.PricePerDay > 0 && days > math.MaxInt64/plan.PricePerDay {
		return domain.OrderPricing{}, fmt.Errorf("%w: price overflows", ErrPricingInvalidInput)
	}
	price := days * plan.PricePerDay
	if price > math.MaxInt64/domain.TaxPercent {
		return domain.OrderPricing{}, fmt.Errorf("%w: tax overflows", ErrPricingInvalidInput)
	}
	tax := price * domain.TaxPercent / 100

	return domain.OrderPricing{
		PricePerDay: plan.PricePerDay,
		Durations:   durations,
		Price:       price,
		Tax:         tax,
		Total:       price + tax,
	}, nil
}
