package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/storefront/internal/domain"
)

// OfferPrice returns the effective unit price of product in minor units. An active
// offer rounds the discounted price to whole major units.
func OfferPrice(product domain.Product, now time.Time) int64 {
	if !product.Offer.ActiveAt(now) {
		return domain.ToMinorUnits(product.Price)
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(product.Offer.DiscountPercentage).Div(decimal.NewFromInt(100)))
	discounted := decimal.NewFromFloat(product.Price).Mul(factor).Round(0)
	return discounted.Mul(decimal.NewFromInt(100)).IntPart()
}

// ShippingTotal sums the shipping charge of every line. Shipping is per line, not
// per unit.
func ShippingTotal(state State) int64 {
	var total int64
	for _, item := range state.Items {
		total += item.ShippingCharges
	}
	return total
}

// FinalTotal is the cart total plus shipping.
func FinalTotal(state State) int64 {
	return state.TotalAmount + ShippingTotal(state)
}
