package checkout

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// EffectivePrice applies a percentage discount and rounds to cents:
// round(price - discount*price/100, 2). Discounts outside 0..100 are clamped.
func EffectivePrice(price, discountPercent decimal.Decimal) decimal.Decimal {
	if discountPercent.IsNegative() {
		discountPercent = decimal.Zero
	}
	if discountPercent.GreaterThan(hundred) {
		discountPercent = hundred
	}
	off := price.Mul(discountPercent).Div(hundred)
	return price.Sub(off).Round(2)
}
