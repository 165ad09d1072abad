package store

import "github.com/shopspring/decimal"

var (
	taxRate               = decimal.NewFromFloat(0.08)
	freeShippingThreshold = decimal.NewFromInt(100)
	flatShippingFee       = decimal.NewFromInt(10)
)

type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// ComputeTotals derives the authoritative monetary breakdown from the line
// subtotal. Tax is a flat 8%; shipping is free at or above the threshold,
// otherwise a flat fee. Client-supplied totals are never trusted.
func ComputeTotals(subtotal, discount decimal.Decimal) Totals {
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	tax := subtotal.Mul(taxRate).Round(2)

	shipping := flatShippingFee
	if subtotal.GreaterThanOrEqual(freeShippingThreshold) {
		shipping = decimal.Zero
	}

	return Totals{
		Subtotal:    subtotal,
		Tax:         tax,
		ShippingFee: shipping,
		Discount:    discount,
		Total:       subtotal.Add(tax).Add(shipping).Sub(discount),
	}
}
