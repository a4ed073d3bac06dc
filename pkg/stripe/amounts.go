package stripe

import "github.com/shopspring/decimal"

var centsPerUnit = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to the integer cents Stripe expects.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(centsPerUnit).Round(0).IntPart()
}

// FromMinorUnits converts Stripe cents back to a major-unit amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(centsPerUnit).Round(2)
}
