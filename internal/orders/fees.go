package orders

import "github.com/shopspring/decimal"

// commissionRate is the platform's share of every order total.
var commissionRate = decimal.RequireFromString("0.035")

// PlatformFee is the commission earned on an order total, rounded to cents.
func PlatformFee(total decimal.Decimal) decimal.Decimal {
	return total.Mul(commissionRate).Round(2)
}

// CustomerPaymentFromFee recovers the order total a commission was taken
// from. It is the inverse of PlatformFee up to cent rounding.
func CustomerPaymentFromFee(fee decimal.Decimal) decimal.Decimal {
	return fee.Div(commissionRate).Round(2)
}
