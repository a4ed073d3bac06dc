package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPlatformFee(t *testing.T) {
	cases := map[string]string{
		"100":     "3.5",
		"2722.50": "95.29",
		"0.01":    "0",
		"1234.56": "43.21",
	}
	for total, want := range cases {
		got := PlatformFee(decimal.RequireFromString(total))
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "PlatformFee(%s) = %s, want %s", total, got, want)
	}
}

func TestCustomerPaymentFromFeeInvertsPlatformFee(t *testing.T) {
	assert.True(t, CustomerPaymentFromFee(decimal.RequireFromString("3.50")).Equal(decimal.NewFromInt(100)))

	for _, raw := range []string{"100", "2000", "50000", "200"} {
		total := decimal.RequireFromString(raw)
		back := CustomerPaymentFromFee(PlatformFee(total))
		assert.True(t, back.Equal(total), "round trip of %s gave %s", raw, back)
	}
}

func TestCommissionRate(t *testing.T) {
	assert.Equal(t, "0.035", commissionRate.String())
}
