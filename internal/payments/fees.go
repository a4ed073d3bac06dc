package payments

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/pkg/config"
)

// FeeModel is the gateway's percentage-plus-fixed processing charge.
type FeeModel struct {
	Percent decimal.Decimal
	Fixed   decimal.Decimal
}

// DefaultFeeModel is 2.9% + 0.30 per successful charge.
func DefaultFeeModel() FeeModel {
	return FeeModel{
		Percent: decimal.RequireFromString("0.029"),
		Fixed:   decimal.RequireFromString("0.30"),
	}
}

// FeeModelFromConfig parses the configured rates.
func FeeModelFromConfig(cfg config.PaymentsConfig) (FeeModel, error) {
	percent, err := decimal.NewFromString(cfg.FeePercent)
	if err != nil {
		return FeeModel{}, fmt.Errorf("parse payments fee percent: %w", err)
	}
	fixed, err := decimal.NewFromString(cfg.FeeFixed)
	if err != nil {
		return FeeModel{}, fmt.Errorf("parse payments fixed fee: %w", err)
	}
	if percent.IsNegative() || percent.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeModel{}, fmt.Errorf("payments fee percent must be in [0, 1)")
	}
	if fixed.IsNegative() {
		return FeeModel{}, fmt.Errorf("payments fixed fee must not be negative")
	}
	return FeeModel{Percent: percent, Fixed: fixed}, nil
}

// GatewayFee is amount × percent + fixed, rounded to cents.
func (f FeeModel) GatewayFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(f.Percent).Add(f.Fixed).Round(2)
}

// NetAmount is what the platform receives after the gateway fee.
func (f FeeModel) NetAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(f.GatewayFee(amount)).Round(2)
}
