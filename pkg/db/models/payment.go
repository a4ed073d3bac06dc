package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/pkg/enums"
)

// Payment is one checkout attempt against an order.
type Payment struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID                uuid.UUID           `gorm:"column:order_id;type:uuid;not null"`
	Amount                 decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency               string              `gorm:"column:currency;type:char(3);not null"`
	Status                 enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	GatewaySessionID       *string             `gorm:"column:gateway_session_id"`
	GatewayPaymentIntentID *string             `gorm:"column:gateway_payment_intent_id"`
	CheckoutURL            *string             `gorm:"column:checkout_url"`
	FeeAmount              decimal.Decimal     `gorm:"column:fee_amount;type:numeric(12,2);not null"`
	NetAmount              decimal.Decimal     `gorm:"column:net_amount;type:numeric(12,2);not null"`
	RefundedAmount         decimal.Decimal     `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`
	FailureReason          *string             `gorm:"column:failure_reason"`
	RefundReason           *string             `gorm:"column:refund_reason"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	SucceededAt            *time.Time          `gorm:"column:succeeded_at"`
	RefundedAt             *time.Time          `gorm:"column:refunded_at"`
}

func (Payment) TableName() string { return "payments" }

// RefundableAmount is what is left to refund on a settled payment.
func (p Payment) RefundableAmount() decimal.Decimal {
	remaining := p.Amount.Sub(p.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}
