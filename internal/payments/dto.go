package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
)

// CheckoutRequest asks the gateway for a hosted checkout page.
type CheckoutRequest struct {
	PaymentID   uuid.UUID
	OrderID     uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
	ExpiresAt   time.Time
}

// CheckoutSession is the gateway's handle for a hosted checkout page.
type CheckoutSession struct {
	SessionID       string
	URL             string
	PaymentIntentID string
}

// RefundRequest returns money for a settled payment.
type RefundRequest struct {
	PaymentID       uuid.UUID
	PaymentIntentID string
	Amount          decimal.Decimal
	Reason          string
	IdempotencyKey  string
}

// RefundConfirmation is the gateway's acknowledgement of a refund.
type RefundConfirmation struct {
	RefundID string
	Status   string
}

// Session is returned to the customer after a checkout was opened.
type Session struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	SessionID string          `json:"session_id"`
	URL       string          `json:"checkout_url"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Callback is a normalized gateway notification about a checkout session.
type Callback struct {
	SessionID       string
	PaymentIntentID string
	Outcome         enums.GatewayOutcome
	FailureReason   string
}

// CallbackResult reports what a callback changed. Discarded is true when
// the callback arrived after the order or payment had already settled.
type CallbackResult struct {
	PaymentID          uuid.UUID           `json:"payment_id"`
	OrderID            uuid.UUID           `json:"order_id"`
	PaymentStatus      enums.PaymentStatus `json:"payment_status"`
	OrderStatus        enums.OrderStatus   `json:"order_status"`
	Discarded          bool                `json:"discarded"`
	CertificateID      *uuid.UUID          `json:"certificate_id,omitempty"`
	CertificatePending bool                `json:"certificate_pending,omitempty"`
}

// RefundInput describes a refund request. A nil Amount refunds the
// remaining balance.
type RefundInput struct {
	PaymentID uuid.UUID
	Amount    *decimal.Decimal
	Reason    string
}

// PaymentView is the API projection of a payment row.
type PaymentView struct {
	ID             uuid.UUID           `json:"id"`
	OrderID        uuid.UUID           `json:"order_id"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	Status         enums.PaymentStatus `json:"status"`
	FeeAmount      decimal.Decimal     `json:"fee_amount"`
	NetAmount      decimal.Decimal     `json:"net_amount"`
	RefundedAmount decimal.Decimal     `json:"refunded_amount"`
	CheckoutURL    *string             `json:"checkout_url,omitempty"`
	FailureReason  *string             `json:"failure_reason,omitempty"`
	RefundReason   *string             `json:"refund_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	SucceededAt    *time.Time          `json:"succeeded_at,omitempty"`
	RefundedAt     *time.Time          `json:"refunded_at,omitempty"`
}

// View projects a payment for API responses. Gateway identifiers stay internal.
func View(p *models.Payment) PaymentView {
	return PaymentView{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Status:         p.Status,
		FeeAmount:      p.FeeAmount,
		NetAmount:      p.NetAmount,
		RefundedAmount: p.RefundedAmount,
		CheckoutURL:    p.CheckoutURL,
		FailureReason:  p.FailureReason,
		RefundReason:   p.RefundReason,
		CreatedAt:      p.CreatedAt,
		SucceededAt:    p.SucceededAt,
		RefundedAt:     p.RefundedAt,
	}
}
