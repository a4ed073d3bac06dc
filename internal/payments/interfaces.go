package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/internal/orders"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
)

// Repository defines persistence operations for the payments table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	// CompareAndSetStatus moves a payment to status to when its current
	// status is one of from. It reports false when no row matched.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error)
	// RecordRefund applies a refund only if the status and refunded amount
	// are still the values the caller read.
	RecordRefund(ctx context.Context, id uuid.UUID, expected RefundSnapshot, next RefundSnapshot, reason string, at time.Time) (bool, error)
	FindStaleActive(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
}

// Gateway is the external payment processor.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ExpireCheckoutSession closes a session so the buyer can no longer pay
	// through it.
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	Refund(ctx context.Context, req RefundRequest) (*RefundConfirmation, error)
}

// CertificateIssuer fulfils paid orders.
type CertificateIssuer interface {
	IssueForOrder(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error)
}

type orderLifecycle interface {
	GetOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*models.Order, error)
	LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	BeginPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	RevertPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
	TransitionOnPaymentResult(ctx context.Context, tx *gorm.DB, result orders.PaymentResult) (*models.Order, error)
}

// RefundSnapshot is the pair of columns a refund swaps atomically.
type RefundSnapshot struct {
	Status         enums.PaymentStatus
	RefundedAmount decimal.Decimal
}
