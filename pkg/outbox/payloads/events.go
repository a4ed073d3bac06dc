package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/pkg/enums"
)

// OrderCreatedEvent announces a new pending order and its priced quote.
type OrderCreatedEvent struct {
	OrderID         uuid.UUID       `json:"order_id"`
	OwnerID         string          `json:"owner_id"`
	FlightNumber    string          `json:"flight_number"`
	FlightDate      string          `json:"flight_date"`
	SAFVolumeLiters decimal.Decimal `json:"saf_volume_liters"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
}

// OrderStatusChangedEvent is emitted for every lifecycle transition after creation.
type OrderStatusChangedEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	OwnerID       string            `json:"owner_id,omitempty"`
	From          enums.OrderStatus `json:"from"`
	To            enums.OrderStatus `json:"to"`
	PaymentID     *uuid.UUID        `json:"payment_id,omitempty"`
	CertificateID *uuid.UUID        `json:"certificate_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	ChangedAt     time.Time         `json:"changed_at"`
}

// PaymentRefundedEvent records a confirmed gateway refund.
type PaymentRefundedEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	OrderID        uuid.UUID           `json:"order_id"`
	Amount         decimal.Decimal     `json:"amount"`
	RefundedAmount decimal.Decimal     `json:"refunded_amount"`
	Status         enums.PaymentStatus `json:"status"`
	Reason         string              `json:"reason,omitempty"`
}

// CertificateIssuedEvent announces a registered certificate.
type CertificateIssuedEvent struct {
	CertificateID     uuid.UUID       `json:"certificate_id"`
	OrderID           uuid.UUID       `json:"order_id"`
	OwnerID           string          `json:"owner_id,omitempty"`
	CertificateNumber string          `json:"certificate_number"`
	RegistryID        string          `json:"registry_id"`
	SAFVolumeLiters   decimal.Decimal `json:"saf_volume_liters"`
	IssuedAt          time.Time       `json:"issued_at"`
}
