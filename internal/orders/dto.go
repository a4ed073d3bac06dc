package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/internal/quotes"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	"github.com/safmarket/saf-backend/pkg/pagination"
)

// Actor is the already-authenticated caller.
type Actor struct {
	UserID string
	Role   enums.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// Owns reports whether the actor may see or act on the order.
func (a Actor) Owns(order *models.Order) bool {
	return order != nil && (a.IsAdmin() || order.OwnerID == a.UserID)
}

// CreateOrderInput carries everything needed to open an order.
type CreateOrderInput struct {
	OwnerID string
	Flight  flights.Input
	Quote   quotes.Quote
	Notes   *string
}

// PaymentResult is the gateway outcome applied to a processing order.
type PaymentResult struct {
	OrderID   uuid.UUID
	Success   bool
	PaymentID *uuid.UUID
	Reason    string
}

// SortField selects the list ordering column.
type SortField string

const (
	SortByCreated SortField = "created"
	SortByDate    SortField = "date"
	SortByAmount  SortField = "amount"
	SortByStatus  SortField = "status"
)

func (s SortField) IsValid() bool {
	switch s {
	case SortByCreated, SortByDate, SortByAmount, SortByStatus:
		return true
	default:
		return false
	}
}

// ListFilters are the normalized list inputs handed to the repository.
type ListFilters struct {
	OwnerID      *string
	Status       *enums.OrderStatus
	FlightPrefix string
	DateFrom     *time.Time
	DateTo       *time.Time
	Sort         SortField
	Desc         bool
	Page         pagination.Params
}

// ListInput is the raw list query from a caller.
type ListInput struct {
	OwnerID      string
	Status       string
	FlightNumber string
	DateFrom     string
	DateTo       string
	Sort         string
	Order        string
	Page         int
	Size         int
}

// OrderSummary is the API shape of an order.
type OrderSummary struct {
	ID                uuid.UUID         `json:"id"`
	OwnerID           string            `json:"owner_id"`
	FlightNumber      string            `json:"flight_number"`
	DepartureAirport  string            `json:"departure_airport"`
	ArrivalAirport    string            `json:"arrival_airport"`
	FlightDate        string            `json:"flight_date"`
	AircraftType      *string           `json:"aircraft_type,omitempty"`
	FlightEmissionsKg decimal.Decimal   `json:"flight_emissions_kg"`
	SAFVolumeLiters   decimal.Decimal   `json:"saf_volume_liters"`
	CarbonReductionKg decimal.Decimal   `json:"carbon_reduction_kg"`
	TotalPrice        decimal.Decimal   `json:"total_price"`
	PlatformFee       decimal.Decimal   `json:"platform_fee"`
	Currency          string            `json:"currency"`
	Notes             *string           `json:"notes,omitempty"`
	Status            enums.OrderStatus `json:"status"`
	CertificateID     *uuid.UUID        `json:"certificate_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// Summarize maps a persisted order to its API shape.
func Summarize(o *models.Order) OrderSummary {
	return OrderSummary{
		ID:                o.ID,
		OwnerID:           o.OwnerID,
		FlightNumber:      o.FlightNumber,
		DepartureAirport:  o.DepartureAirport,
		ArrivalAirport:    o.ArrivalAirport,
		FlightDate:        o.FlightDate.UTC().Format(flights.DateLayout),
		AircraftType:      o.AircraftType,
		FlightEmissionsKg: o.FlightEmissionsKg,
		SAFVolumeLiters:   o.SAFVolumeLiters,
		CarbonReductionKg: o.CarbonReductionKg,
		TotalPrice:        o.TotalPrice,
		PlatformFee:       o.PlatformFee,
		Currency:          o.Currency,
		Notes:             o.Notes,
		Status:            o.Status,
		CertificateID:     o.CertificateID,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		CompletedAt:       o.CompletedAt,
	}
}

// OrderList wraps a page of orders plus its metadata.
type OrderList struct {
	Orders     []OrderSummary  `json:"orders"`
	Pagination pagination.Meta `json:"pagination"`
}

// StatusAggregate is one GROUP BY status row.
type StatusAggregate struct {
	Status          enums.OrderStatus `gorm:"column:status"`
	Count           int64             `gorm:"column:order_count"`
	SAFVolumeLiters decimal.Decimal   `gorm:"column:saf_volume"`
	Revenue         decimal.Decimal   `gorm:"column:revenue"`
	PlatformFees    decimal.Decimal   `gorm:"column:platform_fees"`
}

// Stats are aggregates over the current order set.
type Stats struct {
	TotalOrders     int64                       `json:"total_orders"`
	ByStatus        map[enums.OrderStatus]int64 `json:"by_status"`
	CompletedOrders int64                       `json:"completed_orders"`
	PendingOrders   int64                       `json:"pending_orders"`
	SAFVolumeLiters decimal.Decimal             `json:"saf_volume_liters"`
	Revenue         decimal.Decimal             `json:"revenue"`
	PlatformFees    decimal.Decimal             `json:"platform_fees"`
	// CustomerPayments is the gross implied by PlatformFees.
	CustomerPayments decimal.Decimal `json:"customer_payments"`
}
