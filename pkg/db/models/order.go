package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/pkg/enums"
)

// Order is one customer purchase of a SAF certificate for a single flight.
// SAFVolumeLiters, TotalPrice and PlatformFee are written once at creation.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID           string            `gorm:"column:owner_id;not null"`
	FlightNumber      string            `gorm:"column:flight_number;not null"`
	DepartureAirport  string            `gorm:"column:departure_airport;type:char(3);not null"`
	ArrivalAirport    string            `gorm:"column:arrival_airport;type:char(3);not null"`
	FlightDate        time.Time         `gorm:"column:flight_date;type:date;not null"`
	AircraftType      *string           `gorm:"column:aircraft_type"`
	FlightEmissionsKg decimal.Decimal   `gorm:"column:flight_emissions_kg;type:numeric(18,6);not null"`
	SAFVolumeLiters   decimal.Decimal   `gorm:"column:saf_volume_liters;type:numeric(14,1);not null"`
	CarbonReductionKg decimal.Decimal   `gorm:"column:carbon_reduction_kg;type:numeric(18,6);not null"`
	TotalPrice        decimal.Decimal   `gorm:"column:total_price;type:numeric(12,2);not null"`
	PlatformFee       decimal.Decimal   `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	Currency          string            `gorm:"column:currency;type:char(3);not null;default:'usd'"`
	Notes             *string           `gorm:"column:notes"`
	Status            enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	CertificateID     *uuid.UUID        `gorm:"column:certificate_id;type:uuid"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt       *time.Time        `gorm:"column:completed_at"`
}

func (Order) TableName() string { return "orders" }
