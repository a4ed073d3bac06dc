package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Certificate is the issued proof of a SAF purchase. Rows are never updated.
type Certificate struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	CertificateNumber string          `gorm:"column:certificate_number;not null;uniqueIndex"`
	RegistryID        string          `gorm:"column:registry_id;not null"`
	SAFVolumeLiters   decimal.Decimal `gorm:"column:saf_volume_liters;type:numeric(14,1);not null"`
	CarbonReductionKg decimal.Decimal `gorm:"column:carbon_reduction_kg;type:numeric(18,6);not null"`
	ArtifactURI       string          `gorm:"column:artifact_uri;not null"`
	IssuedAt          time.Time       `gorm:"column:issued_at;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Certificate) TableName() string { return "certificates" }
