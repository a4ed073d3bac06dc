package certificates

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/pkg/db/models"
)

// View is the API projection of an issued certificate.
type View struct {
	ID                uuid.UUID       `json:"id"`
	OrderID           uuid.UUID       `json:"order_id"`
	CertificateNumber string          `json:"certificate_number"`
	RegistryID        string          `json:"registry_id"`
	SAFVolumeLiters   decimal.Decimal `json:"saf_volume_liters"`
	CarbonReductionKg decimal.Decimal `json:"carbon_reduction_kg"`
	ArtifactURI       string          `json:"artifact_uri"`
	IssuedAt          time.Time       `json:"issued_at"`
}

func NewView(c *models.Certificate) View {
	return View{
		ID:                c.ID,
		OrderID:           c.OrderID,
		CertificateNumber: c.CertificateNumber,
		RegistryID:        c.RegistryID,
		SAFVolumeLiters:   c.SAFVolumeLiters,
		CarbonReductionKg: c.CarbonReductionKg,
		ArtifactURI:       c.ArtifactURI,
		IssuedAt:          c.IssuedAt,
	}
}
