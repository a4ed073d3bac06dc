package certificates

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/pkg/db/models"
)

// Repository persists certificates. Rows are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, cert *models.Certificate) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error)
	FindByNumber(ctx context.Context, number string) (*models.Certificate, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a certificates repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == uuid.Nil {
		cert.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(cert).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error) {
	var cert models.Certificate
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&cert).Error; err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Certificate, error) {
	var cert models.Certificate
	if err := r.db.WithContext(ctx).Where("certificate_number = ?", number).First(&cert).Error; err != nil {
		return nil, err
	}
	return &cert, nil
}
