package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// CompareAndSetStatus moves the order from one status to another in a
	// single statement. It reports false when the order was not in from.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, filters ListFilters) ([]models.Order, int64, error)
	Stats(ctx context.Context, ownerID *string) ([]StatusAggregate, error)
	FindPaidWithoutCertificate(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error)
}
