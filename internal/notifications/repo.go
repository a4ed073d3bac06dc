package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/safmarket/saf-backend/pkg/db/models"
)

// Repository persists customer notices.
type Repository interface {
	// Create stores the notice unless one already exists for its event and
	// reports whether a row was inserted. On a duplicate, notification is
	// reloaded with the stored row.
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Notification, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(notification)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	var existing models.Notification
	if err := r.db.WithContext(ctx).Where("event_id = ?", notification.EventID).Take(&existing).Error; err != nil {
		return false, err
	}
	*notification = existing
	return false, nil
}

func (r *repositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND sent_at IS NULL", id).
		UpdateColumn("sent_at", at).Error
}

func (r *repositoryImpl) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Notification, error) {
	var rows []models.Notification
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}
