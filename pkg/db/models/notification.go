package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/safmarket/saf-backend/pkg/enums"
)

// Notification is a customer notice derived from one domain event. EventID
// is unique so redelivered events never produce a second row.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EventID   uuid.UUID              `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	OwnerID   string                 `gorm:"column:owner_id;not null"`
	OrderID   uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	Kind      enums.NotificationKind `gorm:"column:kind;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Message   string                 `gorm:"column:message;not null"`
	Link      *string                `gorm:"column:link"`
	SentAt    *time.Time             `gorm:"column:sent_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }
