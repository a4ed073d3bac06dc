package notifications

import (
	"context"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/logger"
)

// Sender delivers a stored notice to its recipient.
type Sender interface {
	Send(ctx context.Context, notification *models.Notification) error
}

// LogSender writes each notice to the service log. It stands in for a mail
// provider and keeps the stored row as the customer-visible record.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, notification *models.Notification) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"notification_id": notification.ID.String(),
		"owner_id":        notification.OwnerID,
		"kind":            string(notification.Kind),
		"title":           notification.Title,
	}), "notification sent")
	return nil
}
