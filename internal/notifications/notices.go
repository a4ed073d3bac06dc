package notifications

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	"github.com/safmarket/saf-backend/pkg/outbox/payloads"
)

var errMissingOwner = errors.New("event carries no owner id")

// noticeKinds maps the order events customers hear about to their notice.
var noticeKinds = map[enums.OutboxEventType]enums.NotificationKind{
	enums.EventOrderCreated:      enums.NotificationOrderConfirmation,
	enums.EventOrderPaid:         enums.NotificationPaymentConfirmation,
	enums.EventCertificateIssued: enums.NotificationCertificateReady,
}

// buildNotice turns the event data into an unsaved notice.
func buildNotice(eventType enums.OutboxEventType, eventID uuid.UUID, data json.RawMessage) (*models.Notification, error) {
	notice := &models.Notification{EventID: eventID, Kind: noticeKinds[eventType]}

	switch eventType {
	case enums.EventOrderCreated:
		var payload payloads.OrderCreatedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		notice.OwnerID = payload.OwnerID
		notice.OrderID = payload.OrderID
		notice.Title = "Order received"
		notice.Message = fmt.Sprintf("Your order for %s L of SAF on flight %s (%s) is confirmed. Total %s.",
			payload.SAFVolumeLiters.StringFixed(1), payload.FlightNumber, payload.FlightDate,
			payload.TotalPrice.Add(payload.PlatformFee).StringFixed(2))
		notice.Link = orderLink(payload.OrderID)

	case enums.EventOrderPaid:
		var payload payloads.OrderStatusChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		notice.OwnerID = payload.OwnerID
		notice.OrderID = payload.OrderID
		notice.Title = "Payment received"
		notice.Message = fmt.Sprintf("We received your payment for order %s. Your certificate is being issued.", payload.OrderID)
		notice.Link = orderLink(payload.OrderID)

	case enums.EventCertificateIssued:
		var payload payloads.CertificateIssuedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		notice.OwnerID = payload.OwnerID
		notice.OrderID = payload.OrderID
		notice.Title = "Certificate ready"
		notice.Message = fmt.Sprintf("Certificate %s for %s L of SAF has been issued.",
			payload.CertificateNumber, payload.SAFVolumeLiters.StringFixed(1))
		link := fmt.Sprintf("/api/v1/orders/%s/certificate", payload.OrderID)
		notice.Link = &link

	default:
		return nil, fmt.Errorf("no notice for event %s", eventType)
	}

	if notice.OwnerID == "" {
		return nil, errMissingOwner
	}
	if notice.OrderID == uuid.Nil {
		return nil, errors.New("event carries no order id")
	}
	return notice, nil
}

func orderLink(orderID uuid.UUID) *string {
	link := fmt.Sprintf("/api/v1/orders/%s", orderID)
	return &link
}
