package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/payloads"
)

func TestResolveDecodesTypedPayloads(t *testing.T) {
	reg := testRegistry(t)
	orderID := uuid.New()

	created, err := reg.Resolve(row(t, enums.EventOrderCreated, enums.AggregateOrder, orderID, 1, payloads.OrderCreatedEvent{
		OrderID:         orderID,
		FlightNumber:    "BA123",
		SAFVolumeLiters: decimal.RequireFromString("825.0"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "orders-topic", created.Descriptor.Topic)
	payload, ok := created.Payload.(*payloads.OrderCreatedEvent)
	require.True(t, ok, "payload type %T", created.Payload)
	assert.Equal(t, "BA123", payload.FlightNumber)
	assert.NotEmpty(t, created.Envelope.EventID)

	paid, err := reg.Resolve(row(t, enums.EventOrderPaid, enums.AggregateOrder, orderID, 1, payloads.OrderStatusChangedEvent{
		OrderID: orderID, From: enums.OrderStatusProcessing, To: enums.OrderStatusPaid,
	}))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, paid.Payload.(*payloads.OrderStatusChangedEvent).To)
}

func TestCatalogCoversEveryEventType(t *testing.T) {
	reg := testRegistry(t)
	for _, eventType := range enums.OutboxEventTypes() {
		_, ok := reg.entries[eventType]
		assert.True(t, ok, "no descriptor for %s", eventType)
	}
}

func TestResolveRejectsBadRowsAsNonRetryable(t *testing.T) {
	reg := testRegistry(t)
	id := uuid.New()
	cases := map[string]models.OutboxEvent{
		"aggregate mismatch": row(t, enums.EventPaymentRefunded, enums.AggregateOrder, id, 1, map[string]string{"payment_id": "x"}),
		"null data":          row(t, enums.EventOrderCancelled, enums.AggregateOrder, id, 1, nil),
		"missing aggregate":  row(t, enums.EventOrderCancelled, enums.AggregateOrder, uuid.Nil, 1, map[string]string{}),
		"future version":     row(t, enums.EventOrderCancelled, enums.AggregateOrder, id, outbox.EnvelopeVersion+1, map[string]string{}),
		"unknown type":       row(t, "order.teleported", enums.AggregateOrder, id, 1, map[string]string{}),
		"garbage payload":    {EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: id, Payload: json.RawMessage(`{`)},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			assert.True(t, errors.As(err, &nonRetry), "got %v", err)
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry("  ")
	assert.Error(t, err)
}

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry("orders-topic")
	require.NoError(t, err)
	return reg
}

func row(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, id uuid.UUID, version int, data any) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   id,
		Payload:       envelope,
	}
}
