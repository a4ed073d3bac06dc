package outbox_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/internal/testdb"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/payloads"
)

func TestEmitStoresEnvelope(t *testing.T) {
	conn := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	orderID := uuid.New()
	occurred := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: "user-7", Role: "customer"},
			Data:          payloads.OrderStatusChangedEvent{OrderID: orderID, From: enums.OrderStatusPending, To: enums.OrderStatusCancelled},
			OccurredAt:    occurred,
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, orderID, row.AggregateID)
	assert.Nil(t, row.PublishedAt)

	envelope, err := outbox.DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	assert.Equal(t, outbox.EnvelopeVersion, envelope.Version)
	assert.Equal(t, row.ID.String(), envelope.EventID)
	assert.True(t, occurred.Equal(envelope.OccurredAt))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "user-7", envelope.Actor.UserID)
	var data payloads.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, orderID, data.OrderID)
	assert.Equal(t, enums.OrderStatusCancelled, data.To)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	conn := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)

	_ = conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"k": "v"},
		}))
		return assert.AnError
	})
	assert.Zero(t, testdb.CountOutbox(t, conn, string(enums.EventOrderCreated)))
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	conn := testdb.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	ctx := context.Background()

	assert.Error(t, svc.Emit(ctx, nil, outbox.DomainEvent{}))
	cases := map[string]outbox.DomainEvent{
		"event type":   {EventType: "order.exploded", AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
		"aggregate":    {EventType: enums.EventOrderPaid, AggregateType: "fleet", AggregateID: uuid.New()},
		"aggregate id": {EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder},
		"data":         {EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Data: make(chan int)},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, svc.Emit(ctx, conn, event))
		})
	}
}
