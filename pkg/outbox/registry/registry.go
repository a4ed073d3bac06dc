// Package registry maps stored outbox rows to their topic and typed payload.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// catalog lists every event this service emits, grouped by payload shape.
var catalog = []struct {
	aggregate enums.OutboxAggregateType
	payload   func() any
	types     []enums.OutboxEventType
}{
	{
		aggregate: enums.AggregateOrder,
		payload:   func() any { return &payloads.OrderCreatedEvent{} },
		types:     []enums.OutboxEventType{enums.EventOrderCreated},
	},
	{
		aggregate: enums.AggregateOrder,
		payload:   func() any { return &payloads.OrderStatusChangedEvent{} },
		types: []enums.OutboxEventType{
			enums.EventOrderCancelled,
			enums.EventOrderPaymentStarted,
			enums.EventOrderPaymentRevert,
			enums.EventOrderPaid,
			enums.EventOrderFailed,
			enums.EventOrderCompleted,
		},
	},
	{
		aggregate: enums.AggregatePayment,
		payload:   func() any { return &payloads.PaymentRefundedEvent{} },
		types:     []enums.OutboxEventType{enums.EventPaymentRefunded},
	},
	{
		aggregate: enums.AggregateCertificate,
		payload:   func() any { return &payloads.CertificateIssuedEvent{} },
		types:     []enums.OutboxEventType{enums.EventCertificateIssued},
	},
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes every catalogued event to ordersTopic.
func NewEventRegistry(ordersTopic string) (*EventRegistry, error) {
	topic := strings.TrimSpace(ordersTopic)
	if topic == "" {
		return nil, errors.New("registry: orders topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, group := range catalog {
		for _, eventType := range group.types {
			reg.entries[eventType] = EventDescriptor{
				EventType:      eventType,
				AggregateType:  group.aggregate,
				Topic:          topic,
				PayloadFactory: group.payload,
			}
		}
	}
	return reg, nil
}

// Resolve checks a row against its descriptor and decodes the payload. Every
// failure is non-retryable since the stored bytes will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("outbox row %s (%s): %w", event.ID, event.EventType, err))
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, errors.New("unsupported event type")
	}
	if desc.AggregateType != event.AggregateType {
		return nil, fmt.Errorf("aggregate type %s, want %s", event.AggregateType, desc.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, errors.New("aggregate id missing")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > outbox.EnvelopeVersion {
		return nil, fmt.Errorf("envelope version %d not supported", envelope.Version)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, errors.New("envelope has no data")
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
