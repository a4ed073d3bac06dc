package outbox

import (
	"context"
	"time"

	"github.com/safmarket/saf-backend/pkg/db/models"
)

// Message is an outbox row as handed to a broker. Key orders messages of
// the same aggregate on brokers that partition.
type Message struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Publisher delivers messages to a broker. Errors that retrying cannot fix
// are wrapped in registry.NonRetryableError by the implementation.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// NewMessage builds the broker message for a stored row.
func NewMessage(topic string, event models.OutboxEvent, envelope PayloadEnvelope) Message {
	return Message{
		Topic: topic,
		Key:   event.AggregateID.String(),
		Data:  event.Payload,
		Attributes: map[string]string{
			"event_id":       envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
