package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/registry"
)

type recordingWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func newTestPublisher(t *testing.T, w *recordingWriter) *Publisher {
	t.Helper()
	p, err := NewPublisher(config.KafkaConfig{Brokers: []string{" localhost:9092 ", ""}, OrdersTopic: "saf.order.events"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:9092"}, p.brokers)
	p.writer = w
	return p
}

func TestPublishKeysByAggregate(t *testing.T) {
	w := &recordingWriter{}
	p := newTestPublisher(t, w)

	err := p.Publish(context.Background(), outbox.Message{
		Topic:      "saf.order.events",
		Key:        "order-1",
		Data:       []byte(`{"eventId":"e1"}`),
		Attributes: map[string]string{"event_type": "order_paid", "aggregate_id": "order-1"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "saf.order.events", msg.Topic)
	assert.Equal(t, []byte("order-1"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "aggregate_id", msg.Headers[0].Key)
	assert.Equal(t, "event_type", msg.Headers[1].Key)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishClassifiesErrors(t *testing.T) {
	w := &recordingWriter{err: kafkago.TopicAuthorizationFailed}
	p := newTestPublisher(t, w)
	err := p.Publish(context.Background(), outbox.Message{Topic: "t", Key: "k"})
	var nonRetry registry.NonRetryableError
	assert.True(t, errors.As(err, &nonRetry), "authorization failures are not retried")

	w.err = kafkago.LeaderNotAvailable
	err = p.Publish(context.Background(), outbox.Message{Topic: "t", Key: "k"})
	require.Error(t, err)
	assert.False(t, errors.As(err, &nonRetry), "leader elections are retried")

	w.err = errors.New("connection reset")
	err = p.Publish(context.Background(), outbox.Message{Topic: "t", Key: "k"})
	require.Error(t, err)
	assert.False(t, errors.As(err, &nonRetry))
}

func TestPublishRequiresTopic(t *testing.T) {
	p := newTestPublisher(t, &recordingWriter{})
	err := p.Publish(context.Background(), outbox.Message{Key: "k"})
	var nonRetry registry.NonRetryableError
	assert.True(t, errors.As(err, &nonRetry))
}

func TestNewPublisherRequiresBrokers(t *testing.T) {
	_, err := NewPublisher(config.KafkaConfig{Brokers: []string{"  "}}, nil)
	assert.ErrorIs(t, err, errNoBrokers)
}

func TestPingReportsUnreachableBrokers(t *testing.T) {
	p := newTestPublisher(t, &recordingWriter{})
	p.dial = func(context.Context, string, string) (*kafkago.Conn, error) {
		return nil, errors.New("refused")
	}
	err := p.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "localhost:9092")
}
