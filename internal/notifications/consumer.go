// Package notifications turns order lifecycle events into customer notices:
// an order confirmation, a payment confirmation and a certificate-ready notice.
package notifications

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
)

const (
	consumerName       = "order-notifications"
	notifierDependency = "notifier"
)

// receiver is satisfied by *pubsub.Subscriber.
type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type eventGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type ConsumerParams struct {
	Repository   Repository
	Subscription receiver
	Idempotency  eventGuard
	Sender       Sender
	Logger       *logger.Logger
	Metrics      *metrics.DependencyMetrics
	Clock        func() time.Time
}

// Consumer reads order events from the notifications subscription. Each
// event id is handled at most once per idempotency window.
type Consumer struct {
	repo         Repository
	subscription receiver
	idempotency  eventGuard
	sender       Sender
	logg         *logger.Logger
	metrics      *metrics.DependencyMetrics
	clock        func() time.Time
}

// NewConsumer builds an order notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("notifications subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	sender := params.Sender
	if sender == nil {
		sender = NewLogSender(params.Logger)
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Consumer{
		repo:         params.Repository,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		sender:       sender,
		logg:         params.Logger,
		metrics:      params.Metrics,
		clock:        clock,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if _, ok := noticeKinds[eventType]; !ok {
		c.logg.Debug(logCtx, "skipping event without a notice")
		return processResult{}
	}

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	notice, err := buildNotice(eventType, eventID, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{}
	}
	logCtx = c.logg.WithOrderID(logCtx, notice.OrderID.String())

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{}
	}

	if err := c.deliver(ctx, notice); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		if releaseErr := c.idempotency.Release(context.WithoutCancel(ctx), consumerName, eventID); releaseErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency claim", releaseErr)
		}
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithField(logCtx, "kind", string(notice.Kind)), "customer notified")
	return processResult{}
}

// deliver stores the notice and sends it once. A notice stored by an earlier
// delivery that was already sent is not sent again.
func (c *Consumer) deliver(ctx context.Context, notice *models.Notification) error {
	if _, err := c.repo.Create(ctx, notice); err != nil {
		return fmt.Errorf("store notice: %w", err)
	}
	if notice.SentAt != nil {
		return nil
	}

	start := time.Now()
	err := c.sender.Send(ctx, notice)
	c.metrics.Observe(notifierDependency, string(notice.Kind), err, time.Since(start))
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}

	if err := c.repo.MarkSent(ctx, notice.ID, c.clock().UTC()); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "notice sent but not marked")
	}
	return nil
}
