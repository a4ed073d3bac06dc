package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/kafka"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/pubsub"
)

// newBackend opens the broker selected by Eventing.Backend and returns it
// with the topic lifecycle events are published to.
func newBackend(ctx context.Context, cfg *config.Config, logg *logger.Logger) (outbox.Publisher, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Eventing.Backend)) {
	case config.EventingBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap pubsub: %w", err)
		}
		return client, cfg.PubSub.OrdersTopic, nil
	case config.EventingBackendKafka:
		publisher, err := kafka.NewPublisher(cfg.Kafka, logg)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap kafka: %w", err)
		}
		return publisher, cfg.Kafka.OrdersTopic, nil
	case config.EventingBackendNone:
		logg.Warn(ctx, "eventing backend disabled; outbox rows are logged and marked published")
		return &logPublisher{logg: logg}, "local", nil
	default:
		return nil, "", fmt.Errorf("unknown eventing backend %q", cfg.Eventing.Backend)
	}
}

// logPublisher stands in for a broker in local development.
type logPublisher struct {
	logg *logger.Logger
}

func (p *logPublisher) Publish(ctx context.Context, msg outbox.Message) error {
	p.logg.Debug(p.logg.WithFields(ctx, map[string]any{
		"topic":      msg.Topic,
		"key":        msg.Key,
		"event_type": msg.Attributes["event_type"],
	}), "outbox message (no broker)")
	return nil
}

func (p *logPublisher) Ping(context.Context) error { return nil }

func (p *logPublisher) Close() error { return nil }
