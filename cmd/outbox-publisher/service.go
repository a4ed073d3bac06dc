package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize      = 50
	fallbackPollInterval   = 500 * time.Millisecond
	fallbackPublishTimeout = 15 * time.Second
	fallbackMaxAttempts    = 10
	maxBackoff             = 10 * time.Second
	jitterWindow           = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	Publisher  outbox.Publisher
	Repository outboxRepository
	Registry   registryResolver
	Metrics    *metrics.OutboxMetrics
}

// Service relays committed outbox rows to the order events topic. A row is
// settled exactly one way per pass: published, scheduled for retry, or
// pinned at the attempt ceiling.
type Service struct {
	logg      *logger.Logger
	db        dbClient
	repo      outboxRepository
	publisher outbox.Publisher
	registry  registryResolver
	metrics   *metrics.OutboxMetrics
	now       func() time.Time

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		missing bool
		name    string
	}{
		{params.Config == nil, "config"},
		{params.Logger == nil, "logger"},
		{params.DB == nil, "database client"},
		{params.Publisher == nil, "publisher"},
		{params.Repository == nil, "outbox repository"},
		{params.Registry == nil, "event registry"},
	}
	for _, r := range required {
		if r.missing {
			return nil, fmt.Errorf("outbox publisher: %s is required", r.name)
		}
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:           params.Logger,
		db:             params.DB,
		repo:           params.Repository,
		publisher:      params.Publisher,
		registry:       params.Registry,
		metrics:        params.Metrics,
		now:            time.Now,
		batchSize:      positiveOr(cfg.BatchSize, fallbackBatchSize),
		maxAttempts:    positiveOr(cfg.MaxAttempts, fallbackMaxAttempts),
		pollInterval:   positiveOr(time.Duration(cfg.PollIntervalMS)*time.Millisecond, fallbackPollInterval),
		publishTimeout: positiveOr(cfg.PublishTimeout, fallbackPublishTimeout),
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

// Run pings the database and broker once, then drains batches until ctx is
// canceled. Full batches are followed immediately by the next one; an empty
// batch waits one poll interval and a failing batch backs off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if err := s.publisher.Ping(ctx); err != nil {
		return fmt.Errorf("broker not ready: %w", err)
	}

	backoff := newPollBackoff(s.pollInterval, maxBackoff)
	for ctx.Err() == nil {
		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait = backoff.fail()
		case processed:
			backoff.reset()
			continue
		default:
			backoff.reset()
			wait = withJitter(s.pollInterval)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox publisher stopping")
	return ctx.Err()
}

// processBatch locks up to batchSize rows and settles each of them inside
// one transaction. Only bookkeeping failures abort the batch.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var processed bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		processed = len(rows) > 0
		for _, row := range rows {
			if err := s.settle(ctx, tx, row, s.deliver(ctx, row)); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// attempt is the result of trying to hand one row to the broker.
type attempt struct {
	outcome string
	topic   string
	eventID string
	took    time.Duration
	err     error
}

func (s *Service) deliver(ctx context.Context, row models.OutboxEvent) attempt {
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return attempt{outcome: metrics.DeliveryTerminal, err: err}
	}
	a := attempt{topic: resolved.Descriptor.Topic, eventID: resolved.Envelope.EventID}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	started := s.now()
	err = s.publisher.Publish(publishCtx, outbox.NewMessage(a.topic, row, resolved.Envelope))
	a.took = s.now().Sub(started)
	cancel()

	var permanent registry.NonRetryableError
	switch {
	case err == nil:
		a.outcome = metrics.DeliveryPublished
	case errors.As(err, &permanent):
		a.outcome, a.err = metrics.DeliveryTerminal, err
	case row.AttemptCount+1 >= s.maxAttempts:
		a.outcome, a.err = metrics.DeliveryTerminal, fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err)
	default:
		a.outcome, a.err = metrics.DeliveryRetry, err
	}
	return a
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, a attempt) error {
	var err error
	switch a.outcome {
	case metrics.DeliveryPublished:
		err = s.repo.MarkPublishedTx(tx, row.ID)
	case metrics.DeliveryRetry:
		err = s.repo.MarkFailedTx(tx, row.ID, a.err)
	default:
		err = s.repo.MarkTerminalTx(tx, row.ID, a.err, s.maxAttempts)
	}
	if err != nil {
		return fmt.Errorf("record %s for outbox row %s: %w", a.outcome, row.ID, err)
	}

	s.metrics.ObserveDelivery(string(row.EventType), a.outcome, a.took, s.now().Sub(row.CreatedAt))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"event_id":      a.eventID,
		"topic":         a.topic,
		"attempt_count": row.AttemptCount,
		"outcome":       a.outcome,
	})
	switch a.outcome {
	case metrics.DeliveryPublished:
		s.logg.Info(logCtx, "outbox event published")
	case metrics.DeliveryRetry:
		s.logg.Warn(s.logg.WithField(logCtx, "error", a.err.Error()), "outbox publish failed, will retry")
	default:
		s.logg.Warn(s.logg.WithField(logCtx, "error", a.err.Error()), "outbox event parked")
	}
	return nil
}

// pollBackoff doubles the wait after each failed batch up to ceiling.
type pollBackoff struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
}

func newPollBackoff(base, ceiling time.Duration) *pollBackoff {
	return &pollBackoff{base: base, ceiling: ceiling}
}

func (b *pollBackoff) fail() time.Duration {
	if b.current <= 0 {
		b.current = b.base
	}
	b.current = min(b.current*2, b.ceiling)
	return withJitter(b.current)
}

func (b *pollBackoff) reset() { b.current = 0 }

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
