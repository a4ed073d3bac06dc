package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
)

const (
	staleCheckoutJobName     = "stale-checkout"
	defaultCheckoutTTL       = time.Hour
	defaultStaleGrace        = 15 * time.Minute
	defaultStaleCheckoutSize = 100
)

type stalePaymentExpirer interface {
	ExpireStale(ctx context.Context, createdBefore time.Time, limit int) (int, error)
}

type StaleCheckoutJobParams struct {
	Logger      *logger.Logger
	Payments    stalePaymentExpirer
	Metrics     *metrics.CronJobMetrics
	CheckoutTTL time.Duration
	Grace       time.Duration
	BatchSize   int
}

// NewStaleCheckoutJob expires payments whose checkout session outlived its
// TTL without a gateway notification, releasing the order back to pending.
func NewStaleCheckoutJob(params StaleCheckoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	ttl := params.CheckoutTTL
	if ttl <= 0 {
		ttl = defaultCheckoutTTL
	}
	grace := params.Grace
	if grace < 0 {
		grace = 0
	} else if grace == 0 {
		grace = defaultStaleGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultStaleCheckoutSize
	}
	return &staleCheckoutJob{
		logg:     params.Logger,
		payments: params.Payments,
		metrics:  params.Metrics,
		maxAge:   ttl + grace,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type staleCheckoutJob struct {
	logg     *logger.Logger
	payments stalePaymentExpirer
	metrics  *metrics.CronJobMetrics
	maxAge   time.Duration
	batch    int
	now      func() time.Time
}

func (j *staleCheckoutJob) Name() string { return staleCheckoutJobName }

func (j *staleCheckoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	expired, err := j.payments.ExpireStale(ctx, cutoff, j.batch)
	j.metrics.AddProcessed(staleCheckoutJobName, metrics.OutcomeOK, expired)
	if err != nil {
		return fmt.Errorf("expire stale checkouts: %w", err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":  cutoff,
			"expired": expired,
		}), "stale checkouts expired")
	}
	return nil
}
