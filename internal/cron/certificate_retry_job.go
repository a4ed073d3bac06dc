package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
)

const (
	certificateRetryJobName = "certificate-retry"
	defaultCertificateAge   = 2 * time.Minute
	defaultCertificateBatch = 50
)

type paidOrderLister interface {
	PaidAwaitingCertificate(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error)
}

type certificateIssuer interface {
	IssueForOrder(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error)
}

type CertificateRetryJobParams struct {
	Logger    *logger.Logger
	Orders    paidOrderLister
	Issuer    certificateIssuer
	Metrics   *metrics.CronJobMetrics
	MinAge    time.Duration
	BatchSize int
}

// NewCertificateRetryJob issues certificates for paid orders whose inline
// issuance failed. Orders younger than MinAge are left alone so the payment
// flow can finish first.
func NewCertificateRetryJob(params CertificateRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Issuer == nil {
		return nil, fmt.Errorf("certificate issuer required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultCertificateAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultCertificateBatch
	}
	return &certificateRetryJob{
		logg:    params.Logger,
		orders:  params.Orders,
		issuer:  params.Issuer,
		metrics: params.Metrics,
		minAge:  minAge,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type certificateRetryJob struct {
	logg    *logger.Logger
	orders  paidOrderLister
	issuer  certificateIssuer
	metrics *metrics.CronJobMetrics
	minAge  time.Duration
	batch   int
	now     func() time.Time
}

func (j *certificateRetryJob) Name() string { return certificateRetryJobName }

func (j *certificateRetryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.minAge)
	pending, err := j.orders.PaidAwaitingCertificate(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list paid orders: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var (
		issued  int
		failed  int
		runErrs error
	)
	for _, order := range pending {
		if ctx.Err() != nil {
			runErrs = multierr.Append(runErrs, ctx.Err())
			break
		}
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		cert, err := j.issuer.IssueForOrder(orderCtx, order.ID)
		if err != nil {
			failed++
			j.logg.Error(orderCtx, "certificate retry failed", err)
			runErrs = multierr.Append(runErrs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		issued++
		j.logg.Info(j.logg.WithField(orderCtx, "certificate_number", cert.CertificateNumber), "certificate issued on retry")
	}
	j.metrics.AddProcessed(certificateRetryJobName, metrics.OutcomeOK, issued)
	j.metrics.AddProcessed(certificateRetryJobName, metrics.OutcomeError, failed)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(pending),
		"issued":     issued,
		"failed":     failed,
	}), "certificate retry sweep complete")
	return runErrs
}
