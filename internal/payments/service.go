package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/internal/orders"
	"github.com/safmarket/saf-backend/pkg/db"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/payloads"
)

const (
	activePaymentIndex    = "ux_payments_active_per_order"
	defaultGatewayTimeout = 10 * time.Second
	defaultCheckoutTTL    = time.Hour
	gatewayDependency     = "payment_gateway"

	reasonCheckoutUnavailable = "checkout session could not be created"
	reasonCheckoutAbandoned   = "checkout session was never opened"
	reasonCheckoutExpired     = "checkout session expired"
	reasonPaymentFailed       = "payment failed"
)

var activeStatuses = []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service coordinates checkout sessions, gateway callbacks and refunds
// with the order lifecycle.
type Service interface {
	InitiatePayment(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*Session, error)
	HandleGatewayCallback(ctx context.Context, cb Callback) (*CallbackResult, error)
	Refund(ctx context.Context, actor orders.Actor, input RefundInput) (*models.Payment, error)
	GetPayment(ctx context.Context, actor orders.Actor, paymentID uuid.UUID) (*models.Payment, error)
	ListForOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) ([]models.Payment, error)
	ExpireStale(ctx context.Context, createdBefore time.Time, limit int) (int, error)
}

// ServiceParams groups the coordinator's collaborators. Issuer may be nil,
// in which case paid orders wait for the certificate retry job.
type ServiceParams struct {
	Repo           Repository
	Orders         orderLifecycle
	Gateway        Gateway
	Issuer         CertificateIssuer
	Tx             txRunner
	Outbox         outboxPublisher
	Fees           FeeModel
	Currency       string
	GatewayTimeout time.Duration
	CheckoutTTL    time.Duration
	Metrics        *metrics.DependencyMetrics
	Clock          func() time.Time
	Logger         *logger.Logger
}

type service struct {
	repo           Repository
	orders         orderLifecycle
	gateway        Gateway
	issuer         CertificateIssuer
	tx             txRunner
	outbox         outboxPublisher
	fees           FeeModel
	currency       string
	gatewayTimeout time.Duration
	checkoutTTL    time.Duration
	deps           *metrics.DependencyMetrics
	clock          func() time.Time
	logg           *logger.Logger
}

// NewService builds the payment coordinator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Fees.Percent.IsZero() && params.Fees.Fixed.IsZero() {
		params.Fees = DefaultFeeModel()
	}
	if params.Currency == "" {
		params.Currency = "usd"
	}
	if params.GatewayTimeout <= 0 {
		params.GatewayTimeout = defaultGatewayTimeout
	}
	if params.CheckoutTTL <= 0 {
		params.CheckoutTTL = defaultCheckoutTTL
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &service{
		repo:           params.Repo,
		orders:         params.Orders,
		gateway:        params.Gateway,
		issuer:         params.Issuer,
		tx:             params.Tx,
		outbox:         params.Outbox,
		fees:           params.Fees,
		currency:       strings.ToLower(params.Currency),
		gatewayTimeout: params.GatewayTimeout,
		checkoutTTL:    params.CheckoutTTL,
		deps:           params.Metrics,
		clock:          params.Clock,
		logg:           params.Logger,
	}, nil
}

// InitiatePayment moves the order to processing, records a pending payment
// and opens a checkout session. When the gateway cannot be reached both
// writes are compensated and the order is pending again.
func (s *service) InitiatePayment(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*Session, error) {
	order, err := s.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	amount := order.TotalPrice.Add(order.PlatformFee).Round(2)
	currency := strings.ToLower(order.Currency)
	if currency == "" {
		currency = s.currency
	}
	now := s.clock().UTC()
	payment := &models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		Amount:         amount,
		Currency:       currency,
		Status:         enums.PaymentStatusPending,
		FeeAmount:      s.fees.GatewayFee(amount),
		NetAmount:      s.fees.NetAmount(amount),
		RefundedAmount: decimal.Zero,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.orders.BeginPayment(ctx, tx, order.ID); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			if db.IsUniqueViolation(err, activePaymentIndex) {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "a payment is already in progress for this order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithPaymentID(s.logg.WithOrderID(ctx, order.ID.String()), payment.ID.String())
	expiresAt := now.Add(s.checkoutTTL)

	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	started := time.Now()
	checkout, gwErr := s.gateway.CreateCheckoutSession(gatewayCtx, CheckoutRequest{
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		Amount:      amount,
		Currency:    currency,
		Description: fmt.Sprintf("SAF certificate for %s on %s", order.FlightNumber, order.FlightDate.Format(flights.DateLayout)),
		ExpiresAt:   expiresAt,
	})
	cancel()
	if gwErr == nil && (checkout == nil || checkout.SessionID == "") {
		gwErr = errors.New("gateway returned no checkout session")
	}
	s.deps.Observe(gatewayDependency, "create_checkout_session", gwErr, time.Since(started))
	if gwErr != nil {
		s.logg.Error(ctx, "checkout session creation failed", gwErr)
		s.compensate(ctx, payment.ID, order.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, gwErr, "payment gateway unavailable")
	}

	updates := map[string]any{
		"gateway_session_id": checkout.SessionID,
		"checkout_url":       checkout.URL,
	}
	if checkout.PaymentIntentID != "" {
		updates["gateway_payment_intent_id"] = checkout.PaymentIntentID
	}
	swapped, err := s.repo.CompareAndSetStatus(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusProcessing, updates)
	if err != nil || !swapped {
		s.expireSession(ctx, checkout.SessionID)
		s.compensate(ctx, payment.ID, order.ID)
		if err != nil {
			s.logg.Error(ctx, "checkout session could not be stored", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer pending")
	}

	s.logg.Info(ctx, "checkout session opened")
	return &Session{
		PaymentID: payment.ID,
		OrderID:   order.ID,
		SessionID: checkout.SessionID,
		URL:       checkout.URL,
		Amount:    amount,
		Currency:  currency,
		ExpiresAt: expiresAt,
	}, nil
}

// compensate undoes the writes of a payment attempt whose checkout never
// opened. It ignores cancellation of the caller's context. A payment that
// already left pending was settled elsewhere and is left alone.
func (s *service) compensate(ctx context.Context, paymentID, orderID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	var reverted bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		swapped, err := s.repo.WithTx(tx).CompareAndSetStatus(ctx, paymentID, []enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusFailed, map[string]any{
			"failure_reason": reasonCheckoutUnavailable,
		})
		if err != nil || !swapped {
			return err
		}
		_, err = s.orders.RevertPayment(ctx, tx, orderID, reasonCheckoutUnavailable)
		reverted = err == nil
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "payment compensation failed", err)
		return
	}
	if reverted {
		s.logg.Warn(ctx, "payment attempt rolled back")
	}
}

// expireSession closes a checkout session the buyer must not use. Failures
// are logged; the session still lapses at its own expiry.
func (s *service) expireSession(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.gatewayTimeout)
	defer cancel()
	started := time.Now()
	err := s.gateway.ExpireCheckoutSession(ctx, sessionID)
	s.deps.Observe(gatewayDependency, "expire_checkout_session", err, time.Since(started))
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "session_id", sessionID), "checkout session expiry failed", err)
	}
}

// HandleGatewayCallback applies a gateway outcome to the payment and its
// order. Late and duplicate callbacks are discarded without error.
func (s *service) HandleGatewayCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	sessionID := strings.TrimSpace(cb.SessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if !cb.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown gateway outcome").
			WithDetails(map[string]string{"outcome": string(cb.Outcome)})
	}

	payment, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for session")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	ctx = s.logg.WithPaymentID(s.logg.WithOrderID(ctx, payment.OrderID.String()), payment.ID.String())

	order, err := s.orders.LoadOrder(ctx, nil, payment.OrderID)
	if err != nil {
		return nil, err
	}
	result := &CallbackResult{
		PaymentID:     payment.ID,
		OrderID:       order.ID,
		PaymentStatus: payment.Status,
		OrderStatus:   order.Status,
	}
	if !payment.Status.IsActive() || orderSettled(order.Status) {
		return s.discard(ctx, result, cb.Outcome), nil
	}

	paymentStatus, updates, reason := s.applyOutcome(cb)
	success := cb.Outcome == enums.GatewayOutcomeSucceeded
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.orders.TransitionOnPaymentResult(ctx, tx, orders.PaymentResult{
			OrderID:   order.ID,
			Success:   success,
			PaymentID: &payment.ID,
			Reason:    reason,
		})
		if err != nil {
			return err
		}
		swapped, err := s.repo.WithTx(tx).CompareAndSetStatus(ctx, payment.ID, activeStatuses, paymentStatus, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !swapped {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already settled")
		}
		result.OrderStatus = updated.Status
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			if settled, ok := s.reloadSettled(ctx, payment.ID, order.ID, result); ok {
				return s.discard(ctx, settled, cb.Outcome), nil
			}
		}
		return nil, err
	}
	result.PaymentStatus = paymentStatus
	s.logg.Info(s.logg.WithField(ctx, "outcome", string(cb.Outcome)), "gateway callback applied")

	if success {
		s.fulfil(ctx, result)
	}
	return result, nil
}

func (s *service) applyOutcome(cb Callback) (enums.PaymentStatus, map[string]any, string) {
	updates := map[string]any{}
	if cb.PaymentIntentID != "" {
		updates["gateway_payment_intent_id"] = cb.PaymentIntentID
	}
	switch cb.Outcome {
	case enums.GatewayOutcomeSucceeded:
		updates["succeeded_at"] = s.clock().UTC()
		return enums.PaymentStatusSucceeded, updates, ""
	case enums.GatewayOutcomeExpired:
		updates["failure_reason"] = reasonCheckoutExpired
		return enums.PaymentStatusCanceled, updates, reasonCheckoutExpired
	default:
		reason := strings.TrimSpace(cb.FailureReason)
		if reason == "" {
			reason = reasonPaymentFailed
		}
		updates["failure_reason"] = reason
		return enums.PaymentStatusFailed, updates, reason
	}
}

// reloadSettled re-reads both rows after a lost race. ok is true when
// another callback already settled them.
func (s *service) reloadSettled(ctx context.Context, paymentID, orderID uuid.UUID, result *CallbackResult) (*CallbackResult, bool) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, false
	}
	order, err := s.orders.LoadOrder(ctx, nil, orderID)
	if err != nil {
		return nil, false
	}
	if payment.Status.IsActive() && !orderSettled(order.Status) {
		return nil, false
	}
	result.PaymentStatus = payment.Status
	result.OrderStatus = order.Status
	return result, true
}

func (s *service) discard(ctx context.Context, result *CallbackResult, outcome enums.GatewayOutcome) *CallbackResult {
	result.Discarded = true
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outcome":        string(outcome),
		"payment_status": string(result.PaymentStatus),
		"order_status":   string(result.OrderStatus),
	})
	s.logg.Info(logCtx, "gateway callback discarded")
	return result
}

// fulfil asks the issuer for a certificate. Failures leave the order paid
// for the retry job.
func (s *service) fulfil(ctx context.Context, result *CallbackResult) {
	if s.issuer == nil {
		result.CertificatePending = true
		return
	}
	cert, err := s.issuer.IssueForOrder(ctx, result.OrderID)
	if err != nil {
		result.CertificatePending = true
		s.logg.Error(ctx, "certificate issuance deferred", err)
		return
	}
	result.CertificateID = &cert.ID
	result.OrderStatus = enums.OrderStatusCompleted
}

func orderSettled(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPaid, enums.OrderStatusCompleted, enums.OrderStatusFailed, enums.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Refund returns all or part of a settled payment. The order status is
// not changed.
func (s *service) Refund(ctx context.Context, actor orders.Actor, input RefundInput) (*models.Payment, error) {
	if actor.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "refunds require an admin")
	}
	payment, err := s.loadPayment(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPaymentID(s.logg.WithOrderID(ctx, payment.OrderID.String()), payment.ID.String())

	if !payment.Status.IsRefundable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment is %s and cannot be refunded", payment.Status)).
			WithDetails(map[string]string{"current_status": string(payment.Status)})
	}

	remaining := payment.RefundableAmount()
	amount := remaining
	if input.Amount != nil {
		amount = *input.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(remaining) || !amount.Equal(amount.Round(2)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund amount").
			WithDetails(map[string]string{"amount": fmt.Sprintf("must be between 0.01 and %s", remaining.StringFixed(2))})
	}
	if payment.GatewayPaymentIntentID == nil || *payment.GatewayPaymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway charge to refund")
	}
	reason := strings.TrimSpace(input.Reason)

	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	started := time.Now()
	confirmation, err := s.gateway.Refund(gatewayCtx, RefundRequest{
		PaymentID:       payment.ID,
		PaymentIntentID: *payment.GatewayPaymentIntentID,
		Amount:          amount,
		Reason:          reason,
		IdempotencyKey:  fmt.Sprintf("refund-%s-%s", payment.ID, payment.RefundedAmount.StringFixed(2)),
	})
	cancel()
	s.deps.Observe(gatewayDependency, "refund", err, time.Since(started))
	if err != nil {
		s.logg.Error(ctx, "gateway refund failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable")
	}

	refunded := payment.RefundedAmount.Add(amount).Round(2)
	next := RefundSnapshot{Status: enums.PaymentStatusPartiallyRefunded, RefundedAmount: refunded}
	if refunded.GreaterThanOrEqual(payment.Amount) {
		next.Status = enums.PaymentStatusRefunded
	}
	expected := RefundSnapshot{Status: payment.Status, RefundedAmount: payment.RefundedAmount}
	now := s.clock().UTC()

	var updated *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		swapped, err := repo.RecordRefund(ctx, payment.ID, expected, next, reason, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}
		if !swapped {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed while the refund was processed")
		}
		updated, err = repo.FindByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRefunded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			OccurredAt:    now,
			Data: payloads.PaymentRefundedEvent{
				PaymentID:      payment.ID,
				OrderID:        payment.OrderID,
				Amount:         amount,
				RefundedAmount: refunded,
				Status:         next.Status,
				Reason:         reason,
			},
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			s.logg.Error(ctx, "gateway refund confirmed but not recorded", err)
		}
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"refund_id": confirmation.RefundID,
		"amount":    amount.StringFixed(2),
		"status":    string(next.Status),
	})
	s.logg.Info(logCtx, "payment refunded")
	return updated, nil
}

// GetPayment returns a payment when the actor can see its order.
func (s *service) GetPayment(ctx context.Context, actor orders.Actor, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.orders.GetOrder(ctx, actor, payment.OrderID); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	return payment, nil
}

func (s *service) ListForOrder(ctx context.Context, actor orders.Actor, orderID uuid.UUID) ([]models.Payment, error) {
	if _, err := s.orders.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, nil
}

// ExpireStale settles payments that never received a gateway outcome.
// Payments with a session are expired like a gateway notification; those
// without one are failed and their order returned to pending.
func (s *service) ExpireStale(ctx context.Context, createdBefore time.Time, limit int) (int, error) {
	rows, err := s.repo.FindStaleActive(ctx, createdBefore, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}

	var errs error
	expired := 0
	for i := range rows {
		payment := &rows[i]
		var err error
		if payment.GatewaySessionID == nil || *payment.GatewaySessionID == "" {
			err = s.abandon(ctx, payment)
		} else {
			_, err = s.HandleGatewayCallback(ctx, Callback{
				SessionID: *payment.GatewaySessionID,
				Outcome:   enums.GatewayOutcomeExpired,
			})
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

func (s *service) abandon(ctx context.Context, payment *models.Payment) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		swapped, err := s.repo.WithTx(tx).CompareAndSetStatus(ctx, payment.ID, activeStatuses, enums.PaymentStatusFailed, map[string]any{
			"failure_reason": reasonCheckoutAbandoned,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
		}
		if !swapped {
			return nil
		}
		_, err = s.orders.RevertPayment(ctx, tx, payment.OrderID, reasonCheckoutAbandoned)
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return nil
		}
		return err
	})
}

func (s *service) loadPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}
