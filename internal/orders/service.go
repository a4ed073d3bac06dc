package orders

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/payloads"
	"github.com/safmarket/saf-backend/pkg/pagination"
)

const maxNotesLength = 500

var flightPrefixRe = regexp.MustCompile(`^[A-Z0-9]{1,7}$`)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the order state machine. Every transition is a
// compare-and-swap on the status column, so concurrent callers racing on
// the same order see exactly one winner.
//
// Methods taking a *gorm.DB join the caller's transaction; a nil tx opens
// a new one.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CancelOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	BeginPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	RevertPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error)
	TransitionOnPaymentResult(ctx context.Context, tx *gorm.DB, result PaymentResult) (*models.Order, error)
	CompleteOrder(ctx context.Context, tx *gorm.DB, orderID, certificateID uuid.UUID) (*models.Order, error)

	GetOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, actor Actor, input ListInput) (*OrderList, error)
	Stats(ctx context.Context, actor Actor, ownerID string) (*Stats, error)
	PaidAwaitingCertificate(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.LifecycleMetrics
	clock   func() time.Time
	logg    *logger.Logger
}

// NewService builds the order lifecycle service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, m *metrics.LifecycleMetrics, clock func() time.Time, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if clock == nil {
		clock = time.Now
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outbox,
		metrics: m,
		clock:   clock,
		logg:    logg,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}

	flight, err := flights.Parse(input.Flight)
	if err != nil {
		return nil, err
	}

	q := input.Quote
	if q.FlightEmissionsKg.IsNegative() || !q.SAFVolumeLiters.IsPositive() || !q.TotalPrice.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote is incomplete").
			WithDetails(map[string]string{"quote": "missing priced volume or total"})
	}
	now := s.clock().UTC()
	if q.Expired(now) {
		return nil, pkgerrors.New(pkgerrors.CodeQuoteExpired, "quote expired").
			WithDetails(map[string]string{"valid_until": q.ValidUntil.UTC().Format(time.RFC3339)})
	}
	if q.Flight != nil && !q.Flight.SameFlight(flight) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote was issued for a different flight").
			WithDetails(map[string]string{"quote": "flight mismatch"})
	}

	var notes *string
	if input.Notes != nil {
		trimmed := strings.TrimSpace(*input.Notes)
		if len(trimmed) > maxNotesLength {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "notes too long").
				WithDetails(map[string]string{"notes": fmt.Sprintf("must be at most %d characters", maxNotesLength)})
		}
		if trimmed != "" {
			notes = &trimmed
		}
	}

	aircraft := flight.AircraftType
	if aircraft == "" {
		aircraft = q.AircraftType
	}
	var aircraftType *string
	if aircraft != "" {
		aircraftType = &aircraft
	}

	currency := q.Currency
	if currency == "" {
		currency = "usd"
	}

	order := &models.Order{
		ID:                uuid.New(),
		OwnerID:           ownerID,
		FlightNumber:      flight.FlightNumber,
		DepartureAirport:  flight.DepartureAirport,
		ArrivalAirport:    flight.ArrivalAirport,
		FlightDate:        flight.FlightDate,
		AircraftType:      aircraftType,
		FlightEmissionsKg: q.FlightEmissionsKg.Round(2),
		SAFVolumeLiters:   q.SAFVolumeLiters,
		CarbonReductionKg: q.CarbonReductionKg,
		TotalPrice:        q.TotalPrice,
		PlatformFee:       PlatformFee(q.TotalPrice),
		Currency:          currency,
		Notes:             notes,
		Status:            enums.OrderStatusPending,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: ownerID},
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:         order.ID,
				OwnerID:         ownerID,
				FlightNumber:    order.FlightNumber,
				FlightDate:      flight.DateString(),
				SAFVolumeLiters: order.SAFVolumeLiters,
				TotalPrice:      order.TotalPrice,
				PlatformFee:     order.PlatformFee,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition("none", string(enums.OrderStatusPending))
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order created")
	return order, nil
}

func (s *service) CancelOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.transition(ctx, nil, orderID, enums.OrderStatusPending, enums.OrderStatusCancelled, nil, transitionMeta{
		actor: &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
	})
}

func (s *service) BeginPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, tx, orderID, enums.OrderStatusPending, enums.OrderStatusProcessing, nil, transitionMeta{})
}

// RevertPayment is the compensation for a payment attempt that never
// reached the gateway. It is not a user-facing transition.
func (s *service) RevertPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.Order, error) {
	return s.transition(ctx, tx, orderID, enums.OrderStatusProcessing, enums.OrderStatusPending, nil, transitionMeta{reason: reason})
}

func (s *service) TransitionOnPaymentResult(ctx context.Context, tx *gorm.DB, result PaymentResult) (*models.Order, error) {
	to := enums.OrderStatusFailed
	if result.Success {
		to = enums.OrderStatusPaid
	}
	return s.transition(ctx, tx, result.OrderID, enums.OrderStatusProcessing, to, nil, transitionMeta{
		paymentID: result.PaymentID,
		reason:    result.Reason,
	})
}

func (s *service) CompleteOrder(ctx context.Context, tx *gorm.DB, orderID, certificateID uuid.UUID) (*models.Order, error) {
	if certificateID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id required")
	}
	updates := map[string]any{
		"certificate_id": certificateID,
		"completed_at":   s.clock().UTC(),
	}
	return s.transition(ctx, tx, orderID, enums.OrderStatusPaid, enums.OrderStatusCompleted, updates, transitionMeta{
		certificateID: &certificateID,
	})
}

type transitionMeta struct {
	actor         *outbox.ActorRef
	paymentID     *uuid.UUID
	certificateID *uuid.UUID
	reason        string
}

func (s *service) transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any, meta transitionMeta) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	eventType, ok := transitionEvent(from, to)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("transition %s -> %s is not allowed", from, to))
	}

	var order *models.Order
	run := func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		swapped, err := repo.CompareAndSetStatus(ctx, orderID, from, to, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !swapped {
			return s.rejectTransition(ctx, repo, orderID, from, to)
		}

		order, err = repo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         meta.actor,
			Data: payloads.OrderStatusChangedEvent{
				OrderID:       orderID,
				OwnerID:       order.OwnerID,
				From:          from,
				To:            to,
				PaymentID:     meta.paymentID,
				CertificateID: meta.certificateID,
				Reason:        meta.reason,
				ChangedAt:     order.UpdatedAt,
			},
		})
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.tx.WithTx(ctx, run)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(to))
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	s.logg.Info(logCtx, "order transitioned")
	return order, nil
}

func (s *service) rejectTransition(ctx context.Context, repo Repository, orderID uuid.UUID, expected, target enums.OrderStatus) error {
	current, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	s.metrics.ObserveRejected(string(target))
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s, expected %s", current.Status, expected)).
		WithDetails(map[string]string{
			"current_status":  string(current.Status),
			"expected_status": string(expected),
		})
}

func (s *service) GetOrder(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	if actor.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	order, err := s.LoadOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(order) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// LoadOrder reads an order without an ownership check, for collaborators
// acting on behalf of the system.
func (s *service) LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.WithTx(tx).FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, actor Actor, input ListInput) (*OrderList, error) {
	if actor.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	filters, err := parseListInput(input)
	if err != nil {
		return nil, err
	}
	switch {
	case !actor.IsAdmin():
		owner := actor.UserID
		filters.OwnerID = &owner
	case strings.TrimSpace(input.OwnerID) != "":
		owner := strings.TrimSpace(input.OwnerID)
		filters.OwnerID = &owner
	}

	rows, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	out := &OrderList{
		Orders:     make([]OrderSummary, 0, len(rows)),
		Pagination: pagination.NewMeta(filters.Page, total),
	}
	for i := range rows {
		out.Orders = append(out.Orders, Summarize(&rows[i]))
	}
	return out, nil
}

func parseListInput(input ListInput) (ListFilters, error) {
	problems := map[string]string{}
	filters := ListFilters{
		Sort: SortByCreated,
		Desc: true,
		Page: pagination.Params{Page: input.Page, Size: input.Size}.Normalize(),
	}

	if raw := strings.TrimSpace(input.Status); raw != "" {
		status, err := enums.ParseOrderStatus(strings.ToLower(raw))
		if err != nil {
			problems["status"] = "unknown status"
		} else {
			filters.Status = &status
		}
	}
	if raw := strings.ToUpper(strings.TrimSpace(input.FlightNumber)); raw != "" {
		if !flightPrefixRe.MatchString(raw) {
			problems["flight_number"] = "must be letters and digits only"
		} else {
			filters.FlightPrefix = raw
		}
	}
	if raw := strings.TrimSpace(input.DateFrom); raw != "" {
		if from, err := time.Parse(flights.DateLayout, raw); err != nil {
			problems["date_from"] = "must be YYYY-MM-DD"
		} else {
			filters.DateFrom = &from
		}
	}
	if raw := strings.TrimSpace(input.DateTo); raw != "" {
		if to, err := time.Parse(flights.DateLayout, raw); err != nil {
			problems["date_to"] = "must be YYYY-MM-DD"
		} else {
			filters.DateTo = &to
		}
	}
	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateTo.Before(*filters.DateFrom) {
		problems["date_to"] = "must not be before date_from"
	}
	if raw := strings.ToLower(strings.TrimSpace(input.Sort)); raw != "" {
		sort := SortField(raw)
		if !sort.IsValid() {
			problems["sort"] = "must be one of created, date, amount, status"
		} else {
			filters.Sort = sort
		}
	}
	switch strings.ToLower(strings.TrimSpace(input.Order)) {
	case "", "desc":
	case "asc":
		filters.Desc = false
	default:
		problems["order"] = "must be asc or desc"
	}

	if len(problems) > 0 {
		return ListFilters{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid list query").WithDetails(problems)
	}
	return filters, nil
}

// Stats aggregates the caller's orders. Admins see every order unless
// ownerID narrows the set.
func (s *service) Stats(ctx context.Context, actor Actor, ownerID string) (*Stats, error) {
	if actor.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	var scope *string
	switch {
	case !actor.IsAdmin():
		owner := actor.UserID
		scope = &owner
	case strings.TrimSpace(ownerID) != "":
		owner := strings.TrimSpace(ownerID)
		scope = &owner
	}

	rows, err := s.repo.Stats(ctx, scope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate orders")
	}
	return buildStats(rows), nil
}

func buildStats(rows []StatusAggregate) *Stats {
	stats := &Stats{
		ByStatus:        make(map[enums.OrderStatus]int64, len(enums.OrderStatuses())),
		SAFVolumeLiters: decimal.Zero,
		Revenue:         decimal.Zero,
		PlatformFees:    decimal.Zero,
	}
	for _, status := range enums.OrderStatuses() {
		stats.ByStatus[status] = 0
	}
	for _, row := range rows {
		stats.TotalOrders += row.Count
		stats.ByStatus[row.Status] += row.Count
		if row.Status == enums.OrderStatusPaid || row.Status == enums.OrderStatusCompleted {
			stats.SAFVolumeLiters = stats.SAFVolumeLiters.Add(row.SAFVolumeLiters)
			stats.Revenue = stats.Revenue.Add(row.Revenue)
			stats.PlatformFees = stats.PlatformFees.Add(row.PlatformFees)
		}
	}
	stats.CompletedOrders = stats.ByStatus[enums.OrderStatusCompleted]
	stats.PendingOrders = stats.ByStatus[enums.OrderStatusPending]
	stats.SAFVolumeLiters = stats.SAFVolumeLiters.Round(1)
	stats.Revenue = stats.Revenue.Round(2)
	stats.PlatformFees = stats.PlatformFees.Round(2)
	stats.CustomerPayments = CustomerPaymentFromFee(stats.PlatformFees)
	return stats
}

func (s *service) PaidAwaitingCertificate(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error) {
	orders, err := s.repo.FindPaidWithoutCertificate(ctx, updatedBefore, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list paid orders")
	}
	return orders, nil
}
