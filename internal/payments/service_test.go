package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/internal/orders"
	"github.com/safmarket/saf-backend/internal/quotes"
	"github.com/safmarket/saf-backend/internal/testdb"
	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/outbox"
)

var testNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type stubGateway struct {
	checkoutFn func(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	refundFn   func(ctx context.Context, req RefundRequest) (*RefundConfirmation, error)

	checkouts []CheckoutRequest
	refunds   []RefundRequest
	expired   []string
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	g.checkouts = append(g.checkouts, req)
	if g.checkoutFn != nil {
		return g.checkoutFn(ctx, req)
	}
	return &CheckoutSession{
		SessionID: "cs_test_" + req.PaymentID.String(),
		URL:       "https://checkout.stripe.test/" + req.PaymentID.String(),
	}, nil
}

func (g *stubGateway) ExpireCheckoutSession(_ context.Context, sessionID string) error {
	g.expired = append(g.expired, sessionID)
	return nil
}

func (g *stubGateway) Refund(ctx context.Context, req RefundRequest) (*RefundConfirmation, error) {
	g.refunds = append(g.refunds, req)
	if g.refundFn != nil {
		return g.refundFn(ctx, req)
	}
	return &RefundConfirmation{RefundID: "re_test", Status: "succeeded"}, nil
}

type stubIssuer struct {
	issueFn func(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error)
	calls   []uuid.UUID
}

func (i *stubIssuer) IssueForOrder(ctx context.Context, orderID uuid.UUID) (*models.Certificate, error) {
	i.calls = append(i.calls, orderID)
	if i.issueFn != nil {
		return i.issueFn(ctx, orderID)
	}
	return &models.Certificate{ID: uuid.New(), OrderID: orderID}, nil
}

type harness struct {
	db      *gorm.DB
	orders  orders.Service
	svc     Service
	gateway *stubGateway
	issuer  *stubIssuer
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testdb.Open(t)
	h := &harness{db: conn, gateway: &stubGateway{}, issuer: &stubIssuer{}, now: testNow}
	clock := func() time.Time { return h.now }
	events := outbox.NewService(outbox.NewRepository(conn), nil)

	orderSvc, err := orders.NewService(orders.NewRepository(conn), testdb.TxRunner{DB: conn}, events, nil, clock, nil)
	require.NoError(t, err)
	h.orders = orderSvc

	svc, err := NewService(ServiceParams{
		Repo:           NewRepository(conn),
		Orders:         orderSvc,
		Gateway:        h.gateway,
		Issuer:         h.issuer,
		Tx:             testdb.TxRunner{DB: conn},
		Outbox:         events,
		Fees:           DefaultFeeModel(),
		GatewayTimeout: 2 * time.Second,
		CheckoutTTL:    time.Hour,
		Clock:          clock,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// rebuild recreates the coordinator over the harness collaborators after
// applying override.
func (h *harness) rebuild(t *testing.T, override func(*ServiceParams)) {
	t.Helper()
	params := ServiceParams{
		Repo:           NewRepository(h.db),
		Orders:         h.orders,
		Gateway:        h.gateway,
		Issuer:         h.issuer,
		Tx:             testdb.TxRunner{DB: h.db},
		Outbox:         outbox.NewService(outbox.NewRepository(h.db), nil),
		GatewayTimeout: 2 * time.Second,
		Clock:          func() time.Time { return h.now },
	}
	override(&params)
	svc, err := NewService(params)
	require.NoError(t, err)
	h.svc = svc
}

func customer(id string) orders.Actor {
	return orders.Actor{UserID: id, Role: enums.RoleCustomer}
}

func admin() orders.Actor {
	return orders.Actor{UserID: "ops-1", Role: enums.RoleAdmin}
}

func (h *harness) createOrder(t *testing.T, owner string) *models.Order {
	t.Helper()
	engine, err := quotes.NewEngine(quotes.DefaultRates(), func() time.Time { return h.now })
	require.NoError(t, err)
	q, err := engine.Compute(1000, "")
	require.NoError(t, err)

	order, err := h.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		OwnerID: owner,
		Flight: flights.Input{
			FlightNumber:     "LH400",
			DepartureAirport: "FRA",
			ArrivalAirport:   "JFK",
			FlightDate:       "2026-11-20",
		},
		Quote: q,
	})
	require.NoError(t, err)
	return order
}

func (h *harness) orderStatus(t *testing.T, id uuid.UUID) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, h.db.Where("id = ?", id).First(&order).Error)
	return order.Status
}

func (h *harness) payment(t *testing.T, id uuid.UUID) models.Payment {
	t.Helper()
	var payment models.Payment
	require.NoError(t, h.db.Where("id = ?", id).First(&payment).Error)
	return payment
}

// paidPayment drives a fresh order through checkout and a successful callback.
func (h *harness) paidPayment(t *testing.T, owner string) (*models.Order, *Session) {
	t.Helper()
	order := h.createOrder(t, owner)
	session, err := h.svc.InitiatePayment(context.Background(), customer(owner), order.ID)
	require.NoError(t, err)
	_, err = h.svc.HandleGatewayCallback(context.Background(), Callback{
		SessionID:       session.SessionID,
		PaymentIntentID: "pi_" + session.PaymentID.String(),
		Outcome:         enums.GatewayOutcomeSucceeded,
	})
	require.NoError(t, err)
	return order, session
}

func TestInitiatePaymentOpensCheckout(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")

	var deadline time.Time
	h.gateway.checkoutFn = func(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
		deadline, _ = ctx.Deadline()
		return &CheckoutSession{SessionID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
	}

	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	wantAmount := order.TotalPrice.Add(order.PlatformFee)
	assert.Equal(t, "cs_test_1", session.SessionID)
	assert.True(t, session.Amount.Equal(wantAmount), "amount %s", session.Amount)
	assert.Equal(t, testNow.Add(time.Hour), session.ExpiresAt)
	assert.False(t, deadline.IsZero(), "gateway call must carry a deadline")

	require.Len(t, h.gateway.checkouts, 1)
	req := h.gateway.checkouts[0]
	assert.Equal(t, order.ID, req.OrderID)
	assert.Equal(t, "usd", req.Currency)
	assert.Contains(t, req.Description, "LH400")

	payment := h.payment(t, session.PaymentID)
	assert.Equal(t, enums.PaymentStatusProcessing, payment.Status)
	require.NotNil(t, payment.GatewaySessionID)
	assert.Equal(t, "cs_test_1", *payment.GatewaySessionID)
	assert.True(t, payment.FeeAmount.Equal(DefaultFeeModel().GatewayFee(wantAmount)))
	assert.True(t, payment.NetAmount.Equal(wantAmount.Sub(payment.FeeAmount)))

	assert.Equal(t, enums.OrderStatusProcessing, h.orderStatus(t, order.ID))
	assert.EqualValues(t, 1, testdb.CountOutbox(t, h.db, string(enums.EventOrderPaymentStarted)))
}

func TestInitiatePaymentGatewayFailureCompensates(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	h.gateway.checkoutFn = func(context.Context, CheckoutRequest) (*CheckoutSession, error) {
		return nil, errors.New("stripe: connection reset")
	}

	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.Error(t, err)
	assert.Nil(t, session)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	assert.Equal(t, enums.OrderStatusPending, h.orderStatus(t, order.ID))
	var rows []models.Payment
	require.NoError(t, h.db.Where("order_id = ?", order.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentStatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].FailureReason)
	assert.Equal(t, reasonCheckoutUnavailable, *rows[0].FailureReason)
	assert.EqualValues(t, 1, testdb.CountOutbox(t, h.db, string(enums.EventOrderPaymentRevert)))

	h.gateway.checkoutFn = nil
	retry, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)
	assert.NotEqual(t, rows[0].ID, retry.PaymentID)
	assert.Equal(t, enums.OrderStatusProcessing, h.orderStatus(t, order.ID))
}

// flakyRepo fails the first transition to processing made outside a
// transaction.
type flakyRepo struct {
	Repository
	failed bool
}

func (r *flakyRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, updates map[string]any) (bool, error) {
	if to == enums.PaymentStatusProcessing && !r.failed {
		r.failed = true
		return false, errors.New("connection reset by peer")
	}
	return r.Repository.CompareAndSetStatus(ctx, id, from, to, updates)
}

func TestInitiatePaymentStoreFailureCompensates(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	h.rebuild(t, func(p *ServiceParams) { p.Repo = &flakyRepo{Repository: p.Repo} })

	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.Error(t, err)
	assert.Nil(t, session)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	assert.Equal(t, enums.OrderStatusPending, h.orderStatus(t, order.ID))
	var rows []models.Payment
	require.NoError(t, h.db.Where("order_id = ?", order.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentStatusFailed, rows[0].Status)
	require.Len(t, h.gateway.expired, 1)
	assert.Equal(t, "cs_test_"+rows[0].ID.String(), h.gateway.expired[0])

	retry, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessing, h.payment(t, retry.PaymentID).Status)
}

func TestInitiatePaymentEmptySessionCompensates(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	h.gateway.checkoutFn = func(context.Context, CheckoutRequest) (*CheckoutSession, error) {
		return &CheckoutSession{}, nil
	}

	_, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, enums.OrderStatusPending, h.orderStatus(t, order.ID))
}

func TestInitiatePaymentRequiresPendingOrder(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	_, err := h.orders.CancelOrder(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	_, err = h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, h.gateway.checkouts)

	var count int64
	require.NoError(t, h.db.Model(&models.Payment{}).Where("order_id = ?", order.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInitiatePaymentHidesForeignOrders(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")

	_, err := h.svc.InitiatePayment(context.Background(), customer("user-2"), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, enums.OrderStatusPending, h.orderStatus(t, order.ID))
}

func TestSecondInitiateWhileProcessingIsRejected(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	_, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	_, err = h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Len(t, h.gateway.checkouts, 1)
}

func TestSuccessCallbackPaysAndIssues(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	result, err := h.svc.HandleGatewayCallback(context.Background(), Callback{
		SessionID:       session.SessionID,
		PaymentIntentID: "pi_123",
		Outcome:         enums.GatewayOutcomeSucceeded,
	})
	require.NoError(t, err)
	assert.False(t, result.Discarded)
	assert.Equal(t, enums.PaymentStatusSucceeded, result.PaymentStatus)
	require.NotNil(t, result.CertificateID)
	assert.Equal(t, enums.OrderStatusCompleted, result.OrderStatus)
	assert.Equal(t, []uuid.UUID{order.ID}, h.issuer.calls)

	payment := h.payment(t, session.PaymentID)
	assert.Equal(t, enums.PaymentStatusSucceeded, payment.Status)
	require.NotNil(t, payment.GatewayPaymentIntentID)
	assert.Equal(t, "pi_123", *payment.GatewayPaymentIntentID)
	require.NotNil(t, payment.SucceededAt)

	// The stub issuer does not complete the order.
	assert.Equal(t, enums.OrderStatusPaid, h.orderStatus(t, order.ID))
	assert.EqualValues(t, 1, testdb.CountOutbox(t, h.db, string(enums.EventOrderPaid)))
}

func TestDuplicateSuccessCallbackIsDiscarded(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	cb := Callback{SessionID: session.SessionID, PaymentIntentID: "pi_123", Outcome: enums.GatewayOutcomeSucceeded}
	first, err := h.svc.HandleGatewayCallback(context.Background(), cb)
	require.NoError(t, err)
	require.False(t, first.Discarded)

	second, err := h.svc.HandleGatewayCallback(context.Background(), cb)
	require.NoError(t, err)
	assert.True(t, second.Discarded)
	assert.Equal(t, enums.OrderStatusPaid, second.OrderStatus)
	assert.Equal(t, enums.PaymentStatusSucceeded, second.PaymentStatus)

	assert.Len(t, h.issuer.calls, 1)
	assert.EqualValues(t, 1, testdb.CountOutbox(t, h.db, string(enums.EventOrderPaid)))
}

// staleRepo hands out payments as they looked while still processing.
type staleRepo struct {
	Repository
}

func (r staleRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	payment, err := r.Repository.FindBySessionID(ctx, sessionID)
	if err == nil {
		payment.Status = enums.PaymentStatusProcessing
	}
	return payment, err
}

// staleOrders serves one processing snapshot before reading through.
type staleOrders struct {
	orders.Service
	served bool
}

func (o *staleOrders) LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := o.Service.LoadOrder(ctx, tx, orderID)
	if err == nil && !o.served {
		o.served = true
		order.Status = enums.OrderStatusProcessing
	}
	return order, err
}

func TestCallbackLosingRaceIsDiscarded(t *testing.T) {
	h := newHarness(t)
	order, session := h.paidPayment(t, "user-1")
	require.Len(t, h.issuer.calls, 1)

	h.rebuild(t, func(p *ServiceParams) {
		p.Repo = staleRepo{Repository: p.Repo}
		p.Orders = &staleOrders{Service: h.orders}
	})
	result, err := h.svc.HandleGatewayCallback(context.Background(), Callback{
		SessionID: session.SessionID,
		Outcome:   enums.GatewayOutcomeFailed,
	})
	require.NoError(t, err)
	assert.True(t, result.Discarded)
	assert.Equal(t, enums.OrderStatusPaid, result.OrderStatus)
	assert.Equal(t, enums.PaymentStatusSucceeded, result.PaymentStatus)

	assert.Equal(t, enums.OrderStatusPaid, h.orderStatus(t, order.ID))
	assert.Equal(t, enums.PaymentStatusSucceeded, h.payment(t, session.PaymentID).Status)
	assert.Len(t, h.issuer.calls, 1)
	assert.Zero(t, testdb.CountOutbox(t, h.db, string(enums.EventOrderFailed)))
}

func TestLateFailureAfterSuccessIsDiscarded(t *testing.T) {
	h := newHarness(t)
	order, session := h.paidPayment(t, "user-1")

	result, err := h.svc.HandleGatewayCallback(context.Background(), Callback{
		SessionID: session.SessionID,
		Outcome:   enums.GatewayOutcomeFailed,
	})
	require.NoError(t, err)
	assert.True(t, result.Discarded)
	assert.Equal(t, enums.OrderStatusPaid, h.orderStatus(t, order.ID))
	assert.Equal(t, enums.PaymentStatusSucceeded, h.payment(t, session.PaymentID).Status)
	assert.Zero(t, testdb.CountOutbox(t, h.db, string(enums.EventOrderFailed)))
}

func TestFailureAndExpiryCallbacks(t *testing.T) {
	cases := []struct {
		name          string
		outcome       enums.GatewayOutcome
		reason        string
		paymentStatus enums.PaymentStatus
		wantReason    string
	}{
		{"declined", enums.GatewayOutcomeFailed, "card_declined", enums.PaymentStatusFailed, "card_declined"},
		{"failed without reason", enums.GatewayOutcomeFailed, "", enums.PaymentStatusFailed, reasonPaymentFailed},
		{"expired", enums.GatewayOutcomeExpired, "", enums.PaymentStatusCanceled, reasonCheckoutExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			order := h.createOrder(t, "user-1")
			session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
			require.NoError(t, err)

			result, err := h.svc.HandleGatewayCallback(context.Background(), Callback{
				SessionID:     session.SessionID,
				Outcome:       tc.outcome,
				FailureReason: tc.reason,
			})
			require.NoError(t, err)
			assert.False(t, result.Discarded)
			assert.Equal(t, enums.OrderStatusFailed, result.OrderStatus)
			assert.Nil(t, result.CertificateID)
			assert.Empty(t, h.issuer.calls)

			payment := h.payment(t, session.PaymentID)
			assert.Equal(t, tc.paymentStatus, payment.Status)
			require.NotNil(t, payment.FailureReason)
			assert.Equal(t, tc.wantReason, *payment.FailureReason)
			assert.Equal(t, enums.OrderStatusFailed, h.orderStatus(t, order.ID))
		})
	}
}

func TestIssuerFailureLeavesOrderPaid(t *testing.T) {
	h := newHarness(t)
	h.issuer.issueFn = func(context.Context, uuid.UUID) (*models.Certificate, error) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "registry down")
	}
	order := h.createOrder(t, "user-1")
	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	result, err := h.svc.HandleGatewayCallback(context.Background(), Callback{
		SessionID: session.SessionID,
		Outcome:   enums.GatewayOutcomeSucceeded,
	})
	require.NoError(t, err)
	assert.True(t, result.CertificatePending)
	assert.Nil(t, result.CertificateID)
	assert.Equal(t, enums.OrderStatusPaid, result.OrderStatus)
	assert.Equal(t, enums.OrderStatusPaid, h.orderStatus(t, order.ID))
}

func TestCallbackValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.HandleGatewayCallback(context.Background(), Callback{Outcome: enums.GatewayOutcomeSucceeded})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.HandleGatewayCallback(context.Background(), Callback{SessionID: "cs_1", Outcome: "refunded"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.HandleGatewayCallback(context.Background(), Callback{SessionID: "cs_unknown", Outcome: enums.GatewayOutcomeSucceeded})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSuccessCallbackOnPendingOrderIsInvalidState(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusPending).Error)

	_, err = h.svc.HandleGatewayCallback(context.Background(), Callback{
		SessionID: session.SessionID,
		Outcome:   enums.GatewayOutcomeSucceeded,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, enums.PaymentStatusProcessing, h.payment(t, session.PaymentID).Status)
	assert.Empty(t, h.issuer.calls)
}

func TestRefundFullAndPartial(t *testing.T) {
	h := newHarness(t)
	order, session := h.paidPayment(t, "user-1")
	amount := h.payment(t, session.PaymentID).Amount

	part := dec("100.00")
	refunded, err := h.svc.Refund(context.Background(), admin(), RefundInput{
		PaymentID: session.PaymentID,
		Amount:    &part,
		Reason:    "duplicate booking",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartiallyRefunded, refunded.Status)
	assert.True(t, refunded.RefundedAmount.Equal(part))
	require.NotNil(t, refunded.RefundReason)
	assert.Equal(t, "duplicate booking", *refunded.RefundReason)

	rest, err := h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: session.PaymentID})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, rest.Status)
	assert.True(t, rest.RefundedAmount.Equal(amount), "refunded %s of %s", rest.RefundedAmount, amount)

	require.Len(t, h.gateway.refunds, 2)
	assert.Equal(t, "pi_"+session.PaymentID.String(), h.gateway.refunds[0].PaymentIntentID)
	assert.True(t, h.gateway.refunds[1].Amount.Equal(amount.Sub(part)))
	assert.NotEqual(t, h.gateway.refunds[0].IdempotencyKey, h.gateway.refunds[1].IdempotencyKey)

	assert.EqualValues(t, 2, testdb.CountOutbox(t, h.db, string(enums.EventPaymentRefunded)))
	assert.Equal(t, enums.OrderStatusPaid, h.orderStatus(t, order.ID))

	_, err = h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: session.PaymentID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRefundRejections(t *testing.T) {
	h := newHarness(t)
	_, session := h.paidPayment(t, "user-1")

	_, err := h.svc.Refund(context.Background(), customer("user-1"), RefundInput{PaymentID: session.PaymentID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	tooMuch := dec("99999.00")
	_, err = h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: session.PaymentID, Amount: &tooMuch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	zero := dec("0")
	_, err = h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: session.PaymentID, Amount: &zero})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	fraction := dec("1.005")
	_, err = h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: session.PaymentID, Amount: &fraction})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	assert.Empty(t, h.gateway.refunds)
}

func TestRefundRequiresSettledPayment(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	_, err = h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: session.PaymentID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, h.gateway.refunds)
}

func TestRefundGatewayFailureLeavesPaymentUntouched(t *testing.T) {
	h := newHarness(t)
	_, session := h.paidPayment(t, "user-1")
	h.gateway.refundFn = func(context.Context, RefundRequest) (*RefundConfirmation, error) {
		return nil, errors.New("stripe: timeout")
	}

	_, err := h.svc.Refund(context.Background(), admin(), RefundInput{PaymentID: session.PaymentID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	payment := h.payment(t, session.PaymentID)
	assert.Equal(t, enums.PaymentStatusSucceeded, payment.Status)
	assert.True(t, payment.RefundedAmount.IsZero())
	assert.Zero(t, testdb.CountOutbox(t, h.db, string(enums.EventPaymentRefunded)))
}

func TestPaymentReadsRespectOwnership(t *testing.T) {
	h := newHarness(t)
	order, session := h.paidPayment(t, "user-1")

	payment, err := h.svc.GetPayment(context.Background(), customer("user-1"), session.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, payment.OrderID)

	_, err = h.svc.GetPayment(context.Background(), customer("user-2"), session.PaymentID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.GetPayment(context.Background(), admin(), session.PaymentID)
	require.NoError(t, err)

	rows, err := h.svc.ListForOrder(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, session.PaymentID, rows[0].ID)

	_, err = h.svc.ListForOrder(context.Background(), customer("user-2"), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	view := View(payment)
	assert.Equal(t, payment.ID, view.ID)
	assert.True(t, view.Amount.Equal(payment.Amount))
}

func TestExpireStale(t *testing.T) {
	h := newHarness(t)

	withSession := h.createOrder(t, "user-1")
	session, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), withSession.ID)
	require.NoError(t, err)

	// An attempt whose process died between the order transition and the
	// gateway call.
	orphan := h.createOrder(t, "user-2")
	orphanPayment := &models.Payment{
		OrderID:   orphan.ID,
		Amount:    orphan.TotalPrice.Add(orphan.PlatformFee),
		Currency:  "usd",
		Status:    enums.PaymentStatusPending,
		FeeAmount: dec("1.00"),
		NetAmount: dec("1.00"),
	}
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		if _, err := h.orders.BeginPayment(context.Background(), tx, orphan.ID); err != nil {
			return err
		}
		return NewRepository(tx).Create(context.Background(), orphanPayment)
	}))

	settled, _ := h.paidPayment(t, "user-3")

	n, err := h.svc.ExpireStale(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, enums.PaymentStatusCanceled, h.payment(t, session.PaymentID).Status)
	assert.Equal(t, enums.OrderStatusFailed, h.orderStatus(t, withSession.ID))

	assert.Equal(t, enums.PaymentStatusFailed, h.payment(t, orphanPayment.ID).Status)
	assert.Equal(t, enums.OrderStatusPending, h.orderStatus(t, orphan.ID))

	assert.Equal(t, enums.OrderStatusPaid, h.orderStatus(t, settled.ID))

	n, err = h.svc.ExpireStale(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireStaleIgnoresFreshPayments(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, "user-1")
	_, err := h.svc.InitiatePayment(context.Background(), customer("user-1"), order.ID)
	require.NoError(t, err)

	n, err := h.svc.ExpireStale(context.Background(), time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, enums.OrderStatusProcessing, h.orderStatus(t, order.ID))
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
