package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/safmarket/saf-backend/internal/payments"
	"github.com/safmarket/saf-backend/pkg/enums"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
)

const reasonAsyncPaymentFailed = "asynchronous payment failed"

type callbackHandler interface {
	HandleGatewayCallback(ctx context.Context, cb payments.Callback) (*payments.CallbackResult, error)
}

type ServiceParams struct {
	Payments callbackHandler
	Logger   *logger.Logger
}

// Service translates Stripe Checkout events into payment callbacks.
type Service struct {
	payments callbackHandler
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		payments: params.Payments,
		logg:     params.Logger,
	}, nil
}

// HandleEvent applies a verified Stripe event. It returns a nil result for
// events that carry no payment outcome or reference a session this service
// did not open.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (*payments.CallbackResult, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	var outcome enums.GatewayOutcome
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		outcome = enums.GatewayOutcomeSucceeded
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		outcome = enums.GatewayOutcomeFailed
	case stripe.EventTypeCheckoutSessionExpired:
		outcome = enums.GatewayOutcomeExpired
	default:
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}
	if sess.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
		"session_id":        sess.ID,
	})

	// Delayed payment methods complete the session unpaid and settle later
	// through the async events.
	if event.Type == stripe.EventTypeCheckoutSessionCompleted && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		s.logg.Info(ctx, "checkout completed with payment outstanding")
		return nil, nil
	}

	cb := payments.Callback{SessionID: sess.ID, Outcome: outcome}
	if sess.PaymentIntent != nil {
		cb.PaymentIntentID = sess.PaymentIntent.ID
		if outcome == enums.GatewayOutcomeFailed && sess.PaymentIntent.LastPaymentError != nil {
			cb.FailureReason = sess.PaymentIntent.LastPaymentError.Msg
		}
	}
	if outcome == enums.GatewayOutcomeFailed && cb.FailureReason == "" {
		cb.FailureReason = reasonAsyncPaymentFailed
	}

	result, err := s.payments.HandleGatewayCallback(ctx, cb)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "stripe event for unknown checkout session ignored")
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}
