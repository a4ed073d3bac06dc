package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/safmarket/saf-backend/api/responses"
	"github.com/safmarket/saf-backend/internal/payments"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
)

// Stripe caps event payloads well below this.
const maxEventBytes = 64 << 10

type EventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (*payments.CallbackResult, error)
}

type EventLedger interface {
	Once(ctx context.Context, eventID string, apply func(context.Context) error) (bool, error)
}

type SigningSecretSource interface {
	SigningSecret() string
}

// StripeWebhook verifies the Stripe-Signature header and hands the event to
// the payment callback path at most once per event id. Duplicate deliveries
// are acknowledged with an empty 200.
func StripeWebhook(handler EventHandler, secrets SigningSecretSource, ledger EventLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if handler == nil || secrets == nil || ledger == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		event, err := verifiedEvent(r, secrets.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id":   event.ID,
				"stripe_event_type": string(event.Type),
			})
		}

		var result *payments.CallbackResult
		applied, err := ledger.Once(ctx, event.ID, func(ctx context.Context) error {
			var handleErr error
			result, handleErr = handler.HandleEvent(ctx, &event)
			return handleErr
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			if applied {
				logg.Info(ctx, "stripe event applied")
			} else {
				logg.Info(ctx, "stripe event redelivered, skipped")
			}
		}
		responses.WriteSuccess(w, result)
	}
}

func verifiedEvent(r *http.Request, secret string) (stripe.Event, error) {
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "Stripe-Signature header missing")
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body")
	}
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "stripe signature verification failed")
	}
	return event, nil
}
