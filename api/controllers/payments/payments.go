package payments

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/api/controllers/actorcontext"
	"github.com/safmarket/saf-backend/api/responses"
	"github.com/safmarket/saf-backend/api/validators"
	internalorders "github.com/safmarket/saf-backend/internal/orders"
	internalpayments "github.com/safmarket/saf-backend/internal/payments"
	"github.com/safmarket/saf-backend/pkg/db/models"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
)

type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalpayments.Session, error)
}

type PaymentLister interface {
	ListForOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) ([]models.Payment, error)
}

type PaymentReader interface {
	GetPayment(ctx context.Context, actor internalorders.Actor, paymentID uuid.UUID) (*models.Payment, error)
}

type PaymentRefunder interface {
	Refund(ctx context.Context, actor internalorders.Actor, input internalpayments.RefundInput) (*models.Payment, error)
}

// Initiate moves the order to PROCESSING and opens a hosted checkout session.
func Initiate(svc PaymentInitiator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := actorcontext.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.InitiatePayment(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

func List(svc PaymentLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := actorcontext.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListForOrder(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]internalpayments.PaymentView, 0, len(rows))
		for i := range rows {
			views = append(views, internalpayments.View(&rows[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// Status returns one payment. Customers only see payments on their own orders.
func Status(svc PaymentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := actorcontext.PathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.GetPayment(r.Context(), actor, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalpayments.View(payment))
	}
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason" validate:"max=200"`
}

// Refund returns part or all of a settled payment. An omitted amount
// refunds the remaining balance.
func Refund(svc PaymentRefunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := actorcontext.PathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body refundRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Refund(r.Context(), actor, internalpayments.RefundInput{
			PaymentID: paymentID,
			Amount:    body.Amount,
			Reason:    body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalpayments.View(payment))
	}
}
