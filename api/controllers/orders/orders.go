package orders

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/safmarket/saf-backend/api/controllers"
	"github.com/safmarket/saf-backend/api/controllers/actorcontext"
	"github.com/safmarket/saf-backend/api/responses"
	"github.com/safmarket/saf-backend/api/validators"
	"github.com/safmarket/saf-backend/internal/certificates"
	internalorders "github.com/safmarket/saf-backend/internal/orders"
	"github.com/safmarket/saf-backend/internal/quotes"
	"github.com/safmarket/saf-backend/pkg/db/models"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/pagination"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, actor internalorders.Actor, input internalorders.ListInput) (*internalorders.OrderList, error)
	Stats(ctx context.Context, actor internalorders.Actor, ownerID string) (*internalorders.Stats, error)
}

type OrderCanceller interface {
	CancelOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*models.Order, error)
}

type QuoteRedeemer interface {
	Redeem(token string) (quotes.Quote, error)
}

type CertificateReader interface {
	GetForOrder(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*models.Certificate, error)
	Artifact(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*certificates.Document, error)
}

type createOrderRequest struct {
	QuoteToken string                    `json:"quote_token" validate:"required"`
	Flight     controllers.FlightRequest `json:"flight"`
	Notes      *string                   `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// Create opens a PENDING order from a previously issued quote token.
func Create(svc OrderCreator, redeemer QuoteRedeemer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || redeemer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := redeemer.Redeem(body.QuoteToken)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CreateOrder(r.Context(), internalorders.CreateOrderInput{
			OwnerID: actor.UserID,
			Flight:  body.Flight.Input(),
			Quote:   quote,
			Notes:   body.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalorders.Summarize(order))
	}
}

// List returns the caller's orders. Admins may pass owner_id to narrow the set.
func List(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		q := validators.Query(r)
		input := internalorders.ListInput{
			OwnerID:      q.String("owner_id", 128),
			Status:       q.String("status", 32),
			FlightNumber: q.String("flight_number", 16),
			DateFrom:     q.String("date_from", 10),
			DateTo:       q.String("date_to", 10),
			Sort:         q.String("sort", 16),
			Order:        q.String("order", 4),
			Page:         q.Int("page", 1, 1, 10000),
			Size:         q.Int("size", pagination.DefaultSize, 1, pagination.MaxSize),
		}
		if err := q.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListOrders(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func Stats(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.Stats(r.Context(), actor, validators.Query(r).String("owner_id", 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func Detail(svc OrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.GetOrder(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.Summarize(order))
	}
}

// Cancel moves a PENDING order to CANCELLED.
func Cancel(svc OrderCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.CancelOrder(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.Summarize(order))
	}
}

// Certificate downloads the rendered certificate of a completed order, or
// its metadata when format=json is requested.
func Certificate(svc CertificateReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "json") {
			cert, err := svc.GetForOrder(r.Context(), actor, orderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, certificates.NewView(cert))
			return
		}

		doc, err := svc.Artifact(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Content-Type", doc.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(doc.Body); err != nil && logg != nil {
			logg.Error(r.Context(), "write certificate artifact", err)
		}
	}
}

func actorAndOrder(r *http.Request) (internalorders.Actor, uuid.UUID, error) {
	actor, err := actorcontext.ResolveActor(r)
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, err
	}
	orderID, err := actorcontext.PathUUID(r, "orderId")
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, err
	}
	return actor, orderID, nil
}
