package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"

	pkgstripe "github.com/safmarket/saf-backend/pkg/stripe"
)

// Metadata keys stamped on checkout sessions and payment intents.
const (
	MetadataOrderID   = "order_id"
	MetadataPaymentID = "payment_id"
)

type stripeGateway struct {
	successURL string
	cancelURL  string

	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	expire     func(string, *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
	newRefund  func(*stripe.RefundParams) (*stripe.Refund, error)
}

// NewStripeGateway adapts Stripe Checkout to the Gateway contract.
func NewStripeGateway(client *pkgstripe.Client) (Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	success, cancel := client.RedirectURLs()
	return &stripeGateway{
		successURL: success,
		cancelURL:  cancel,
		newSession: session.New,
		expire:     session.Expire,
		newRefund:  refund.New,
	}, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := g.checkoutParams(req)
	params.Context = ctx

	sess, err := g.newSession(params)
	if err != nil {
		return nil, err
	}
	out := &CheckoutSession{SessionID: sess.ID, URL: sess.URL}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	return out, nil
}

func (g *stripeGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	sess, err := g.expire(sessionID, params)
	if err != nil {
		return err
	}
	if sess.Status == stripe.CheckoutSessionStatusComplete {
		return fmt.Errorf("checkout session %s already completed", sessionID)
	}
	return nil
}

func (g *stripeGateway) checkoutParams(req CheckoutRequest) *stripe.CheckoutSessionParams {
	metadata := map[string]string{
		MetadataOrderID:   req.OrderID.String(),
		MetadataPaymentID: req.PaymentID.String(),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withQuery(g.successURL, "session_id={CHECKOUT_SESSION_ID}")),
		CancelURL:         stripe.String(withQuery(g.cancelURL, "order_id="+req.OrderID.String())),
		ClientReferenceID: stripe.String(req.OrderID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(pkgstripe.ToMinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	params.SetIdempotencyKey("checkout-" + req.PaymentID.String())
	return params
}

func (g *stripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundConfirmation, error) {
	if req.PaymentIntentID == "" {
		return nil, fmt.Errorf("payment intent id required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Amount:        stripe.Int64(pkgstripe.ToMinorUnits(req.Amount)),
	}
	params.Context = ctx
	params.AddMetadata(MetadataPaymentID, req.PaymentID.String())
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := g.newRefund(params)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return nil, fmt.Errorf("stripe refund %s ended %s", r.ID, r.Status)
	}
	return &RefundConfirmation{RefundID: r.ID, Status: string(r.Status)}, nil
}

func withQuery(base, query string) string {
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}
