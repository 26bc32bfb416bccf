package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
)

const metadataExternalReference = "external_reference"

// StripeGateway backs the collaborator with Stripe PaymentIntents. Each
// instance carries its own key so test and production can coexist.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a client for secretKey. backends may be nil to use
// the default Stripe endpoints.
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.PayerEmail != "" {
		params.ReceiptEmail = stripe.String(req.PayerEmail)
	}
	params.Context = ctx
	params.AddMetadata(metadataExternalReference, req.ExternalReference)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey("purchase-" + req.ExternalReference)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, translateStripeError(err)
	}
	return paymentFromIntent(pi), nil
}

func (g *StripeGateway) GetPayment(ctx context.Context, id string) (*Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, translateStripeError(err)
	}
	return paymentFromIntent(pi), nil
}

func paymentFromIntent(pi *stripe.PaymentIntent) *Payment {
	payment := &Payment{
		ID:                pi.ID,
		Status:            MapStripeStatus(pi),
		ExternalReference: pi.Metadata[metadataExternalReference],
		Amount:            pi.Amount,
		Currency:          strings.ToUpper(string(pi.Currency)),
	}
	if len(pi.PaymentMethodTypes) > 0 {
		payment.PaymentMethod = pi.PaymentMethodTypes[0]
	}
	// Settlement is the successful charge, not the intent's creation. Without
	// an expanded charge the time is unknown.
	if pi.Status == stripe.PaymentIntentStatusSucceeded && pi.LatestCharge != nil && pi.LatestCharge.Created > 0 {
		settled := time.Unix(pi.LatestCharge.Created, 0).UTC()
		payment.SettledAt = &settled
	}
	return payment
}

// MapStripeStatus folds a PaymentIntent status into the gateway vocabulary.
// A PaymentIntent asking for a new payment method after a failed attempt is
// a rejection; before any attempt it is still pending.
func MapStripeStatus(pi *stripe.PaymentIntent) string {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusApproved
	case stripe.PaymentIntentStatusCanceled:
		return StatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return StatusRejected
		}
		return StatusPending
	case stripe.PaymentIntentStatusProcessing:
		return StatusInProcess
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusAuthorized
	default:
		return StatusPending
	}
}

func translateStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return ErrPaymentNotFound
		}
		return &APIError{StatusCode: stripeErr.HTTPStatusCode, Body: stripeErr.Msg}
	}
	return err
}
