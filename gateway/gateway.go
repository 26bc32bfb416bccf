// Package gateway talks to the external payment provider.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Raw status values reported by the provider, normalised to one vocabulary
// regardless of which provider produced them.
const (
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusPending    = "pending"
	StatusInProcess  = "in_process"
	StatusAuthorized = "authorized"
	StatusRefunded   = "refunded"
)

var (
	ErrPaymentNotFound = errors.New("payment not found at gateway")
	ErrNotConfigured   = errors.New("payment gateway not configured")
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded with status %d: %s", e.StatusCode, e.Body)
}

// Payment is the provider's authoritative view of one payment.
type Payment struct {
	ID                string
	Status            string
	ExternalReference string
	Amount            int64 // minor units
	Currency          string
	PaymentMethod     string
	SettledAt         *time.Time
}

type CreatePaymentRequest struct {
	ExternalReference string
	Amount            int64 // minor units
	Currency          string
	Description       string
	PaymentMethod     string
	PayerEmail        string
	PayerName         string
	PayerDocument     string
	CardToken         string
	Installments      int
	Metadata          map[string]string
}

// Gateway is the payment provider collaborator.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// Registry selects the gateway credentials for a webhook environment.
type Registry map[string]Gateway

func (r Registry) Get(environment string) (Gateway, error) {
	gw, ok := r[environment]
	if !ok || gw == nil {
		return nil, fmt.Errorf("%w for environment %q", ErrNotConfigured, environment)
	}
	return gw, nil
}
