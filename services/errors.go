package services

import "errors"

// ServiceError represents a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

var (
	ErrMissingPaymentID = errors.New("missing payment id")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrGatewayTimeout   = errors.New("gateway timeout")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrCapacityExceeded = errors.New("release exceeds ticket capacity")
)
