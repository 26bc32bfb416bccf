package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PurchaseStatus string

const (
	PurchaseStatusPending    PurchaseStatus = "pending"
	PurchaseStatusProcessing PurchaseStatus = "processing"
	PurchaseStatusApproved   PurchaseStatus = "approved"
	PurchaseStatusRejected   PurchaseStatus = "rejected"
	PurchaseStatusCancelled  PurchaseStatus = "cancelled"
	PurchaseStatusRefunded   PurchaseStatus = "refunded"
)

// IsTerminal reports whether the purchase can no longer change status.
func (s PurchaseStatus) IsTerminal() bool {
	switch s {
	case PurchaseStatusApproved, PurchaseStatusRejected, PurchaseStatusCancelled, PurchaseStatusRefunded:
		return true
	}
	return false
}

// Purchase is an order for Quantity units of one Ticket.
// StockReserved is true while the purchase holds a decrement of the ticket's capacity.
type Purchase struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TicketID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"ticket_id"`
	BuyerID          string         `gorm:"type:varchar(64);not null;index" json:"buyer_id"`
	Quantity         int            `gorm:"not null;check:quantity > 0" json:"quantity"`
	TotalPrice       int64          `gorm:"not null;check:total_price >= 0" json:"total_price"` // minor units
	Currency         string         `gorm:"type:varchar(10);not null" json:"currency"`
	Status           PurchaseStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	StockReserved    bool           `gorm:"not null" json:"stock_reserved"`
	GatewayPaymentID *string        `gorm:"type:varchar(64);index" json:"gateway_payment_id,omitempty"`
	PaymentOutcome   *string        `gorm:"type:varchar(32)" json:"payment_outcome,omitempty"`
	PaymentSettledAt *time.Time     `json:"payment_settled_at,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Purchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PurchaseStatusPending
	}
	return nil
}

// CreatePurchaseRequest is the payload for POST /purchases.
type CreatePurchaseRequest struct {
	TicketID      uuid.UUID `json:"ticket_id" binding:"required"`
	Quantity      int       `json:"quantity" binding:"required,gt=0"`
	PaymentMethod string    `json:"payment_method" binding:"omitempty,max=32"`
	PayerEmail    string    `json:"payer_email" binding:"omitempty,email"`
	PayerName     string    `json:"payer_name" binding:"omitempty,max=128"`
	PayerDocument string    `json:"payer_document" binding:"omitempty,max=32"`
	CardToken     string    `json:"card_token" binding:"omitempty"`
	Installments  int       `json:"installments" binding:"omitempty,gte=1,lte=12"`
}

// PurchaseResponse wraps a created purchase with the outcome of the gateway call.
type PurchaseResponse struct {
	Purchase     *Purchase `json:"purchase"`
	PaymentError string    `json:"payment_error,omitempty"`
}
