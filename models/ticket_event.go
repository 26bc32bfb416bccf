package models

import "time"

// Domain event types published after a state change commits.
const (
	EventPurchaseApproved  = "purchase_approved"
	EventPurchaseRejected  = "purchase_rejected"
	EventPurchaseCancelled = "purchase_cancelled"
	EventInventoryReserved = "inventory_reserved"
	EventInventoryReleased = "inventory_released"
)

type TicketEvent struct {
	EventType  string    `json:"event_type"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	TicketID   string    `json:"ticket_id"`
	BuyerID    string    `json:"buyer_id,omitempty"`
	Quantity   int       `json:"quantity"`
	Remaining  *int      `json:"remaining,omitempty"`
	Status     string    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AllModels lists every table this service owns, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&Ticket{},
		&Purchase{},
		&WebhookEvent{},
		&WebhookLog{},
		&PaymentNotification{},
	}
}
