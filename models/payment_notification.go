package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentOutcome is the internal reading of a gateway payment status.
type PaymentOutcome string

const (
	OutcomeApproved  PaymentOutcome = "approved"
	OutcomeRejected  PaymentOutcome = "rejected"
	OutcomeCancelled PaymentOutcome = "cancelled"
	OutcomePending   PaymentOutcome = "pending"
)

// NotificationType is the label stored alongside a payment notification.
func (o PaymentOutcome) NotificationType() string {
	return "payment_" + string(o)
}

// PaymentNotification records one interpreted payment outcome, 1:1 with the
// webhook event that produced it.
type PaymentNotification struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	WebhookEventID    uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null" json:"webhook_event_id"`
	NotificationType  string         `gorm:"type:varchar(32);not null" json:"notification_type"`
	PaymentID         string         `gorm:"type:varchar(64);not null;index" json:"payment_id"`
	ExternalReference string         `gorm:"type:varchar(64);not null;index" json:"external_reference"`
	Amount            int64          `gorm:"not null" json:"amount"` // minor units
	Currency          string         `gorm:"type:varchar(10);not null" json:"currency"`
	Outcome           PaymentOutcome `gorm:"type:varchar(16);not null" json:"outcome"`
	GatewayStatus     string         `gorm:"type:varchar(32)" json:"gateway_status"`
	PaymentMethod     string         `gorm:"type:varchar(32)" json:"payment_method"`
	SettledAt         *time.Time     `json:"settled_at,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (n *PaymentNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
