package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType is the gateway-declared category of a webhook callback.
type EventType string

const (
	EventTypePayment      EventType = "payment"
	EventTypePlan         EventType = "plan"
	EventTypeSubscription EventType = "subscription"
	EventTypeInvoice      EventType = "invoice"
	EventTypeOther        EventType = "other"
)

// ParseEventType maps the raw "type" field of a callback onto a known EventType.
// Anything unrecognised becomes EventTypeOther.
func ParseEventType(raw string) EventType {
	switch EventType(raw) {
	case EventTypePayment, EventTypePlan, EventTypeSubscription, EventTypeInvoice:
		return EventType(raw)
	default:
		return EventTypeOther
	}
}

// WebhookStatus is the processing state of a stored callback.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusFailed    WebhookStatus = "failed"
	WebhookStatusIgnored   WebhookStatus = "ignored"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s WebhookStatus) IsTerminal() bool {
	switch s {
	case WebhookStatusProcessed, WebhookStatusFailed, WebhookStatusIgnored:
		return true
	}
	return false
}

const (
	EnvironmentTest       = "test"
	EnvironmentProduction = "production"
)

// WebhookEvent is one row per inbound callback, keyed by the gateway's event id.
// Rows are never deleted. RawPayload keeps the signed bytes exactly as
// delivered. ClaimedAt is when a delivery last took ownership of a pending row.
type WebhookEvent struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalEventID string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"event_id"`
	EventType       EventType      `gorm:"type:varchar(32);not null;index" json:"event_type"`
	Environment     string         `gorm:"type:varchar(16);not null" json:"environment"`
	Status          WebhookStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	RawPayload      []byte         `gorm:"type:bytea" json:"-"`
	ProcessedResult datatypes.JSON `json:"processed_result,omitempty"`
	SignatureValid  bool           `gorm:"not null" json:"signature_valid"`
	SourceAddress   *string        `gorm:"type:varchar(64)" json:"source_address,omitempty"`
	ErrorMessage    *string        `gorm:"type:text" json:"error_message,omitempty"`
	ResponseStatus  int            `gorm:"not null" json:"-"`
	ResponseBody    datatypes.JSON `json:"-"`
	ReceivedAt      time.Time      `gorm:"not null;index" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ClaimedAt       time.Time      `gorm:"index" json:"-"`
	Attempts        int            `gorm:"not null;default:1" json:"attempts"`
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = WebhookStatusPending
	}
	if e.ClaimedAt.IsZero() {
		e.ClaimedAt = e.ReceivedAt
	}
	return nil
}

// WebhookLog is an append-only diagnostic line attached to a webhook event.
type WebhookLog struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	WebhookEventID *uuid.UUID     `gorm:"type:uuid;index" json:"webhook_event_id,omitempty"`
	Level          string         `gorm:"type:varchar(10);not null" json:"level"`
	Message        string         `gorm:"type:text;not null" json:"message"`
	Details        datatypes.JSON `json:"details,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// WebhookStats is the operator view returned by the status endpoint.
type WebhookStats struct {
	Total     int64 `json:"total_events"`
	Pending   int64 `json:"pending_events"`
	Processed int64 `json:"processed_events"`
	Failed    int64 `json:"failed_events"`
	Ignored   int64 `json:"ignored_events"`
}

// RecentWebhookEvent is the summary of one event in the status endpoint.
type RecentWebhookEvent struct {
	ID             uuid.UUID     `json:"id"`
	EventType      EventType     `json:"event_type"`
	EventID        string        `json:"event_id"`
	Status         WebhookStatus `json:"status"`
	ReceivedAt     time.Time     `json:"received_at"`
	SignatureValid bool          `json:"signature_valid"`
}
