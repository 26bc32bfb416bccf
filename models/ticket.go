package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultMaxPerBuyer = 5

// Ticket is one sellable ticket type. CapacityRemaining only changes inside a
// reservation transaction.
type Ticket struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string    `gorm:"type:varchar(128);not null" json:"name"`
	EventName         string    `gorm:"type:varchar(200);not null" json:"event_name"`
	Price             int64     `gorm:"not null" json:"price"` // minor units
	Currency          string    `gorm:"type:varchar(10);not null" json:"currency"`
	Capacity          int       `gorm:"not null" json:"capacity"`
	CapacityRemaining int       `gorm:"not null;check:capacity_remaining >= 0" json:"capacity_remaining"`
	MaxPerBuyer       int       `gorm:"not null" json:"max_per_buyer"`
	IsActive          bool      `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// CreateTicketRequest is the payload for POST /tickets.
type CreateTicketRequest struct {
	Name        string `json:"name" binding:"required,max=128"`
	EventName   string `json:"event_name" binding:"required,max=200"`
	Price       int64  `json:"price" binding:"gte=0"`
	Currency    string `json:"currency" binding:"omitempty,len=3"`
	Capacity    int    `json:"capacity" binding:"required,gt=0"`
	MaxPerBuyer int    `json:"max_per_buyer" binding:"omitempty,gt=0"`
	IsActive    *bool  `json:"is_active"`
}

// AdjustStockRequest is the payload for the operator stock endpoints.
type AdjustStockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}
