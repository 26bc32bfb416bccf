package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tx is the set of operations allowed inside one database transaction.
// Lock methods take an exclusive row lock held until the transaction ends.
type Tx interface {
	LockTicket(id uuid.UUID) (*models.Ticket, error)
	DecrementCapacity(ticketID uuid.UUID, quantity int) error
	IncrementCapacity(ticketID uuid.UUID, quantity int) error
	LockPurchase(id uuid.UUID) (*models.Purchase, error)
	CreatePurchase(purchase *models.Purchase) error
	UpdatePurchase(id uuid.UUID, updates map[string]interface{}) error
	CreatePaymentNotification(notification *models.PaymentNotification) error
	FinalizeEvent(id uuid.UUID, outcome EventOutcome) error
}

// Store runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &GormStore{db: db}
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockTicket(id uuid.UUID) (*models.Ticket, error) {
	var ticket models.Ticket
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&ticket).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ticket, nil
}

// DecrementCapacity is conditional on enough capacity so that a caller that
// skipped LockTicket still cannot drive the counter negative.
func (t *gormTx) DecrementCapacity(ticketID uuid.UUID, quantity int) error {
	result := t.db.Model(&models.Ticket{}).
		Where("id = ? AND capacity_remaining >= ?", ticketID, quantity).
		UpdateColumn("capacity_remaining", gorm.Expr("capacity_remaining - ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (t *gormTx) IncrementCapacity(ticketID uuid.UUID, quantity int) error {
	result := t.db.Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		UpdateColumn("capacity_remaining", gorm.Expr("capacity_remaining + ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTx) LockPurchase(id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&purchase).Error
	if err != nil {
		return nil, translate(err)
	}
	return &purchase, nil
}

func (t *gormTx) CreatePurchase(purchase *models.Purchase) error {
	return t.db.Create(purchase).Error
}

func (t *gormTx) UpdatePurchase(id uuid.UUID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := t.db.Model(&models.Purchase{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTx) CreatePaymentNotification(notification *models.PaymentNotification) error {
	return t.db.Create(notification).Error
}

func (t *gormTx) FinalizeEvent(id uuid.UUID, outcome EventOutcome) error {
	return finalizeEvent(t.db, id, outcome)
}
