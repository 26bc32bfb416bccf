package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"gorm.io/gorm"
)

// PurchaseRepository defines reads and single-statement updates of purchases.
type PurchaseRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	// QuantityHeldByBuyer sums the quantity of the buyer's purchases of a
	// ticket that are not rejected, cancelled or refunded.
	QuantityHeldByBuyer(ctx context.Context, ticketID uuid.UUID, buyerID string) (int, error)
	// AttachPayment records the gateway payment id once and moves a pending
	// purchase to processing. A purchase already advanced by a webhook keeps
	// its status.
	AttachPayment(ctx context.Context, id uuid.UUID, gatewayPaymentID string) error
}

type GormPurchaseRepository struct {
	db *gorm.DB
}

func NewGormPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &GormPurchaseRepository{db: db}
}

func (r *GormPurchaseRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&purchase).Error; err != nil {
		return nil, translate(err)
	}
	return &purchase, nil
}

func (r *GormPurchaseRepository) QuantityHeldByBuyer(ctx context.Context, ticketID uuid.UUID, buyerID string) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("ticket_id = ? AND buyer_id = ?", ticketID, buyerID).
		Where("status NOT IN ?", []models.PurchaseStatus{
			models.PurchaseStatusRejected,
			models.PurchaseStatusCancelled,
			models.PurchaseStatusRefunded,
		}).
		Scan(&total).Error
	return total, err
}

func (r *GormPurchaseRepository) AttachPayment(ctx context.Context, id uuid.UUID, gatewayPaymentID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND gateway_payment_id IS NULL", id).
		Updates(map[string]interface{}{
			"gateway_payment_id": gatewayPaymentID,
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				models.PurchaseStatusPending, models.PurchaseStatusProcessing),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTerminalState
	}
	return nil
}
