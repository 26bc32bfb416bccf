package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"gorm.io/gorm"
)

type WebhookLogRepository interface {
	Create(ctx context.Context, entry *models.WebhookLog) error
	FindByEvent(ctx context.Context, eventID uuid.UUID) ([]models.WebhookLog, error)
}

type GormWebhookLogRepository struct {
	db *gorm.DB
}

func NewGormWebhookLogRepository(db *gorm.DB) WebhookLogRepository {
	return &GormWebhookLogRepository{db: db}
}

func (r *GormWebhookLogRepository) Create(ctx context.Context, entry *models.WebhookLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *GormWebhookLogRepository) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]models.WebhookLog, error) {
	var logs []models.WebhookLog
	err := r.db.WithContext(ctx).
		Where("webhook_event_id = ?", eventID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
