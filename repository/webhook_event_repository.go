package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventOutcome is the terminal state written onto a webhook event.
type EventOutcome struct {
	Status          models.WebhookStatus
	SignatureValid  bool
	ProcessedResult datatypes.JSON
	ErrorMessage    string
	ResponseStatus  int
	ResponseBody    datatypes.JSON
	At              time.Time
}

// WebhookEventRepository defines data access for the webhook ledger.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless its external id is already
	// stored. created is false for a duplicate delivery.
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (created bool, err error)
	FindByExternalID(ctx context.Context, externalID string) (*models.WebhookEvent, error)
	// Finalize moves a pending event to a terminal status. It returns
	// ErrTerminalState if the event is no longer pending.
	Finalize(ctx context.Context, id uuid.UUID, outcome EventOutcome) error
	// Reclaim hands a pending event claimed before staleBefore to the caller.
	// It reports false when the event is terminal or another delivery holds
	// a fresher claim.
	Reclaim(ctx context.Context, id uuid.UUID, staleBefore, now time.Time) (bool, error)
	Stats(ctx context.Context) (*models.WebhookStats, error)
	Recent(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type GormWebhookEventRepository struct {
	db *gorm.DB
}

func NewGormWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

func (r *GormWebhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormWebhookEventRepository) FindByExternalID(ctx context.Context, externalID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalID).
		First(&event).Error
	if err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

func (r *GormWebhookEventRepository) Finalize(ctx context.Context, id uuid.UUID, outcome EventOutcome) error {
	return finalizeEvent(r.db.WithContext(ctx), id, outcome)
}

func (r *GormWebhookEventRepository) Reclaim(ctx context.Context, id uuid.UUID, staleBefore, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ? AND claimed_at < ?", id, models.WebhookStatusPending, staleBefore).
		Updates(map[string]interface{}{
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormWebhookEventRepository) Stats(ctx context.Context) (*models.WebhookStats, error) {
	var rows []struct {
		Status models.WebhookStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &models.WebhookStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.WebhookStatusPending:
			stats.Pending = row.Count
		case models.WebhookStatusProcessed:
			stats.Processed = row.Count
		case models.WebhookStatusFailed:
			stats.Failed = row.Count
		case models.WebhookStatusIgnored:
			stats.Ignored = row.Count
		}
	}
	return stats, nil
}

func (r *GormWebhookEventRepository) Recent(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Order("received_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// finalizeEvent is shared by the repository and the transaction scope so the
// pending-only guard is applied identically in both.
func finalizeEvent(db *gorm.DB, id uuid.UUID, outcome EventOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finalize event %s: %q is not a terminal status", id, outcome.Status)
	}
	if outcome.At.IsZero() {
		outcome.At = time.Now()
	}

	updates := map[string]interface{}{
		"status":          outcome.Status,
		"signature_valid": outcome.SignatureValid,
		"response_status": outcome.ResponseStatus,
		"processed_at":    outcome.At,
	}
	if len(outcome.ProcessedResult) > 0 {
		updates["processed_result"] = outcome.ProcessedResult
	}
	if len(outcome.ResponseBody) > 0 {
		updates["response_body"] = outcome.ResponseBody
	}
	if outcome.ErrorMessage != "" {
		updates["error_message"] = outcome.ErrorMessage
	}

	result := db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ?", id, models.WebhookStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTerminalState
	}
	return nil
}
