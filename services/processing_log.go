package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProcessingLog writes each pipeline step to zap and to the webhook_logs
// table. Persisting a line never affects the outcome of the step.
// It must not be called while a transaction is open.
type ProcessingLog struct {
	repo   repository.WebhookLogRepository
	logger *zap.Logger
}

// NewProcessingLog returns a log that only writes to zap when repo is nil.
func NewProcessingLog(repo repository.WebhookLogRepository, logger *zap.Logger) *ProcessingLog {
	return &ProcessingLog{repo: repo, logger: logger}
}

func (p *ProcessingLog) Info(ctx context.Context, eventID uuid.UUID, msg string, details map[string]interface{}) {
	p.record(ctx, zapcore.InfoLevel, eventID, msg, details)
}

func (p *ProcessingLog) Warn(ctx context.Context, eventID uuid.UUID, msg string, details map[string]interface{}) {
	p.record(ctx, zapcore.WarnLevel, eventID, msg, details)
}

func (p *ProcessingLog) Error(ctx context.Context, eventID uuid.UUID, msg string, details map[string]interface{}) {
	p.record(ctx, zapcore.ErrorLevel, eventID, msg, details)
}

func (p *ProcessingLog) record(ctx context.Context, level zapcore.Level, eventID uuid.UUID, msg string, details map[string]interface{}) {
	fields := make([]zap.Field, 0, len(details)+1)
	fields = append(fields, zap.String("webhook_event_id", eventID.String()))
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}
	p.logger.Log(level, msg, fields...)

	if p.repo == nil {
		return
	}

	entry := &models.WebhookLog{
		Level:   strings.ToUpper(level.String()),
		Message: msg,
	}
	if eventID != uuid.Nil {
		id := eventID
		entry.WebhookEventID = &id
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	if err := p.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.Warn("Failed to persist webhook log", zap.String("webhook_event_id", eventID.String()), zap.Error(err))
	}
}
