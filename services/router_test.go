package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type captureLogRepo struct {
	entries []models.WebhookLog
	err     error
}

func (r *captureLogRepo) Create(ctx context.Context, entry *models.WebhookLog) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *captureLogRepo) FindByEvent(ctx context.Context, eventID uuid.UUID) ([]models.WebhookLog, error) {
	return r.entries, nil
}

func TestMapGatewayStatus(t *testing.T) {
	cases := map[string]models.PaymentOutcome{
		"approved":   models.OutcomeApproved,
		" APPROVED ": models.OutcomeApproved,
		"rejected":   models.OutcomeRejected,
		"cancelled":  models.OutcomeCancelled,
		"canceled":   models.OutcomeCancelled,
		"in_process": models.OutcomePending,
		"authorized": models.OutcomePending,
		"refunded":   models.OutcomePending,
		"":           models.OutcomePending,
	}
	for status, want := range cases {
		assert.Equal(t, want, services.MapGatewayStatus(status), "status %q", status)
	}
}

func TestEventRouter_Dispatch(t *testing.T) {
	router := services.NewEventRouter(zap.NewNop())
	var handled []models.EventType
	router.Register(models.EventTypePayment, services.EventHandlerFunc(
		func(ctx context.Context, event *models.WebhookEvent, envelope *services.WebhookEnvelope) services.Outcome {
			handled = append(handled, event.EventType)
			return services.Outcome{Status: models.WebhookStatusProcessed}
		}))

	out := router.Route(context.Background(), &models.WebhookEvent{EventType: models.EventTypePayment}, &services.WebhookEnvelope{Type: "payment"})
	assert.Equal(t, models.WebhookStatusProcessed, out.Status)
	assert.Equal(t, []models.EventType{models.EventTypePayment}, handled)

	out = router.Route(context.Background(), &models.WebhookEvent{EventType: models.EventTypeOther}, &services.WebhookEnvelope{Type: "chargeback"})
	assert.Equal(t, models.WebhookStatusIgnored, out.Status)
	assert.NoError(t, out.Err)
	assert.Equal(t, `unsupported event type "chargeback"`, out.Result["reason"])
	assert.Len(t, handled, 1)
}

func TestAcknowledgeOnly(t *testing.T) {
	repo := &captureLogRepo{}
	handler := services.AcknowledgeOnly(services.NewProcessingLog(repo, zap.NewNop()))

	eventID := uuid.New()
	out := handler.Handle(context.Background(),
		&models.WebhookEvent{ID: eventID, EventType: models.EventTypeInvoice},
		&services.WebhookEnvelope{Type: "invoice", Action: "invoice.created"})

	assert.Equal(t, models.WebhookStatusIgnored, out.Status)
	assert.Equal(t, "no action required for invoice events", out.Result["reason"])
	require.Len(t, repo.entries, 1)
	assert.Equal(t, "INFO", repo.entries[0].Level)
	require.NotNil(t, repo.entries[0].WebhookEventID)
	assert.Equal(t, eventID, *repo.entries[0].WebhookEventID)
	assert.JSONEq(t, `{"type":"invoice","action":"invoice.created"}`, string(repo.entries[0].Details))
}

func TestProcessingLog_PersistFailureOnlyWarns(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	plog := services.NewProcessingLog(&captureLogRepo{err: errors.New("db down")}, zap.New(core))

	plog.Error(context.Background(), uuid.New(), "Gateway lookup failed", nil)

	assert.Equal(t, 1, logs.FilterMessage("Gateway lookup failed").FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to persist webhook log").Len())
}

func TestProcessingLog_WithoutRepository(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	plog := services.NewProcessingLog(nil, zap.New(core))

	plog.Warn(context.Background(), uuid.Nil, "Envelope rejected", map[string]interface{}{"reason": "missing id"})

	entries := logs.FilterMessage("Envelope rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "missing id", entries[0].ContextMap()["reason"])
}
