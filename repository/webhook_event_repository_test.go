package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/internal/testdb"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

func newEvent(externalID string, receivedAt time.Time) *models.WebhookEvent {
	return &models.WebhookEvent{
		ExternalEventID: externalID,
		EventType:       models.EventTypePayment,
		Environment:     models.EnvironmentTest,
		RawPayload:      []byte(`{"id":"` + externalID + `"}`),
		ReceivedAt:      receivedAt,
	}
}

func TestWebhookEventRepository_CreateIfNotExists(t *testing.T) {
	db := testdb.Open(t)
	repo := repository.NewGormWebhookEventRepository(db)
	ctx := context.Background()

	created, err := repo.CreateIfNotExists(ctx, newEvent("evt-1", time.Now()))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfNotExists(ctx, newEvent("evt-1", time.Now()))
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Where("external_event_id = ?", "evt-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := repo.FindByExternalID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusPending, stored.Status)
	assert.False(t, stored.SignatureValid)
}

func TestWebhookEventRepository_FindByExternalID_NotFound(t *testing.T) {
	repo := repository.NewGormWebhookEventRepository(testdb.Open(t))

	event, err := repo.FindByExternalID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, event)
}

func TestWebhookEventRepository_FinalizeOnlyFromPending(t *testing.T) {
	db := testdb.Open(t)
	repo := repository.NewGormWebhookEventRepository(db)
	ctx := context.Background()

	event := newEvent("evt-2", time.Now())
	_, err := repo.CreateIfNotExists(ctx, event)
	require.NoError(t, err)

	err = repo.Finalize(ctx, event.ID, repository.EventOutcome{
		Status:         models.WebhookStatusProcessed,
		SignatureValid: true,
		ResponseStatus: 200,
		ResponseBody:   datatypes.JSON(`{"status":"ok"}`),
	})
	require.NoError(t, err)

	err = repo.Finalize(ctx, event.ID, repository.EventOutcome{
		Status:       models.WebhookStatusFailed,
		ErrorMessage: "late failure",
	})
	assert.ErrorIs(t, err, repository.ErrTerminalState)

	stored, err := repo.FindByExternalID(ctx, "evt-2")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, stored.Status)
	assert.True(t, stored.SignatureValid)
	assert.Equal(t, 200, stored.ResponseStatus)
	assert.JSONEq(t, `{"status":"ok"}`, string(stored.ResponseBody))
	assert.Nil(t, stored.ErrorMessage)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestWebhookEventRepository_FinalizeRejectsPendingTarget(t *testing.T) {
	db := testdb.Open(t)
	repo := repository.NewGormWebhookEventRepository(db)
	ctx := context.Background()

	event := newEvent("evt-3", time.Now())
	_, err := repo.CreateIfNotExists(ctx, event)
	require.NoError(t, err)

	err = repo.Finalize(ctx, event.ID, repository.EventOutcome{Status: models.WebhookStatusPending})
	assert.Error(t, err)
}

func TestWebhookEventRepository_StatsAndRecent(t *testing.T) {
	db := testdb.Open(t)
	repo := repository.NewGormWebhookEventRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	outcomes := []models.WebhookStatus{
		models.WebhookStatusProcessed,
		models.WebhookStatusProcessed,
		models.WebhookStatusFailed,
		models.WebhookStatusIgnored,
		models.WebhookStatusPending,
	}
	for i, status := range outcomes {
		event := newEvent("evt-stats-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		_, err := repo.CreateIfNotExists(ctx, event)
		require.NoError(t, err)
		if status.IsTerminal() {
			require.NoError(t, repo.Finalize(ctx, event.ID, repository.EventOutcome{Status: status}))
		}
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Ignored)
	assert.Equal(t, int64(1), stats.Pending)

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "evt-stats-e", recent[0].ExternalEventID)
	assert.Equal(t, "evt-stats-d", recent[1].ExternalEventID)
}

func TestWebhookEventRepository_RawPayloadStoredVerbatim(t *testing.T) {
	repo := repository.NewGormWebhookEventRepository(testdb.Open(t))
	ctx := context.Background()

	body := []byte("{\"type\": \"payment\",\n  \"id\":\"evt-raw\" ,\"note\":\"a\\u0000b\"}\n")
	event := newEvent("evt-raw", time.Now().UTC())
	event.RawPayload = body
	_, err := repo.CreateIfNotExists(ctx, event)
	require.NoError(t, err)

	stored, err := repo.FindByExternalID(ctx, "evt-raw")
	require.NoError(t, err)
	assert.Equal(t, body, stored.RawPayload)
}

func TestWebhookEvent_RawPayloadColumnIsBinary(t *testing.T) {
	s, err := schema.Parse(&models.WebhookEvent{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	assert.Equal(t, schema.DataType("bytea"), s.LookUpField("RawPayload").DataType)
	assert.Equal(t, schema.DataType("json"), s.LookUpField("ResponseBody").DataType)
}

func TestWebhookEventRepository_Reclaim(t *testing.T) {
	repo := repository.NewGormWebhookEventRepository(testdb.Open(t))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	staleBefore := now.Add(-time.Minute)

	fresh := newEvent("evt-fresh", now.Add(-10*time.Second))
	_, err := repo.CreateIfNotExists(ctx, fresh)
	require.NoError(t, err)
	claimed, err := repo.Reclaim(ctx, fresh.ID, staleBefore, now)
	require.NoError(t, err)
	assert.False(t, claimed, "a pending row inside the window stays with its first delivery")

	stale := newEvent("evt-stale", now.Add(-10*time.Minute))
	_, err = repo.CreateIfNotExists(ctx, stale)
	require.NoError(t, err)
	claimed, err = repo.Reclaim(ctx, stale.ID, staleBefore, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Reclaim(ctx, stale.ID, staleBefore, now)
	require.NoError(t, err)
	assert.False(t, claimed, "the claim was refreshed by the first takeover")

	stored, err := repo.FindByExternalID(ctx, "evt-stale")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.True(t, stored.ClaimedAt.Equal(now))

	done := newEvent("evt-done", now.Add(-10*time.Minute))
	_, err = repo.CreateIfNotExists(ctx, done)
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(ctx, done.ID, repository.EventOutcome{Status: models.WebhookStatusProcessed}))
	claimed, err = repo.Reclaim(ctx, done.ID, staleBefore, now)
	require.NoError(t, err)
	assert.False(t, claimed)
}
