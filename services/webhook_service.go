package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
	"github.com/torxytonnickertrux/ticketchecker/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100

	// DefaultStaleAfter bounds how long a pending event belongs to the
	// delivery that created it.
	DefaultStaleAfter = time.Minute
)

var (
	responseOK               = json.RawMessage(`{"status":"ok"}`)
	responseInvalidSignature = errorBody("Invalid signature")
	responseInProgress       = errorBody("event is being processed")
	responseInternal         = errorBody("Internal server error")

	unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// IngestRequest is one raw delivery as received on the wire.
type IngestRequest struct {
	Environment   string
	Body          []byte
	Signature     string
	Timestamp     string
	SourceAddress string
}

// IngestResult is the HTTP answer for a delivery.
type IngestResult struct {
	StatusCode int
	Body       json.RawMessage
	EventID    string
	Status     models.WebhookStatus
	Duplicate  bool
}

// WebhookService receives gateway callbacks. A callback is stored before it is
// verified, and its event id is processed at most once; later deliveries
// of the same id get the first answer back.
type WebhookService interface {
	Ingest(ctx context.Context, req IngestRequest) IngestResult
	Status(ctx context.Context, limit int) (*models.WebhookStats, []models.RecentWebhookEvent, *ServiceError)
}

type WebhookServiceDeps struct {
	Events     repository.WebhookEventRepository
	Validators map[string]*SignatureValidator
	Router     *EventRouter
	Cache      ResponseCache
	Archiver   PayloadArchiver
	Log        *ProcessingLog
	Metrics    MetricsRecorder
	Logger     *zap.Logger
	Now        func() time.Time
	// StaleAfter is how old a pending claim must be before a redelivery
	// may take the event over.
	StaleAfter time.Duration
}

type webhookServiceImpl struct {
	events     repository.WebhookEventRepository
	validators map[string]*SignatureValidator
	router     *EventRouter
	cache      ResponseCache
	archiver   PayloadArchiver
	plog       *ProcessingLog
	metrics    MetricsRecorder
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
	staleAfter time.Duration
}

func NewWebhookService(deps WebhookServiceDeps) WebhookService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = NewProcessingLog(nil, deps.Logger)
	}
	if deps.StaleAfter <= 0 {
		deps.StaleAfter = DefaultStaleAfter
	}
	return &webhookServiceImpl{
		events:     deps.Events,
		validators: deps.Validators,
		router:     deps.Router,
		cache:      deps.Cache,
		archiver:   deps.Archiver,
		plog:       deps.Log,
		metrics:    deps.Metrics,
		validate:   validator.New(),
		logger:     deps.Logger,
		now:        deps.Now,
		staleAfter: deps.StaleAfter,
	}
}

func (s *webhookServiceImpl) Ingest(ctx context.Context, req IngestRequest) IngestResult {
	envelope, err := ParseEnvelope(req.Body, s.validate)
	if err != nil {
		s.logger.Warn("Rejected malformed webhook",
			zap.String("environment", req.Environment),
			zap.String("source_address", req.SourceAddress),
			zap.Error(err))
		return IngestResult{StatusCode: http.StatusBadRequest, Body: errorBody("Invalid JSON")}
	}
	externalID := string(envelope.ID)
	recordCount(s.metrics, awspkg.MetricWebhooksReceived, map[string]string{"Environment": req.Environment})

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, externalID); ok {
			recordCount(s.metrics, awspkg.MetricCacheHits, nil)
			recordCount(s.metrics, awspkg.MetricWebhooksDuplicate, map[string]string{"Environment": req.Environment})
			s.logger.Info("Duplicate webhook answered from cache", zap.String("event_id", externalID))
			return IngestResult{StatusCode: cached.StatusCode, Body: cached.Body, EventID: externalID, Duplicate: true}
		}
	}

	event := &models.WebhookEvent{
		ExternalEventID: externalID,
		EventType:       models.ParseEventType(envelope.Type),
		Environment:     req.Environment,
		Status:          models.WebhookStatusPending,
		RawPayload:      req.Body,
		ReceivedAt:      s.now().UTC(),
	}
	if req.SourceAddress != "" {
		addr := req.SourceAddress
		event.SourceAddress = &addr
	}

	created, err := s.events.CreateIfNotExists(ctx, event)
	if err != nil {
		s.logger.Error("Failed to store webhook event", zap.String("event_id", externalID), zap.Error(err))
		return IngestResult{StatusCode: http.StatusInternalServerError, Body: responseInternal, EventID: externalID}
	}
	if !created {
		return s.replay(ctx, req, envelope)
	}

	s.archive(ctx, event, req.Body)
	s.plog.Info(ctx, event.ID, "Webhook received", map[string]interface{}{
		"event_id":       externalID,
		"type":           envelope.Type,
		"action":         envelope.Action,
		"environment":    req.Environment,
		"source_address": req.SourceAddress,
	})
	return s.process(ctx, event, envelope, req)
}

// process verifies and routes a stored pending event owned by this delivery.
func (s *webhookServiceImpl) process(ctx context.Context, event *models.WebhookEvent, envelope *WebhookEnvelope, req IngestRequest) IngestResult {
	if err := s.verify(req); err != nil {
		s.plog.Warn(ctx, event.ID, "Webhook signature rejected", map[string]interface{}{"reason": err.Error()})
		recordCount(s.metrics, awspkg.MetricSignatureRejected, map[string]string{"Environment": req.Environment})
		outcome := Outcome{Status: models.WebhookStatusFailed, Err: fmt.Errorf("invalid signature: %w", err)}
		return s.complete(ctx, event, outcome, false, http.StatusBadRequest, responseInvalidSignature)
	}

	outcome := s.router.Route(ctx, event, envelope)
	switch outcome.Status {
	case models.WebhookStatusProcessed, models.WebhookStatusIgnored:
		return s.complete(ctx, event, outcome, true, http.StatusOK, responseOK)
	case models.WebhookStatusFailed:
	default:
		outcome = Outcome{Status: models.WebhookStatusFailed, Err: fmt.Errorf("handler returned status %q", outcome.Status)}
	}
	if outcome.Err == nil {
		outcome.Err = errors.New("processing failed")
	}
	return s.complete(ctx, event, outcome, true, http.StatusInternalServerError, errorBody(outcome.Err.Error()))
}

func (s *webhookServiceImpl) verify(req IngestRequest) error {
	v, ok := s.validators[req.Environment]
	if !ok || v == nil {
		return fmt.Errorf("no signing secret for environment %q", req.Environment)
	}
	return v.Verify(req.Body, req.Signature, req.Timestamp)
}

// complete finalizes the event unless the handler already did, then records
// the answer for later duplicates.
func (s *webhookServiceImpl) complete(ctx context.Context, event *models.WebhookEvent, outcome Outcome, signatureValid bool, statusCode int, body json.RawMessage) IngestResult {
	if !outcome.Committed {
		final := repository.EventOutcome{
			Status:          outcome.Status,
			SignatureValid:  signatureValid,
			ProcessedResult: marshalResult(outcome.Result),
			ResponseStatus:  statusCode,
			ResponseBody:    datatypes.JSON(body),
			At:              s.now().UTC(),
		}
		if outcome.Err != nil {
			final.ErrorMessage = outcome.Err.Error()
		}
		if err := s.events.Finalize(context.WithoutCancel(ctx), event.ID, final); err != nil {
			s.logger.Error("Failed to finalize webhook event",
				zap.String("event_id", event.ExternalEventID),
				zap.String("status", string(outcome.Status)),
				zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("event_id", event.ExternalEventID),
		zap.String("status", string(outcome.Status)),
		zap.Int("response_status", statusCode),
	}
	switch outcome.Status {
	case models.WebhookStatusProcessed:
		recordCount(s.metrics, awspkg.MetricWebhooksProcessed, map[string]string{"Environment": event.Environment})
		s.logger.Info("Webhook processed", fields...)
	case models.WebhookStatusIgnored:
		recordCount(s.metrics, awspkg.MetricWebhooksIgnored, map[string]string{"Environment": event.Environment})
		s.logger.Info("Webhook ignored", fields...)
	default:
		recordCount(s.metrics, awspkg.MetricWebhooksFailed, map[string]string{"Environment": event.Environment})
		s.logger.Warn("Webhook failed", append(fields, zap.Error(outcome.Err))...)
	}

	if s.cache != nil {
		s.cache.Set(context.WithoutCancel(ctx), event.ExternalEventID, CachedResponse{StatusCode: statusCode, Body: body})
	}
	return IngestResult{StatusCode: statusCode, Body: body, EventID: event.ExternalEventID, Status: outcome.Status}
}

// replay answers a delivery whose event id is already stored. A pending
// event whose claim is older than staleAfter was abandoned by its first
// delivery and is processed again by this one.
func (s *webhookServiceImpl) replay(ctx context.Context, req IngestRequest, envelope *WebhookEnvelope) IngestResult {
	externalID := string(envelope.ID)
	existing, err := s.events.FindByExternalID(ctx, externalID)
	if err != nil {
		s.logger.Error("Failed to load duplicate webhook event", zap.String("event_id", externalID), zap.Error(err))
		return IngestResult{StatusCode: http.StatusInternalServerError, Body: responseInternal, EventID: externalID}
	}

	if !existing.Status.IsTerminal() {
		now := s.now().UTC()
		staleBefore := now.Add(-s.staleAfter)
		if existing.ClaimedAt.Before(staleBefore) {
			claimed, err := s.events.Reclaim(ctx, existing.ID, staleBefore, now)
			if err != nil {
				s.logger.Error("Failed to reclaim webhook event", zap.String("event_id", externalID), zap.Error(err))
				return IngestResult{StatusCode: http.StatusInternalServerError, Body: responseInternal, EventID: externalID}
			}
			if claimed {
				s.plog.Warn(ctx, existing.ID, "Taking over abandoned webhook event", map[string]interface{}{
					"claimed_at":  existing.ClaimedAt,
					"attempts":    existing.Attempts + 1,
					"environment": req.Environment,
				})
				return s.process(ctx, existing, envelope, req)
			}
		}
	}
	recordCount(s.metrics, awspkg.MetricWebhooksDuplicate, map[string]string{"Environment": existing.Environment})

	if !existing.Status.IsTerminal() {
		s.logger.Info("Duplicate webhook while first delivery is in flight", zap.String("event_id", externalID))
		return IngestResult{StatusCode: http.StatusConflict, Body: responseInProgress, EventID: externalID, Status: existing.Status, Duplicate: true}
	}

	statusCode, body := existing.ResponseStatus, json.RawMessage(existing.ResponseBody)
	if statusCode == 0 || len(body) == 0 {
		statusCode, body = defaultResponse(existing)
	}
	s.plog.Info(ctx, existing.ID, "Duplicate delivery answered with stored response", map[string]interface{}{
		"status":          string(existing.Status),
		"response_status": statusCode,
	})
	if s.cache != nil {
		recordCount(s.metrics, awspkg.MetricCacheMisses, nil)
		s.cache.Set(context.WithoutCancel(ctx), externalID, CachedResponse{StatusCode: statusCode, Body: body})
	}
	return IngestResult{StatusCode: statusCode, Body: body, EventID: externalID, Status: existing.Status, Duplicate: true}
}

func (s *webhookServiceImpl) archive(ctx context.Context, event *models.WebhookEvent, body []byte) {
	if s.archiver == nil {
		return
	}
	key := fmt.Sprintf("webhooks/%s/%s/%s.json",
		event.Environment,
		event.ReceivedAt.Format("2006/01/02"),
		unsafeKeyChars.ReplaceAllString(event.ExternalEventID, "_"))
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.archiver.Archive(archiveCtx, key, body); err != nil {
		s.logger.Warn("Failed to archive webhook payload", zap.String("event_id", event.ExternalEventID), zap.Error(err))
	}
}

func (s *webhookServiceImpl) Status(ctx context.Context, limit int) (*models.WebhookStats, []models.RecentWebhookEvent, *ServiceError) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	stats, err := s.events.Stats(ctx)
	if err != nil {
		s.logger.Error("Failed to load webhook statistics", zap.Error(err))
		return nil, nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to load webhook statistics"}
	}
	events, err := s.events.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to load recent webhook events", zap.Error(err))
		return nil, nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to load recent webhook events"}
	}

	recent := make([]models.RecentWebhookEvent, 0, len(events))
	for _, e := range events {
		recent = append(recent, models.RecentWebhookEvent{
			ID:             e.ID,
			EventType:      e.EventType,
			EventID:        e.ExternalEventID,
			Status:         e.Status,
			ReceivedAt:     e.ReceivedAt,
			SignatureValid: e.SignatureValid,
		})
	}
	return stats, recent, nil
}

// acceptedOutcome is the terminal row state for a verified event that was
// processed or ignored.
func acceptedOutcome(status models.WebhookStatus, result map[string]interface{}, at time.Time) repository.EventOutcome {
	return repository.EventOutcome{
		Status:          status,
		SignatureValid:  true,
		ProcessedResult: marshalResult(result),
		ResponseStatus:  http.StatusOK,
		ResponseBody:    datatypes.JSON(responseOK),
		At:              at,
	}
}

// defaultResponse rebuilds an answer for rows finalized without one.
func defaultResponse(event *models.WebhookEvent) (int, json.RawMessage) {
	switch event.Status {
	case models.WebhookStatusProcessed, models.WebhookStatusIgnored:
		return http.StatusOK, responseOK
	}
	if !event.SignatureValid {
		return http.StatusBadRequest, responseInvalidSignature
	}
	msg := "processing failed"
	if event.ErrorMessage != nil && *event.ErrorMessage != "" {
		msg = *event.ErrorMessage
	}
	return http.StatusInternalServerError, errorBody(msg)
}

func errorBody(message string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"status": "error", "message": message})
	return raw
}

func marshalResult(result map[string]interface{}) datatypes.JSON {
	if len(result) == 0 {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	return raw
}
