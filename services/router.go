package services

import (
	"context"
	"fmt"

	"github.com/torxytonnickertrux/ticketchecker/models"
	"go.uber.org/zap"
)

// Outcome is what a handler decided for one event.
type Outcome struct {
	Status models.WebhookStatus
	Result map[string]interface{}
	Err    error
	// Committed is set when the handler already finalized the event inside
	// its own transaction.
	Committed bool
}

// EventHandler processes one verified webhook event of a given type.
type EventHandler interface {
	Handle(ctx context.Context, event *models.WebhookEvent, envelope *WebhookEnvelope) Outcome
}

type EventHandlerFunc func(ctx context.Context, event *models.WebhookEvent, envelope *WebhookEnvelope) Outcome

func (f EventHandlerFunc) Handle(ctx context.Context, event *models.WebhookEvent, envelope *WebhookEnvelope) Outcome {
	return f(ctx, event, envelope)
}

// EventRouter dispatches events to the handler registered for their type.
// Types without a handler are ignored.
type EventRouter struct {
	handlers map[models.EventType]EventHandler
	logger   *zap.Logger
}

func NewEventRouter(logger *zap.Logger) *EventRouter {
	return &EventRouter{
		handlers: make(map[models.EventType]EventHandler),
		logger:   logger,
	}
}

func (r *EventRouter) Register(eventType models.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

func (r *EventRouter) Route(ctx context.Context, event *models.WebhookEvent, envelope *WebhookEnvelope) Outcome {
	handler, ok := r.handlers[event.EventType]
	if !ok {
		r.logger.Info("No handler for webhook type",
			zap.String("event_id", event.ExternalEventID),
			zap.String("type", envelope.Type))
		return Outcome{
			Status: models.WebhookStatusIgnored,
			Result: map[string]interface{}{
				"reason": fmt.Sprintf("unsupported event type %q", envelope.Type),
			},
		}
	}
	return handler.Handle(ctx, event, envelope)
}

// AcknowledgeOnly accepts a known event type that needs no local action.
func AcknowledgeOnly(plog *ProcessingLog) EventHandler {
	return EventHandlerFunc(func(ctx context.Context, event *models.WebhookEvent, envelope *WebhookEnvelope) Outcome {
		plog.Info(ctx, event.ID, "Event acknowledged without action", map[string]interface{}{
			"type":   envelope.Type,
			"action": envelope.Action,
		})
		return Outcome{
			Status: models.WebhookStatusIgnored,
			Result: map[string]interface{}{
				"reason": fmt.Sprintf("no action required for %s events", event.EventType),
			},
		}
	})
}
