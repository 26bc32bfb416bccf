package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// EventPublisher delivers domain events after the change they describe has
// committed.
type EventPublisher interface {
	Publish(ctx context.Context, event models.TicketEvent) error
}

// SNSEventPublisher fans ticket events out through an SNS topic.
type SNSEventPublisher struct {
	client   awspkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client awspkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) Publish(ctx context.Context, event models.TicketEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topicArn, payload, map[string]string{"event_type": event.EventType})
}

// MultiPublisher sends every event to each publisher and joins the failures.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event models.TicketEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func publishEvents(ctx context.Context, publisher EventPublisher, logger *zap.Logger, events ...models.TicketEvent) {
	if publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, event := range events {
		if err := publisher.Publish(ctx, event); err != nil {
			logger.Warn("Failed to publish ticket event",
				zap.String("event_type", event.EventType),
				zap.String("ticket_id", event.TicketID),
				zap.String("purchase_id", event.PurchaseID),
				zap.Error(err))
		}
	}
}
