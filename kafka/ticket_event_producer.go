package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TicketEventProducer publishes purchase and inventory events keyed by ticket
// id, so every event for one ticket lands on the same partition in order.
type TicketEventProducer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewTicketEventProducer(brokers []string, topic string, logger *zap.Logger) *TicketEventProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &TicketEventProducer{writer: w, topic: topic, logger: logger}
}

func (p *TicketEventProducer) Publish(ctx context.Context, event models.TicketEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.TicketID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to send ticket event",
			zap.String("topic", p.topic),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Sent ticket event",
		zap.String("event_type", event.EventType),
		zap.String("ticket_id", event.TicketID),
		zap.String("purchase_id", event.PurchaseID))
	return nil
}

func (p *TicketEventProducer) Close() {
	_ = p.writer.Close()
	p.logger.Info("Kafka producer closed", zap.String("topic", p.topic))
}
