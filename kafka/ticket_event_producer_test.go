package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"go.uber.org/zap"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestTicketEventProducer_PublishKeysByTicket(t *testing.T) {
	w := &recordingWriter{}
	p := &TicketEventProducer{writer: w, topic: "ticket-events", logger: zap.NewNop()}

	remaining := 3
	event := models.TicketEvent{
		EventType:  models.EventPurchaseApproved,
		PurchaseID: "p-1",
		TicketID:   "t-1",
		Quantity:   2,
		Remaining:  &remaining,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "t-1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, models.EventPurchaseApproved, string(msg.Headers[0].Value))

	var decoded models.TicketEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "p-1", decoded.PurchaseID)
	assert.Equal(t, 3, *decoded.Remaining)

	p.Close()
	assert.True(t, w.closed)
}

func TestTicketEventProducer_PublishError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := &TicketEventProducer{writer: w, topic: "ticket-events", logger: zap.NewNop()}

	err := p.Publish(context.Background(), models.TicketEvent{EventType: models.EventInventoryReserved, TicketID: "t-1"})
	assert.EqualError(t, err, "broker down")
}
