package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torxytonnickertrux/ticketchecker/models"
	"github.com/torxytonnickertrux/ticketchecker/services"
)

type fakeSNS struct {
	topic      string
	message    []byte
	attributes map[string]string
}

func (f *fakeSNS) Publish(ctx context.Context, topicArn string, message []byte, attributes map[string]string) error {
	f.topic, f.message, f.attributes = topicArn, message, attributes
	return nil
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, event models.TicketEvent) error { return f.err }

func TestSNSEventPublisher(t *testing.T) {
	sns := &fakeSNS{}
	pub := services.NewSNSEventPublisher(sns, "arn:aws:sns:us-east-1:000000000000:ticket-events")

	require.NoError(t, pub.Publish(context.Background(), models.TicketEvent{
		EventType:  models.EventPurchaseApproved,
		PurchaseID: "p-1",
		TicketID:   "t-1",
		Quantity:   2,
	}))

	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:ticket-events", sns.topic)
	assert.Equal(t, map[string]string{"event_type": models.EventPurchaseApproved}, sns.attributes)
	var decoded models.TicketEvent
	require.NoError(t, json.Unmarshal(sns.message, &decoded))
	assert.Equal(t, "p-1", decoded.PurchaseID)
}

func TestMultiPublisher_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	boom := errors.New("broker down")
	multi := services.MultiPublisher{failingPublisher{err: boom}, ok}

	err := multi.Publish(context.Background(), models.TicketEvent{EventType: models.EventInventoryReleased})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{models.EventInventoryReleased}, ok.types())
}
