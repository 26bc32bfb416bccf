package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/torxytonnickertrux/ticketchecker/models"
	awspkg "github.com/torxytonnickertrux/ticketchecker/pkg/aws"
	"go.uber.org/zap"
)

// RelayMessage is a webhook delivery forwarded through SQS by an edge relay.
type RelayMessage struct {
	Environment   string            `json:"environment"`
	Body          string            `json:"body"`
	Headers       map[string]string `json:"headers"`
	SourceAddress string            `json:"source_address"`
}

// NewRelayHandler feeds relayed deliveries into the same ingestion path as
// HTTP. A message stays on the queue only when its delivery could not be
// recorded; a recorded failure is final and would only be replayed.
func NewRelayHandler(svc WebhookService, metrics MetricsRecorder, logger *zap.Logger) awspkg.MessageHandler {
	return func(ctx context.Context, body string) error {
		var msg RelayMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			logger.Warn("Dropping unreadable relay message", zap.Error(err))
			return nil
		}
		if msg.Environment != models.EnvironmentTest && msg.Environment != models.EnvironmentProduction {
			logger.Warn("Dropping relay message for unknown environment", zap.String("environment", msg.Environment))
			return nil
		}

		headers := http.Header{}
		for k, v := range msg.Headers {
			headers.Set(k, v)
		}

		result := svc.Ingest(ctx, IngestRequest{
			Environment:   msg.Environment,
			Body:          []byte(msg.Body),
			Signature:     headers.Get(HeaderSignature),
			Timestamp:     headers.Get(HeaderSignatureTimestamp),
			SourceAddress: msg.SourceAddress,
		})
		recordCount(metrics, awspkg.MetricWebhooksRelayed, map[string]string{"Environment": msg.Environment})

		logger.Info("Relayed webhook handled",
			zap.String("event_id", result.EventID),
			zap.Int("status_code", result.StatusCode),
			zap.Bool("duplicate", result.Duplicate))
		if result.StatusCode >= http.StatusInternalServerError && result.Status == "" {
			return fmt.Errorf("relayed webhook %s answered %d", result.EventID, result.StatusCode)
		}
		return nil
	}
}
