package services

import (
	"context"
	"time"
)

// MetricsRecorder is satisfied by the CloudWatch metrics client.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// PayloadArchiver keeps a copy of each raw webhook body.
type PayloadArchiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

func recordCount(m MetricsRecorder, name string, dimensions map[string]string) {
	if m == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.RecordCount(ctx, name, dimensions)
	}()
}
