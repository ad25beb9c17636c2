package events

import (
	"context"
	"log/slog"
)

// LoggingPublisher stands in for the broker when no Kafka brokers are configured.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "referral event published",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "success",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}
