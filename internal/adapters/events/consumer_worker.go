package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/domain"
)

// ConversionHandler is implemented by application.Service.
type ConversionHandler interface {
	HandleConversionRequested(ctx context.Context, payload []byte) error
}

type ConsumerWorker struct {
	logger   *slog.Logger
	consumer Consumer
	handler  ConversionHandler
	interval time.Duration

	pending []Message
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler ConversionHandler, interval time.Duration) *ConsumerWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{logger: logger, consumer: consumer, handler: handler, interval: interval}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce handles one batch and returns how many messages were handled without
// error. Messages are committed in order up to the first retryable failure; that
// message and the rest of the batch are kept and retried on the next call before
// anything new is polled. Permanent failures are logged and committed.
func (w *ConsumerWorker) ProcessOnce(ctx context.Context) (int, error) {
	msgs := w.pending
	w.pending = nil
	if len(msgs) == 0 {
		var err error
		msgs, err = w.consumer.Poll(ctx, 50)
		if err != nil {
			return 0, err
		}
	}

	handled := 0
	for i, msg := range msgs {
		if msg.Topic != application.TopicConversionRequested {
			w.logger.DebugContext(ctx, "ignoring message on unexpected topic",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"topic", msg.Topic,
			)
			continue
		}
		err := w.handler.HandleConversionRequested(ctx, msg.Payload)
		if err == nil {
			handled++
			continue
		}
		if isPermanent(err) {
			w.logger.WarnContext(ctx, "conversion event rejected",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle_conversion_requested",
				"outcome", "rejected",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		w.pending = msgs[i:]
		if commitErr := w.consumer.Commit(ctx, msgs[:i]); commitErr != nil {
			return handled, commitErr
		}
		return handled, fmt.Errorf("handle %s partition %d offset %d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	if err := w.consumer.Commit(ctx, msgs); err != nil {
		return handled, err
	}
	return handled, nil
}

// isPermanent reports whether redelivering the message could ever succeed.
func isPermanent(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidInput,
		domain.ErrNotFound,
		domain.ErrForbidden,
		domain.ErrUnauthorized,
		domain.ErrCampaignNotActive,
		domain.ErrIdempotencyConflict,
		domain.ErrInvalidStateTransition,
		domain.ErrUsageLimitExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
