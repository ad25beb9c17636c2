package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/referral-platform/internal/ports"
)

// OutboxWorker relays committed outbox rows to the event bus. Rows are claimed with a
// lease so concurrent workers never publish the same row at once.
type OutboxWorker struct {
	logger     *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
	nowFn      func() time.Time
}

type OutboxWorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
}

// BatchResult summarises one relay pass.
type BatchResult struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, cfg OutboxWorkerConfig) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &OutboxWorker{
		logger:     logger,
		outbox:     outbox,
		publisher:  publisher,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		claimTTL:   cfg.ClaimTTL,
		maxRetries: cfg.MaxRetries,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "outbox_process_once",
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

// ProcessOnce claims one batch and publishes it.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (BatchResult, error) {
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, claimToken, w.nowFn().Add(w.claimTTL))
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Claimed: len(records)}
	for _, rec := range records {
		now := w.nowFn()
		if rec.RetryCount >= w.maxRetries {
			result.DeadLettered++
			w.markDeadLettered(ctx, rec, claimToken, "retry threshold reached before publish", now)
			continue
		}

		if err := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey); err != nil {
			result.Failed++
			attempts := rec.RetryCount + 1
			if attempts >= w.maxRetries {
				result.DeadLettered++
				w.logger.ErrorContext(ctx, "outbox event dead-lettered",
					"module", "events.outbox_worker",
					"layer", "adapter",
					"operation", "publish_event",
					"outcome", "failure",
					"outbox_id", rec.OutboxID,
					"event_type", rec.EventType,
					"retry_count", attempts,
					"error", err,
				)
				w.markDeadLettered(ctx, rec, claimToken, err.Error(), now)
				continue
			}
			w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "publish_event",
				"outcome", "failure",
				"outbox_id", rec.OutboxID,
				"event_type", rec.EventType,
				"retry_count", attempts,
				"error", err,
			)
			if err := w.outbox.MarkFailed(ctx, rec.OutboxID, claimToken, err.Error(), now); err != nil {
				w.logMarkError(ctx, rec, "mark_failed", err)
			}
			continue
		}
		result.Published++
		if err := w.outbox.MarkPublished(ctx, rec.OutboxID, claimToken, now); err != nil {
			w.logMarkError(ctx, rec, "mark_published", err)
		}
	}
	if result.Claimed > 0 {
		w.logger.InfoContext(ctx, "outbox batch processed",
			"module", "events.outbox_worker",
			"layer", "adapter",
			"operation", "outbox_process_once",
			"outcome", "success",
			"batch_size", result.Claimed,
			"published_count", result.Published,
			"failed_count", result.Failed,
			"dead_lettered_count", result.DeadLettered,
		)
	}
	return result, nil
}

func (w *OutboxWorker) markDeadLettered(ctx context.Context, rec ports.OutboxRecord, claimToken, reason string, at time.Time) {
	if err := w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, reason, at); err != nil {
		w.logMarkError(ctx, rec, "mark_dead_lettered", err)
	}
}

// A lost claim means another worker took the row over after the lease expired.
func (w *OutboxWorker) logMarkError(ctx context.Context, rec ports.OutboxRecord, operation string, err error) {
	w.logger.WarnContext(ctx, "outbox state update failed",
		"module", "events.outbox_worker",
		"layer", "adapter",
		"operation", operation,
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"error", err,
	)
}
