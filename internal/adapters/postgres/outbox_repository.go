package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/referral-platform/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type outboxRepository struct {
	db *gorm.DB
}

func insertOutbox(tx *gorm.DB, events []ports.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]outboxModel, 0, len(events))
	for _, event := range events {
		rows = append(rows, outboxModel{
			OutboxID:     event.EventID,
			EventType:    event.EventType,
			PartitionKey: event.PartitionKey,
			Payload:      string(event.Payload),
			CreatedAt:    event.OccurredAt,
		})
	}
	return translate(tx.Create(&rows).Error)
}

func (r *outboxRepository) Enqueue(ctx context.Context, event ports.OutboxEvent) error {
	return insertOutbox(r.db.WithContext(ctx), []ports.OutboxEvent{event})
}

// ClaimUnpublished leases up to limit rows to claimToken. Rows held by a live lease
// are skipped, and SKIP LOCKED keeps concurrent claimers from blocking each other.
func (r *outboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}

	now := time.Now().UTC()
	var rows []outboxModel
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subquery := tx.Model(&outboxModel{}).
			Select("outbox_id").
			Where("published_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Where("claim_until IS NULL OR claim_until < ?", now).
			Order("created_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

		if err := tx.Model(&outboxModel{}).
			Where("outbox_id IN (?)", subquery).
			Updates(map[string]any{
				"claim_token": claimToken,
				"claim_until": claimUntil,
			}).Error; err != nil {
			return err
		}

		return tx.Where("claim_token = ?", claimToken).
			Where("published_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Order("created_at ASC").
			Find(&rows).Error
	}); err != nil {
		return nil, err
	}

	result := make([]ports.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, ports.OutboxRecord{
			OutboxID:       row.OutboxID,
			EventType:      row.EventType,
			PartitionKey:   row.PartitionKey,
			Payload:        []byte(row.Payload),
			RetryCount:     row.RetryCount,
			LastError:      row.LastError,
			CreatedAt:      row.CreatedAt.UTC(),
			PublishedAt:    row.PublishedAt,
			LastErrorAt:    row.LastErrorAt,
			ClaimToken:     row.ClaimToken,
			ClaimUntil:     row.ClaimUntil,
			DeadLetteredAt: row.DeadLetteredAt,
		})
	}
	return result, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.release(ctx, outboxID, claimToken, map[string]any{
		"published_at": at,
	})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.release(ctx, outboxID, claimToken, map[string]any{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    errMsg,
		"last_error_at": at,
	})
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.release(ctx, outboxID, claimToken, map[string]any{
		"retry_count":      gorm.Expr("retry_count + 1"),
		"last_error":       errMsg,
		"last_error_at":    at,
		"dead_lettered_at": at,
	})
}

// release applies updates and drops the lease, but only while claimToken still holds it.
func (r *outboxRepository) release(ctx context.Context, outboxID uuid.UUID, claimToken string, updates map[string]any) error {
	updates["claim_token"] = nil
	updates["claim_until"] = nil
	return affectedOne(r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Updates(updates))
}
