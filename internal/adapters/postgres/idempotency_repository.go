package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/referral-platform/internal/ports"
	"gorm.io/gorm"
)

type idempotencyRepository struct {
	db *gorm.DB
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (*ports.IdempotencyRecord, error) {
	var rec idempotencyModel
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := ports.IdempotencyRecord{
		Key:          rec.IdempotencyKey,
		RequestHash:  rec.RequestHash,
		Status:       rec.Status,
		ResponseCode: rec.ResponseCode,
		ExpiresAt:    rec.ExpiresAt.UTC(),
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}
	if rec.ResponseBody != nil {
		out.ResponseBody = []byte(*rec.ResponseBody)
	}
	return &out, nil
}

func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error {
	now := time.Now().UTC()
	rec := idempotencyModel{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Status:         "PENDING",
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return translate(r.db.WithContext(ctx).Create(&rec).Error)
}

func (r *idempotencyRepository) Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	var body *string
	if len(responseBody) > 0 {
		raw := string(responseBody)
		body = &raw
	}
	return affectedOne(r.db.WithContext(ctx).
		Model(&idempotencyModel{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]any{
			"status":        "COMPLETED",
			"response_code": responseCode,
			"response_body": body,
			"updated_at":    at,
		}))
}

func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("idempotency_key = ?", key).Delete(&idempotencyModel{}).Error
}
