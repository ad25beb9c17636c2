package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viralforge/referral-platform/internal/domain"
)

const idempotencyCompleted = "COMPLETED"

// beginIdempotent reserves key for a request, or returns the stored response when the
// same request already completed. A key reused for a different request is a conflict.
func (s *Service) beginIdempotent(ctx context.Context, key, requestHash string, out any) (bool, error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return false, nil
	}
	now := s.nowFn()
	existing, err := s.idempotency.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if existing != nil && !existing.ExpiresAt.IsZero() && now.After(existing.ExpiresAt) {
		if err := s.idempotency.Release(ctx, key); err != nil {
			return false, err
		}
		existing = nil
	}
	if existing != nil {
		if existing.RequestHash != requestHash {
			return false, domain.ErrIdempotencyConflict
		}
		if existing.Status != idempotencyCompleted {
			return false, fmt.Errorf("%w: request is still in progress", domain.ErrIdempotencyConflict)
		}
		if err := json.Unmarshal(existing.ResponseBody, out); err != nil {
			return false, fmt.Errorf("decode idempotent response: %w", err)
		}
		return true, nil
	}
	if err := s.idempotency.Reserve(ctx, key, requestHash, now.Add(s.cfg.IdempotencyTTL)); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrIdempotencyConflict, err)
	}
	return false, nil
}

func (s *Service) completeIdempotent(ctx context.Context, key string, code int, payload any) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err == nil {
		err = s.idempotency.Complete(ctx, key, code, body, s.nowFn())
	}
	if err != nil {
		s.logger.WarnContext(ctx, "idempotency completion failed",
			"operation", "idempotency_complete",
			"outcome", "failure",
			"error", err,
		)
	}
}

// releaseIdempotent frees a reservation whose request failed so the client may retry.
func (s *Service) releaseIdempotent(ctx context.Context, key string) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "idempotency release failed",
			"operation", "idempotency_release",
			"outcome", "failure",
			"error", err,
		)
	}
}

func scopedIdempotencyKey(scope, appID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return scope + ":" + appID + ":" + key
}
