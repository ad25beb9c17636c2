package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

type FraudFlagRepository struct {
	s *store
}

func (r *FraudFlagRepository) Create(_ context.Context, flag domain.FraudFlag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.flags[flag.FlagID]; ok {
		return domain.ErrConflict
	}
	r.s.insertFlag(flag)
	return nil
}

func (r *FraudFlagRepository) GetByID(_ context.Context, flagID string) (domain.FraudFlag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	flag, ok := r.s.flags[flagID]
	if !ok {
		return domain.FraudFlag{}, domain.ErrNotFound
	}
	return flag, nil
}

func (r *FraudFlagRepository) ListByApp(_ context.Context, appID string, unresolvedOnly bool, limit int) ([]domain.FraudFlag, error) {
	return r.list(func(f domain.FraudFlag) bool {
		return f.AppID == appID && (!unresolvedOnly || !f.IsResolved)
	}, limit), nil
}

func (r *FraudFlagRepository) ListUnresolved(_ context.Context, limit int) ([]domain.FraudFlag, error) {
	return r.list(func(f domain.FraudFlag) bool { return !f.IsResolved }, limit), nil
}

func (r *FraudFlagRepository) list(match func(domain.FraudFlag) bool, limit int) []domain.FraudFlag {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.FraudFlag{}
	for i := len(r.s.flagOrder) - 1; i >= 0; i-- {
		flag := r.s.flags[r.s.flagOrder[i]]
		if !match(flag) {
			continue
		}
		out = append(out, flag)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *FraudFlagRepository) Resolve(_ context.Context, flagID, resolvedBy, note string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	flag, ok := r.s.flags[flagID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if flag.IsResolved {
		return false, nil
	}
	flag.IsResolved = true
	flag.ResolvedBy = &resolvedBy
	flag.ResolvedAt = &at
	flag.ResolutionNote = note
	r.s.flags[flagID] = flag
	return true, nil
}

func (r *FraudFlagRepository) CountUnresolved(_ context.Context, appID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, flag := range r.s.flags {
		if flag.AppID == appID && !flag.IsResolved {
			n++
		}
	}
	return n, nil
}

type WebhookRepository struct {
	s *store
}

func (r *WebhookRepository) Create(_ context.Context, webhook domain.Webhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.webhooks[webhook.WebhookID]; ok {
		return domain.ErrConflict
	}
	webhook.Events = append([]domain.EventType(nil), webhook.Events...)
	r.s.webhooks[webhook.WebhookID] = webhook
	r.s.webhookOrder = append(r.s.webhookOrder, webhook.WebhookID)
	return nil
}

func (r *WebhookRepository) GetByID(_ context.Context, webhookID string) (domain.Webhook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	webhook, ok := r.s.webhooks[webhookID]
	if !ok {
		return domain.Webhook{}, domain.ErrNotFound
	}
	return webhook, nil
}

func (r *WebhookRepository) ListByApp(_ context.Context, appID string) ([]domain.Webhook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Webhook{}
	for _, id := range r.s.webhookOrder {
		if w, ok := r.s.webhooks[id]; ok && w.AppID == appID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *WebhookRepository) ListActiveForEvent(_ context.Context, appID string, event domain.EventType) ([]domain.Webhook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Webhook{}
	for _, id := range r.s.webhookOrder {
		w, ok := r.s.webhooks[id]
		if ok && w.AppID == appID && w.IsActive && w.Subscribes(event) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *WebhookRepository) Delete(_ context.Context, webhookID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.webhooks[webhookID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.webhooks, webhookID)
	return nil
}

func (r *WebhookRepository) RecordDelivery(_ context.Context, delivery domain.WebhookDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deliveries = append(r.s.deliveries, delivery)
	return nil
}

func (r *WebhookRepository) ListDeliveries(_ context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.WebhookDelivery{}
	for i := len(r.s.deliveries) - 1; i >= 0; i-- {
		d := r.s.deliveries[i]
		if d.WebhookID != webhookID {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type OutboxRepository struct {
	s *store
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.outbox[event.EventID]; ok {
		return domain.ErrConflict
	}
	r.s.insertOutbox([]ports.OutboxEvent{event})
	return nil
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	out := []ports.OutboxRecord{}
	for _, id := range r.s.outboxOrder {
		if len(out) == limitOrAll(limit, len(r.s.outboxOrder)) {
			break
		}
		rec := r.s.outbox[id]
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && rec.ClaimUntil.After(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		rec.ClaimToken = &token
		rec.ClaimUntil = &until
		r.s.outbox[id] = rec
		out = append(out, rec)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.PublishedAt = &at
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *ports.OutboxRecord) {
		rec.RetryCount++
		rec.LastError = &errMsg
		rec.LastErrorAt = &at
		rec.DeadLetteredAt = &at
	})
}

func (r *OutboxRepository) update(outboxID uuid.UUID, claimToken string, apply func(*ports.OutboxRecord)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.outbox[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.ClaimToken == nil || *rec.ClaimToken != claimToken {
		return domain.ErrConflict
	}
	apply(&rec)
	rec.ClaimToken = nil
	rec.ClaimUntil = nil
	r.s.outbox[outboxID] = rec
	return nil
}

// Pending returns unpublished outbox rows in insertion order.
func (r *OutboxRepository) Pending() []ports.OutboxRecord {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []ports.OutboxRecord{}
	for _, id := range r.s.outboxOrder {
		if rec := r.s.outbox[id]; rec.PublishedAt == nil && rec.DeadLetteredAt == nil {
			out = append(out, rec)
		}
	}
	return out
}

type IdempotencyRepository struct {
	s *store
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (*ports.IdempotencyRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &rec, nil
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.idempotency[key]; ok {
		return domain.ErrConflict
	}
	now := time.Now().UTC()
	r.s.idempotency[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      "PENDING",
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.idempotency[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = "COMPLETED"
	rec.ResponseCode = responseCode
	rec.ResponseBody = append([]byte(nil), responseBody...)
	rec.UpdatedAt = at
	r.s.idempotency[key] = rec
	return nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.idempotency, key)
	return nil
}

type DataMigrationRepository struct {
	s *store
}

func (r *DataMigrationRepository) IsApplied(_ context.Context, name string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.migrations[name]
	return ok, nil
}

func (r *DataMigrationRepository) MarkApplied(_ context.Context, name string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.migrations[name]; !ok {
		r.s.migrations[name] = at
	}
	return nil
}
