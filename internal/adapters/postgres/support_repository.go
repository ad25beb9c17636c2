package postgres

import (
	"context"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
	"gorm.io/gorm"
)

type fraudFlagRepository struct {
	db *gorm.DB
}

func (r *fraudFlagRepository) Create(ctx context.Context, flag domain.FraudFlag) error {
	row := toFraudFlagModel(flag)
	return translate(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *fraudFlagRepository) GetByID(ctx context.Context, flagID string) (domain.FraudFlag, error) {
	var row fraudFlagModel
	if err := r.db.WithContext(ctx).Where("flag_id = ?", flagID).Take(&row).Error; err != nil {
		return domain.FraudFlag{}, translate(err)
	}
	return toDomainFraudFlag(row), nil
}

func (r *fraudFlagRepository) ListByApp(ctx context.Context, appID string, unresolvedOnly bool, limit int) ([]domain.FraudFlag, error) {
	q := r.db.WithContext(ctx).Where("app_id = ?", appID)
	if unresolvedOnly {
		q = q.Where("is_resolved = ?", false)
	}
	return r.list(q, limit)
}

func (r *fraudFlagRepository) ListUnresolved(ctx context.Context, limit int) ([]domain.FraudFlag, error) {
	return r.list(r.db.WithContext(ctx).Where("is_resolved = ?", false), limit)
}

func (r *fraudFlagRepository) list(q *gorm.DB, limit int) ([]domain.FraudFlag, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []fraudFlagModel
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.FraudFlag, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainFraudFlag(row))
	}
	return out, nil
}

func (r *fraudFlagRepository) Resolve(ctx context.Context, flagID, resolvedBy, note string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&fraudFlagModel{}).
		Where("flag_id = ? AND is_resolved = ?", flagID, false).
		Updates(map[string]any{
			"is_resolved":     true,
			"resolved_by":     resolvedBy,
			"resolved_at":     at,
			"resolution_note": note,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, flagID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *fraudFlagRepository) CountUnresolved(ctx context.Context, appID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&fraudFlagModel{}).
		Where("app_id = ? AND is_resolved = ?", appID, false).
		Count(&n).Error
	return n, err
}

type webhookRepository struct {
	db *gorm.DB
}

func (r *webhookRepository) Create(ctx context.Context, webhook domain.Webhook) error {
	row := toWebhookModel(webhook)
	return translate(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *webhookRepository) GetByID(ctx context.Context, webhookID string) (domain.Webhook, error) {
	var row webhookModel
	if err := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).Take(&row).Error; err != nil {
		return domain.Webhook{}, translate(err)
	}
	return toDomainWebhook(row), nil
}

func (r *webhookRepository) ListByApp(ctx context.Context, appID string) ([]domain.Webhook, error) {
	var rows []webhookModel
	if err := r.db.WithContext(ctx).Where("app_id = ?", appID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Webhook, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainWebhook(row))
	}
	return out, nil
}

// ListActiveForEvent filters subscriptions in Go; an app carries a handful of
// webhooks at most.
func (r *webhookRepository) ListActiveForEvent(ctx context.Context, appID string, event domain.EventType) ([]domain.Webhook, error) {
	var rows []webhookModel
	if err := r.db.WithContext(ctx).
		Where("app_id = ? AND is_active = ?", appID, true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := []domain.Webhook{}
	for _, row := range rows {
		hook := toDomainWebhook(row)
		if hook.Subscribes(event) {
			out = append(out, hook)
		}
	}
	return out, nil
}

func (r *webhookRepository) Delete(ctx context.Context, webhookID string) error {
	return affectedOne(r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).Delete(&webhookModel{}))
}

func (r *webhookRepository) RecordDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	row := webhookDeliveryModel{
		DeliveryID: delivery.DeliveryID,
		WebhookID:  delivery.WebhookID,
		Event:      string(delivery.Event),
		StatusCode: delivery.StatusCode,
		Success:    delivery.Success,
		Attempts:   delivery.Attempts,
		Error:      delivery.Error,
		DurationMS: delivery.DurationMS,
		CreatedAt:  delivery.CreatedAt,
	}
	return translate(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *webhookRepository) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	q := r.db.WithContext(ctx).Where("webhook_id = ?", webhookID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []webhookDeliveryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.WebhookDelivery, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainDelivery(row))
	}
	return out, nil
}

type dataMigrationRepository struct {
	db *gorm.DB
}

func (r *dataMigrationRepository) IsApplied(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&dataMigrationModel{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *dataMigrationRepository) MarkApplied(ctx context.Context, name string, at time.Time) error {
	row := dataMigrationModel{Name: name, AppliedAt: at}
	err := r.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return nil
	}
	return err
}
