package postgres

import (
	"context"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
	"gorm.io/gorm"
)

type partnerRepository struct {
	db *gorm.DB
}

func (r *partnerRepository) Create(ctx context.Context, partner domain.Partner) error {
	row := toPartnerModel(partner)
	return translate(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *partnerRepository) GetByID(ctx context.Context, partnerID string) (domain.Partner, error) {
	var row partnerModel
	if err := r.db.WithContext(ctx).Where("partner_id = ?", partnerID).Take(&row).Error; err != nil {
		return domain.Partner{}, translate(err)
	}
	return toDomainPartner(row), nil
}

func (r *partnerRepository) GetByEmail(ctx context.Context, email string) (domain.Partner, error) {
	var row partnerModel
	if err := r.db.WithContext(ctx).Where("email = ?", email).Take(&row).Error; err != nil {
		return domain.Partner{}, translate(err)
	}
	return toDomainPartner(row), nil
}

type appRepository struct {
	db *gorm.DB
}

func (r *appRepository) Create(ctx context.Context, app domain.App) error {
	row := toAppModel(app)
	return translate(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *appRepository) GetByID(ctx context.Context, appID string) (domain.App, error) {
	var row appModel
	if err := r.db.WithContext(ctx).Where("app_id = ?", appID).Take(&row).Error; err != nil {
		return domain.App{}, translate(err)
	}
	return toDomainApp(row), nil
}

func (r *appRepository) GetByAPIKeyHash(ctx context.Context, hash string) (domain.App, error) {
	var row appModel
	if err := r.db.WithContext(ctx).Where("api_key_hash = ?", hash).Take(&row).Error; err != nil {
		return domain.App{}, translate(err)
	}
	return toDomainApp(row), nil
}

func (r *appRepository) ListByPartner(ctx context.Context, partnerID string) ([]domain.App, error) {
	var rows []appModel
	if err := r.db.WithContext(ctx).Where("partner_id = ?", partnerID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.App, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainApp(row))
	}
	return out, nil
}

func (r *appRepository) UpdateAPIKey(ctx context.Context, appID, hash, prefix string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&appModel{}).
		Where("app_id = ?", appID).
		Updates(map[string]any{
			"api_key_hash":   hash,
			"api_key_prefix": prefix,
			"updated_at":     at,
		})
	return affectedOne(res)
}

func (r *appRepository) UpdateStatus(ctx context.Context, appID string, status domain.AppStatus, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&appModel{}).
		Where("app_id = ?", appID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": at,
		})
	return affectedOne(res)
}

func (r *appRepository) IncrementUsage(ctx context.Context, appID string) error {
	res := r.db.WithContext(ctx).Model(&appModel{}).
		Where("app_id = ?", appID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	return affectedOne(res)
}

// Delete removes the app with its campaigns and webhooks. The schema cascades as well;
// the explicit deletes keep behavior identical on stores without foreign keys.
func (r *appRepository) Delete(ctx context.Context, appID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("app_id = ?", appID).Delete(&campaignModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("app_id = ?", appID).Delete(&webhookModel{}).Error; err != nil {
			return err
		}
		return affectedOne(tx.Where("app_id = ?", appID).Delete(&appModel{}))
	})
}

type campaignRepository struct {
	db *gorm.DB
}

func (r *campaignRepository) Create(ctx context.Context, campaign domain.Campaign) error {
	row := toCampaignModel(campaign)
	return translate(r.db.WithContext(ctx).Create(&row).Error)
}

func (r *campaignRepository) GetByID(ctx context.Context, campaignID string) (domain.Campaign, error) {
	var row campaignModel
	if err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Take(&row).Error; err != nil {
		return domain.Campaign{}, translate(err)
	}
	return toDomainCampaign(row), nil
}

func (r *campaignRepository) ListByApp(ctx context.Context, appID string) ([]domain.Campaign, error) {
	var rows []campaignModel
	if err := r.db.WithContext(ctx).Where("app_id = ?", appID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Campaign, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainCampaign(row))
	}
	return out, nil
}

func (r *campaignRepository) UpdateStatus(ctx context.Context, campaignID string, status domain.CampaignStatus, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&campaignModel{}).
		Where("campaign_id = ?", campaignID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": at,
		})
	return affectedOne(res)
}

// affectedOne turns a no-op write into domain.ErrNotFound.
func affectedOne(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
