package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type referralRepository struct {
	db *gorm.DB
}

func (r *referralRepository) CreateCodeReferral(ctx context.Context, referral domain.Referral, flag *domain.FraudFlag, outbox []ports.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toReferralModel(referral)
		if err := tx.Create(&row).Error; err != nil {
			return translate(err)
		}
		if flag != nil {
			flagRow := toFraudFlagModel(*flag)
			if err := tx.Create(&flagRow).Error; err != nil {
				return translate(err)
			}
		}
		return insertOutbox(tx, outbox)
	})
}

func (r *referralRepository) GetByID(ctx context.Context, referralID string) (domain.Referral, error) {
	var row referralModel
	if err := r.db.WithContext(ctx).Where("referral_id = ?", referralID).Take(&row).Error; err != nil {
		return domain.Referral{}, translate(err)
	}
	return toDomainReferral(row), nil
}

func (r *referralRepository) GetByCode(ctx context.Context, appID, code string) (domain.Referral, error) {
	var row referralModel
	if err := r.db.WithContext(ctx).
		Where("unique_code = ? AND app_id = ?", code, appID).
		Take(&row).Error; err != nil {
		return domain.Referral{}, translate(err)
	}
	return toDomainReferral(row), nil
}

func (r *referralRepository) ListConversions(ctx context.Context, appID, code string) ([]domain.Conversion, error) {
	var rows []conversionModel
	if err := r.db.WithContext(ctx).
		Where("app_id = ? AND referral_code = ?", appID, code).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Conversion, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainConversion(row))
	}
	return out, nil
}

func (r *referralRepository) ListByApp(ctx context.Context, appID string, limit int) ([]domain.Referral, error) {
	q := r.db.WithContext(ctx).Where("app_id = ?", appID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []referralModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Referral, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainReferral(row))
	}
	return out, nil
}

// RecordConversion locks the code-generation row so concurrent conversions of one code
// serialize on the single-use check.
func (r *referralRepository) RecordConversion(ctx context.Context, write ports.ConversionWrite) error {
	appID := write.Referral.AppID
	code := write.Referral.OriginalReferralCode
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var origin referralModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("unique_code = ? AND app_id = ?", code, appID).
			Take(&origin).Error; err != nil {
			return translate(err)
		}
		if write.SingleUse {
			var used int64
			if err := tx.Model(&conversionModel{}).
				Where("app_id = ? AND referral_code = ?", appID, code).
				Count(&used).Error; err != nil {
				return err
			}
			if used > 0 {
				return fmt.Errorf("%w: referral code has already been used", domain.ErrConflict)
			}
		}
		if write.FirstTimeUserOnly {
			var prior int64
			if err := tx.Model(&conversionModel{}).
				Where("app_id = ? AND referee_id = ?", appID, write.Conversion.RefereeID).
				Count(&prior).Error; err != nil {
				return err
			}
			if prior > 0 {
				return fmt.Errorf("%w: referee has already converted", domain.ErrConflict)
			}
		}

		referralRow := toReferralModel(write.Referral)
		if err := tx.Create(&referralRow).Error; err != nil {
			return translate(err)
		}
		conversionRow := toConversionModel(write.Conversion)
		if err := tx.Create(&conversionRow).Error; err != nil {
			return translate(err)
		}
		if write.Reward != nil {
			rewardRow := toRewardModel(*write.Reward)
			if err := tx.Create(&rewardRow).Error; err != nil {
				return translate(err)
			}
		}
		if write.Flag != nil {
			flagRow := toFraudFlagModel(*write.Flag)
			if err := tx.Create(&flagRow).Error; err != nil {
				return translate(err)
			}
		}
		return insertOutbox(tx, write.Outbox)
	})
}

func (r *referralRepository) Counts(ctx context.Context, appID string) (ports.ReferralCounts, error) {
	var counts ports.ReferralCounts
	db := r.db.WithContext(ctx)
	if err := db.Model(&referralModel{}).
		Where("app_id = ? AND is_code_generation = ?", appID, true).
		Count(&counts.Referrals).Error; err != nil {
		return counts, err
	}
	if err := db.Model(&referralModel{}).
		Where("app_id = ? AND status = ?", appID, string(domain.ReferralStatusFlagged)).
		Count(&counts.FlaggedReferrals).Error; err != nil {
		return counts, err
	}
	if err := db.Model(&conversionModel{}).Where("app_id = ?", appID).Count(&counts.Conversions).Error; err != nil {
		return counts, err
	}
	if err := db.Model(&clickModel{}).Where("app_id = ?", appID).Count(&counts.Clicks).Error; err != nil {
		return counts, err
	}
	return counts, nil
}

type clickRepository struct {
	db *gorm.DB
}

func (r *clickRepository) Create(ctx context.Context, click domain.Click, flag *domain.FraudFlag) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toClickModel(click)
		if err := tx.Create(&row).Error; err != nil {
			return translate(err)
		}
		if flag == nil {
			return nil
		}
		flagRow := toFraudFlagModel(*flag)
		return translate(tx.Create(&flagRow).Error)
	})
}

func (r *clickRepository) CountByCode(ctx context.Context, appID, code string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&clickModel{}).
		Where("app_id = ? AND referral_code = ?", appID, code).
		Count(&n).Error
	return int(n), err
}

// fraudSignalRepository runs the scorer's counting queries without locks.
type fraudSignalRepository struct {
	db *gorm.DB
}

func (r *fraudSignalRepository) CountByIPSince(ctx context.Context, appID, campaignID, ip string, since time.Time) (int, error) {
	db := r.db.WithContext(ctx)
	var referrals, clicks int64
	if err := db.Model(&referralModel{}).
		Where("app_id = ? AND campaign_id = ? AND ip_address = ? AND created_at >= ?", appID, campaignID, ip, since).
		Count(&referrals).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&clickModel{}).
		Where("app_id = ? AND campaign_id = ? AND ip_address = ? AND clicked_at >= ?", appID, campaignID, ip, since).
		Count(&clicks).Error; err != nil {
		return 0, err
	}
	return int(referrals + clicks), nil
}

func (r *fraudSignalRepository) CountReferralsByReferrerSince(ctx context.Context, appID, referrerID string, since time.Time) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&referralModel{}).
		Where("app_id = ? AND is_code_generation = ? AND referrer_id = ? AND created_at >= ?", appID, true, referrerID, since).
		Count(&n).Error
	return int(n), err
}

func (r *fraudSignalRepository) CountDistinctReferrersByFingerprint(ctx context.Context, appID, fingerprint string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&referralModel{}).
		Where("app_id = ? AND device_fingerprint = ?", appID, fingerprint).
		Distinct("referrer_id").
		Count(&n).Error
	return int(n), err
}
