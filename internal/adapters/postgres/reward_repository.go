package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type rewardRepository struct {
	db *gorm.DB
}

func (r *rewardRepository) GetByID(ctx context.Context, rewardID string) (domain.Reward, error) {
	var row rewardModel
	if err := r.db.WithContext(ctx).Where("reward_id = ?", rewardID).Take(&row).Error; err != nil {
		return domain.Reward{}, translate(err)
	}
	return toDomainReward(row)
}

func (r *rewardRepository) GetByCode(ctx context.Context, code string) (domain.Reward, error) {
	var row rewardModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return domain.Reward{}, translate(err)
	}
	return toDomainReward(row)
}

func (r *rewardRepository) List(ctx context.Context, filter ports.RewardFilter) ([]domain.Reward, error) {
	q := r.db.WithContext(ctx).Where("app_id = ?", filter.AppID)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.ReferrerID != "" {
		q = q.Where("referrer_id = ?", filter.ReferrerID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []rewardModel
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRewards(rows)
}

// CompareAndSetStatus is a conditional UPDATE guarded by the expected status. A lost
// race shows up as zero affected rows rather than an error.
func (r *rewardRepository) CompareAndSetStatus(ctx context.Context, rewardID string, expected, next domain.RewardStatus, patch domain.RewardPatch, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     string(next),
		"updated_at": at,
	}
	if patch.PaidAt != nil {
		updates["paid_at"] = *patch.PaidAt
	}
	if patch.PayoutReference != nil {
		updates["payout_reference"] = *patch.PayoutReference
	}
	if patch.Fulfillment != nil {
		fulfillmentType, code, expiresAt := domain.FlattenFulfillment(patch.Fulfillment)
		updates["fulfillment_type"] = string(fulfillmentType)
		updates["code"] = nullableString(code)
		updates["expires_at"] = expiresAt
	}

	res := r.db.WithContext(ctx).Model(&rewardModel{}).
		Where("reward_id = ? AND status = ?", rewardID, string(expected)).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var exists int64
	if err := r.db.WithContext(ctx).Model(&rewardModel{}).Where("reward_id = ?", rewardID).Count(&exists).Error; err != nil {
		return false, err
	}
	if exists == 0 {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *rewardRepository) CreateIfAbsent(ctx context.Context, reward domain.Reward) (bool, error) {
	row := toRewardModel(reward)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "conversion_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *rewardRepository) ListBackfillCandidates(ctx context.Context, limit int) ([]ports.BackfillCandidate, error) {
	q := r.db.WithContext(ctx).
		Table("conversions AS c").
		Select("c.*").
		Joins("JOIN referrals AS rf ON rf.referral_id = c.referral_id").
		Joins("LEFT JOIN rewards AS rw ON rw.conversion_id = c.conversion_id").
		Where("rw.reward_id IS NULL").
		Where("rf.status = ?", string(domain.ReferralStatusConverted)).
		Where("rf.reward_amount > 0").
		Order("c.created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var conversions []conversionModel
	if err := q.Find(&conversions).Error; err != nil {
		return nil, err
	}
	if len(conversions) == 0 {
		return []ports.BackfillCandidate{}, nil
	}

	referralIDs := make([]string, 0, len(conversions))
	for _, c := range conversions {
		referralIDs = append(referralIDs, c.ReferralID)
	}
	var referrals []referralModel
	if err := r.db.WithContext(ctx).Where("referral_id IN ?", referralIDs).Find(&referrals).Error; err != nil {
		return nil, err
	}
	referralByID := make(map[string]referralModel, len(referrals))
	campaignIDs := make([]string, 0, len(referrals))
	for _, rf := range referrals {
		referralByID[rf.ReferralID] = rf
		campaignIDs = append(campaignIDs, rf.CampaignID)
	}
	var campaigns []campaignModel
	if err := r.db.WithContext(ctx).Where("campaign_id IN ?", campaignIDs).Find(&campaigns).Error; err != nil {
		return nil, err
	}
	campaignByID := make(map[string]campaignModel, len(campaigns))
	for _, c := range campaigns {
		campaignByID[c.CampaignID] = c
	}

	out := make([]ports.BackfillCandidate, 0, len(conversions))
	for _, c := range conversions {
		rf, ok := referralByID[c.ReferralID]
		if !ok {
			continue
		}
		campaign, ok := campaignByID[rf.CampaignID]
		if !ok {
			continue
		}
		out = append(out, ports.BackfillCandidate{
			Referral:   toDomainReferral(rf),
			Conversion: toDomainConversion(c),
			Campaign:   toDomainCampaign(campaign),
		})
	}
	return out, nil
}

type rewardTotalsRow struct {
	Status string
	Count  int64
	Amount decimal.NullDecimal
}

func (r *rewardRepository) TotalsByStatus(ctx context.Context, appID string) (map[domain.RewardStatus]domain.RewardTotals, error) {
	var rows []rewardTotalsRow
	if err := r.db.WithContext(ctx).Model(&rewardModel{}).
		Select("status, COUNT(*) AS count, SUM(amount) AS amount").
		Where("app_id = ?", appID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.RewardStatus]domain.RewardTotals, len(rows))
	for _, row := range rows {
		amount := decimal.Zero
		if row.Amount.Valid {
			amount = row.Amount.Decimal
		}
		out[domain.RewardStatus(row.Status)] = domain.RewardTotals{Count: row.Count, Amount: amount}
	}
	return out, nil
}
