package application

import (
	"context"
	"fmt"

	"github.com/viralforge/referral-platform/internal/domain"
)

// RewardBackfillMigration names the once-only reward backfill in the data migration log.
const RewardBackfillMigration = "reward_backfill_v1"

// BackfillRewards creates the missing PENDING reward of every converted referral that
// carries a positive reward amount. It runs once unless forced; rerunning it creates
// nothing new because rewards are unique per conversion.
func (s *Service) BackfillRewards(ctx context.Context, force bool) (BackfillResult, error) {
	applied, err := s.migrations.IsApplied(ctx, RewardBackfillMigration)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("check migration: %w", err)
	}
	if applied && !force {
		s.logger.InfoContext(ctx, "reward backfill already applied",
			"operation", "backfill_rewards",
			"outcome", "skipped",
		)
		return BackfillResult{AlreadyApplied: true}, nil
	}

	var result BackfillResult
	for {
		candidates, err := s.rewards.ListBackfillCandidates(ctx, s.cfg.BackfillBatchSize)
		if err != nil {
			return result, fmt.Errorf("list backfill candidates: %w", err)
		}
		if len(candidates) == 0 {
			break
		}
		created := 0
		for _, c := range candidates {
			result.Scanned++
			fulfillment, err := domain.NewFulfillment(c.Campaign.FulfillmentType, "", nil)
			if err != nil {
				return result, err
			}
			now := s.nowFn()
			reward := domain.Reward{
				RewardID:     newID(),
				AppID:        c.Referral.AppID,
				CampaignID:   c.Campaign.CampaignID,
				ReferralID:   c.Referral.ReferralID,
				ConversionID: c.Conversion.ConversionID,
				ReferrerID:   c.Referral.ReferrerID,
				Amount:       domain.RoundCurrency(c.Referral.RewardAmount),
				Currency:     c.Campaign.Currency,
				Status:       domain.RewardStatusPending,
				Fulfillment:  fulfillment,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			ok, err := s.rewards.CreateIfAbsent(ctx, reward)
			if err != nil {
				return result, fmt.Errorf("create reward for conversion %s: %w", c.Conversion.ConversionID, err)
			}
			if ok {
				created++
				s.emit(reward.AppID, domain.EventRewardCreated, rewardEventData(reward))
			}
		}
		result.Created += created
		// Candidates are rows without a reward, so a batch that created nothing
		// would be returned again.
		if created == 0 || len(candidates) < s.cfg.BackfillBatchSize {
			break
		}
	}

	if !applied {
		if err := s.migrations.MarkApplied(ctx, RewardBackfillMigration, s.nowFn()); err != nil {
			return result, fmt.Errorf("record migration: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "reward backfill finished",
		"operation", "backfill_rewards",
		"outcome", "success",
		"scanned", result.Scanned,
		"created", result.Created,
		"forced", force,
	)
	return result, nil
}
