package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

type RewardRepository struct {
	s *store
}

func (s *store) putReward(reward domain.Reward) {
	if _, exists := s.rewards[reward.RewardID]; !exists {
		s.rewardOrder = append(s.rewardOrder, reward.RewardID)
	}
	s.rewards[reward.RewardID] = reward
	s.rewardByConversion[reward.ConversionID] = reward.RewardID
	if code, _, ok := domain.RedemptionCode(reward.Fulfillment); ok && code != "" {
		s.rewardByCode[code] = reward.RewardID
	}
}

func (r *RewardRepository) GetByID(_ context.Context, rewardID string) (domain.Reward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	reward, ok := r.s.rewards[rewardID]
	if !ok {
		return domain.Reward{}, domain.ErrNotFound
	}
	return reward, nil
}

func (r *RewardRepository) GetByCode(_ context.Context, code string) (domain.Reward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.rewardByCode[code]
	if !ok {
		return domain.Reward{}, domain.ErrNotFound
	}
	return r.s.rewards[id], nil
}

// List returns the newest rewards first.
func (r *RewardRepository) List(_ context.Context, filter ports.RewardFilter) ([]domain.Reward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Reward{}
	for i := len(r.s.rewardOrder) - 1; i >= 0; i-- {
		reward := r.s.rewards[r.s.rewardOrder[i]]
		if reward.AppID != filter.AppID {
			continue
		}
		if filter.Status != "" && reward.Status != filter.Status {
			continue
		}
		if filter.ReferrerID != "" && reward.ReferrerID != filter.ReferrerID {
			continue
		}
		out = append(out, reward)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *RewardRepository) CompareAndSetStatus(_ context.Context, rewardID string, expected, next domain.RewardStatus, patch domain.RewardPatch, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reward, ok := r.s.rewards[rewardID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if reward.Status != expected {
		return false, nil
	}
	if patch.Fulfillment != nil {
		if code, _, ok := domain.RedemptionCode(patch.Fulfillment); ok && code != "" {
			if owner, taken := r.s.rewardByCode[code]; taken && owner != rewardID {
				return false, domain.ErrConflict
			}
		}
		reward.Fulfillment = patch.Fulfillment
	}
	reward.Status = next
	reward.UpdatedAt = at
	if patch.PaidAt != nil {
		reward.PaidAt = patch.PaidAt
	}
	if patch.PayoutReference != nil {
		reward.PayoutReference = *patch.PayoutReference
	}
	r.s.putReward(reward)
	return true, nil
}

func (r *RewardRepository) CreateIfAbsent(_ context.Context, reward domain.Reward) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.rewardByConversion[reward.ConversionID]; exists {
		return false, nil
	}
	r.s.putReward(reward)
	return true, nil
}

func (r *RewardRepository) ListBackfillCandidates(_ context.Context, limit int) ([]ports.BackfillCandidate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []ports.BackfillCandidate{}
	for _, id := range r.s.conversionOrder {
		conversion := r.s.conversions[id]
		if _, hasReward := r.s.rewardByConversion[conversion.ConversionID]; hasReward {
			continue
		}
		referral, ok := r.s.referrals[conversion.ReferralID]
		if !ok || referral.Status != domain.ReferralStatusConverted || !referral.RewardAmount.IsPositive() {
			continue
		}
		campaign, ok := r.s.campaigns[referral.CampaignID]
		if !ok {
			continue
		}
		out = append(out, ports.BackfillCandidate{Referral: referral, Conversion: conversion, Campaign: campaign})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RewardRepository) TotalsByStatus(_ context.Context, appID string) (map[domain.RewardStatus]domain.RewardTotals, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := map[domain.RewardStatus]domain.RewardTotals{}
	for _, reward := range r.s.rewards {
		if reward.AppID != appID {
			continue
		}
		totals := out[reward.Status]
		if totals.Amount.IsZero() {
			totals.Amount = decimal.Zero
		}
		totals.Count++
		totals.Amount = totals.Amount.Add(reward.Amount)
		out[reward.Status] = totals
	}
	return out, nil
}

// SeedConversion stores a conversion and its record without a reward, the shape of
// data written before rewards were tracked.
func (r *RewardRepository) SeedConversion(referral domain.Referral, conversion domain.Conversion) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.referrals[referral.ReferralID] = referral
	r.s.referralOrder = append(r.s.referralOrder, referral.ReferralID)
	r.s.conversions[conversion.ConversionID] = conversion
	r.s.conversionOrder = append(r.s.conversionOrder, conversion.ConversionID)
}
