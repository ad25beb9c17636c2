package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

const rewardTransitionAttempts = 3

// ListRewards lists the rewards of the calling app.
func (s *Service) ListRewards(ctx context.Context, app domain.App, q RewardQuery) ([]domain.Reward, error) {
	filter, err := rewardFilter(app.AppID, q)
	if err != nil {
		return nil, err
	}
	return s.rewards.List(ctx, filter)
}

func (s *Service) ListAppRewards(ctx context.Context, actor Actor, appID string, q RewardQuery) ([]domain.Reward, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	return s.ListRewards(ctx, app, q)
}

// TransitionAppReward moves a reward of the calling app to a new status.
func (s *Service) TransitionAppReward(ctx context.Context, app domain.App, in TransitionRewardInput) (domain.Reward, error) {
	reward, next, err := s.loadTransition(ctx, in)
	if err != nil {
		return domain.Reward{}, err
	}
	if reward.AppID != app.AppID {
		return domain.Reward{}, domain.ErrNotFound
	}
	return s.transitionReward(ctx, reward, next, in.PayoutReference)
}

// TransitionReward moves a reward owned by the partner to a new status.
func (s *Service) TransitionReward(ctx context.Context, actor Actor, in TransitionRewardInput) (domain.Reward, error) {
	reward, next, err := s.loadTransition(ctx, in)
	if err != nil {
		return domain.Reward{}, err
	}
	if err := s.authorizeChild(ctx, actor, reward.AppID); err != nil {
		return domain.Reward{}, err
	}
	return s.transitionReward(ctx, reward, next, in.PayoutReference)
}

func (s *Service) loadTransition(ctx context.Context, in TransitionRewardInput) (domain.Reward, domain.RewardStatus, error) {
	rewardID := strings.TrimSpace(in.RewardID)
	if rewardID == "" {
		return domain.Reward{}, "", fmt.Errorf("%w: rewardId is required", domain.ErrInvalidInput)
	}
	next, err := domain.ParseRewardStatus(in.Status)
	if err != nil {
		return domain.Reward{}, "", err
	}
	reward, err := s.rewards.GetByID(ctx, rewardID)
	if err != nil {
		return domain.Reward{}, "", err
	}
	return reward, next, nil
}

// transitionReward applies one table-checked status change with a compare-and-set on the
// stored status. A lost race re-reads the reward and validates again.
func (s *Service) transitionReward(ctx context.Context, reward domain.Reward, next domain.RewardStatus, payoutReference string) (domain.Reward, error) {
	for attempt := 0; attempt < rewardTransitionAttempts; attempt++ {
		if err := domain.ValidateRewardTransition(reward.Status, next); err != nil {
			return domain.Reward{}, err
		}
		now := s.nowFn()
		patch, err := s.rewardPatch(ctx, reward, next, payoutReference, now)
		if err != nil {
			return domain.Reward{}, err
		}
		ok, err := s.rewards.CompareAndSetStatus(ctx, reward.RewardID, reward.Status, next, patch, now)
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return domain.Reward{}, err
		}
		if ok {
			from := reward.Status
			updated := applyRewardPatch(reward, next, patch, now)
			s.afterRewardTransition(ctx, updated, from)
			return updated, nil
		}
		reward, err = s.rewards.GetByID(ctx, reward.RewardID)
		if err != nil {
			return domain.Reward{}, err
		}
	}
	return domain.Reward{}, fmt.Errorf("%w: reward was modified concurrently", domain.ErrConflict)
}

func (s *Service) rewardPatch(ctx context.Context, reward domain.Reward, next domain.RewardStatus, payoutReference string, now time.Time) (domain.RewardPatch, error) {
	var patch domain.RewardPatch
	switch next {
	case domain.RewardStatusPaid:
		paidAt := now
		patch.PaidAt = &paidAt
		if ref := strings.TrimSpace(payoutReference); ref != "" {
			patch.PayoutReference = &ref
		}
	case domain.RewardStatusApproved:
		code, _, codeBearing := domain.RedemptionCode(reward.Fulfillment)
		if !codeBearing || code != "" {
			break
		}
		newCode, err := domain.RandomRewardCode(s.cfg.RewardCodeLength)
		if err != nil {
			return patch, err
		}
		expiresAt, err := s.rewardCodeExpiry(ctx, reward.CampaignID, now)
		if err != nil {
			return patch, err
		}
		patch.Fulfillment = domain.WithRedemptionCode(reward.Fulfillment, newCode, expiresAt)
	}
	return patch, nil
}

func (s *Service) rewardCodeExpiry(ctx context.Context, campaignID string, now time.Time) (*time.Time, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if campaign.RewardExpiryDays <= 0 {
		return nil, nil
	}
	expiresAt := now.AddDate(0, 0, campaign.RewardExpiryDays)
	return &expiresAt, nil
}

func applyRewardPatch(r domain.Reward, next domain.RewardStatus, patch domain.RewardPatch, now time.Time) domain.Reward {
	r.Status = next
	r.UpdatedAt = now
	if patch.PaidAt != nil {
		r.PaidAt = patch.PaidAt
	}
	if patch.PayoutReference != nil {
		r.PayoutReference = *patch.PayoutReference
	}
	if patch.Fulfillment != nil {
		r.Fulfillment = patch.Fulfillment
	}
	return r
}

func (s *Service) afterRewardTransition(ctx context.Context, reward domain.Reward, from domain.RewardStatus) {
	s.metrics.RewardTransitioned(from, reward.Status)
	data := rewardEventData(reward)
	data["previous_status"] = string(from)
	s.emit(reward.AppID, domain.EventRewardStatusChanged, data)
	s.enqueueBestEffort(ctx, s.newOutboxEvent(outboxRewardStatus, reward.AppID, reward.RewardID, data))
	s.logger.InfoContext(ctx, "reward status changed",
		"operation", "transition_reward",
		"outcome", "success",
		"reward_id", reward.RewardID,
		"from", string(from),
		"to", string(reward.Status),
	)
}

// RedeemReward marks an approved reward paid through its redemption code.
func (s *Service) RedeemReward(ctx context.Context, app domain.App, rawCode string) (domain.Reward, error) {
	reward, err := s.rewardByCode(ctx, app, rawCode)
	if err != nil {
		return domain.Reward{}, err
	}
	for attempt := 0; attempt < rewardTransitionAttempts; attempt++ {
		now := s.nowFn()
		if err := reward.CheckRedeemable(now); err != nil {
			return domain.Reward{}, err
		}
		paidAt := now
		patch := domain.RewardPatch{PaidAt: &paidAt}
		ok, err := s.rewards.CompareAndSetStatus(ctx, reward.RewardID, domain.RewardStatusApproved, domain.RewardStatusPaid, patch, now)
		if err != nil {
			return domain.Reward{}, err
		}
		if ok {
			updated := applyRewardPatch(reward, domain.RewardStatusPaid, patch, now)
			s.afterRewardTransition(ctx, updated, domain.RewardStatusApproved)
			s.emit(app.AppID, domain.EventRewardRedeemed, rewardEventData(updated))
			return updated, nil
		}
		reward, err = s.rewards.GetByID(ctx, reward.RewardID)
		if err != nil {
			return domain.Reward{}, err
		}
	}
	return domain.Reward{}, fmt.Errorf("%w: reward was modified concurrently", domain.ErrConflict)
}

// ValidateRewardCode reports whether a code could be redeemed now, without redeeming it.
func (s *Service) ValidateRewardCode(ctx context.Context, app domain.App, rawCode string) (RewardValidation, error) {
	reward, err := s.rewardByCode(ctx, app, rawCode)
	if errors.Is(err, domain.ErrNotFound) {
		return RewardValidation{Reason: ValidationReasonNotFound}, nil
	}
	if err != nil {
		return RewardValidation{}, err
	}
	err = reward.CheckRedeemable(s.nowFn())
	switch {
	case err == nil:
		return RewardValidation{Valid: true, Reward: &reward}, nil
	case errors.Is(err, domain.ErrRewardExpired):
		return RewardValidation{Reason: ValidationReasonExpired, Reward: &reward}, nil
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return RewardValidation{Reason: ValidationReasonAlreadyRedeemed, Reward: &reward}, nil
	case errors.Is(err, domain.ErrRewardCancelled):
		return RewardValidation{Reason: ValidationReasonCancelled, Reward: &reward}, nil
	default:
		return RewardValidation{Reason: ValidationReasonNotApproved, Reward: &reward}, nil
	}
}

func (s *Service) rewardByCode(ctx context.Context, app domain.App, rawCode string) (domain.Reward, error) {
	code := strings.ToUpper(strings.TrimSpace(rawCode))
	if code == "" {
		return domain.Reward{}, fmt.Errorf("%w: code is required", domain.ErrInvalidInput)
	}
	reward, err := s.rewards.GetByCode(ctx, code)
	if err != nil {
		return domain.Reward{}, err
	}
	if reward.AppID != app.AppID {
		return domain.Reward{}, domain.ErrNotFound
	}
	return reward, nil
}

func (s *Service) enqueueBestEffort(ctx context.Context, event ports.OutboxEvent) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.Enqueue(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "outbox enqueue failed",
			"operation", "outbox_enqueue",
			"outcome", "failure",
			"event_type", event.EventType,
			"error", err,
		)
	}
}

func rewardFilter(appID string, q RewardQuery) (ports.RewardFilter, error) {
	filter := ports.RewardFilter{
		AppID:      appID,
		ReferrerID: strings.TrimSpace(q.ReferrerID),
		Limit:      clampLimit(q.Limit),
	}
	if strings.TrimSpace(q.Status) != "" {
		status, err := domain.ParseRewardStatus(q.Status)
		if err != nil {
			return ports.RewardFilter{}, err
		}
		filter.Status = status
	}
	return filter, nil
}
