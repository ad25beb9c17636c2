package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

const (
	outboxReferralCreated   = "referral.created"
	outboxReferralConverted = "referral.converted"
	outboxRewardCreated     = "reward.created"
	outboxRewardStatus      = "reward.status_changed"
	outboxFraudFlagged      = "referral.fraud_flagged"

	flaggedByScorer = "fraud_scorer"
	flaggedWarning  = "referral flagged for review by fraud detection"
)

// CreateReferral issues a new referral code for an active campaign of the app.
func (s *Service) CreateReferral(ctx context.Context, app domain.App, in CreateReferralInput) (CreateReferralResult, error) {
	campaignID := strings.TrimSpace(in.CampaignID)
	referrerID := strings.TrimSpace(in.ReferrerID)
	if campaignID == "" {
		return CreateReferralResult{}, fmt.Errorf("%w: campaignId is required", domain.ErrInvalidInput)
	}
	if referrerID == "" {
		return CreateReferralResult{}, fmt.Errorf("%w: referrerId is required", domain.ErrInvalidInput)
	}
	refereeID := optionalString(in.RefereeID)

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CreateReferralResult{}, domain.ErrCampaignNotFound
		}
		return CreateReferralResult{}, err
	}
	if campaign.AppID != app.AppID {
		return CreateReferralResult{}, domain.ErrForbidden
	}
	if !campaign.IsActive() {
		return CreateReferralResult{}, domain.ErrCampaignNotActive
	}

	fraud := s.scorer.Score(ctx, FraudInput{
		Subject:    domain.FraudSubjectReferral,
		AppID:      app.AppID,
		CampaignID: campaign.CampaignID,
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Meta:       in.Meta,
	})

	status := domain.ReferralStatusPending
	if fraud.IsFraud {
		status = domain.ReferralStatusFlagged
	}
	segment := domain.CodeSegmentFor(campaign.CodeSegment, in.ReferrerName, in.ReferrerEmail)
	fingerprint := domain.DeviceFingerprint(in.Meta.UserAgent, in.Meta.IPAddress, in.Meta.AcceptLanguage)

	for attempt := 1; attempt <= s.cfg.CodeMaxAttempts; attempt++ {
		code, err := domain.GenerateReferralCode(domain.CodeSpec{
			Prefix:       campaign.CodePrefix,
			Segment:      segment,
			SuffixLength: s.cfg.CodeSuffixLength,
			MinLength:    s.cfg.CodeMinLength,
		})
		if err != nil {
			return CreateReferralResult{}, err
		}

		now := s.nowFn()
		referral := domain.Referral{
			ReferralID:        newID(),
			AppID:             app.AppID,
			CampaignID:        campaign.CampaignID,
			Code:              code,
			ReferrerID:        referrerID,
			RefereeID:         refereeID,
			Status:            status,
			IPAddress:         strings.TrimSpace(in.Meta.IPAddress),
			UserAgent:         strings.TrimSpace(in.Meta.UserAgent),
			DeviceFingerprint: fingerprint,
			RewardAmount:      decimal.Zero,
			IsCodeGeneration:  true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		var flag *domain.FraudFlag
		if fraud.IsFraud {
			by := flaggedByScorer
			referral.FlaggedBy = &by
			referral.FlaggedAt = &now
			flag = s.newFraudFlag(app.AppID, domain.FraudSubjectReferral, referral.ReferralID, code, fraud)
		}

		data := referralEventData(referral)
		outbox := []ports.OutboxEvent{s.newOutboxEvent(outboxReferralCreated, app.AppID, code, data)}
		if flag != nil {
			outbox = append(outbox, s.newOutboxEvent(outboxFraudFlagged, app.AppID, code, fraudEventData(*flag)))
		}

		err = s.referrals.CreateCodeReferral(ctx, referral, flag, outbox)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.InfoContext(ctx, "referral code collision, regenerating",
				"operation", "create_referral",
				"outcome", "retry",
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return CreateReferralResult{}, err
		}

		s.emit(app.AppID, domain.EventReferralCreated, data)
		if flag != nil {
			s.emit(app.AppID, domain.EventFraudFlagged, fraudEventData(*flag))
		}
		result := CreateReferralResult{
			ReferralID:   referral.ReferralID,
			ReferralCode: code,
			Status:       status,
			Fraud:        fraud,
		}
		if fraud.IsFraud {
			result.Warning = flaggedWarning
		}
		return result, nil
	}
	return CreateReferralResult{}, fmt.Errorf("%w: could not allocate a unique referral code", domain.ErrConflict)
}

// GetReferralByCode returns the code-generation record of the app and its derived status.
func (s *Service) GetReferralByCode(ctx context.Context, app domain.App, rawCode string) (ReferralView, error) {
	code := domain.NormalizeReferralCode(rawCode)
	if code == "" {
		return ReferralView{}, fmt.Errorf("%w: referral code is required", domain.ErrInvalidInput)
	}
	referral, err := s.referrals.GetByCode(ctx, app.AppID, code)
	if err != nil {
		return ReferralView{}, err
	}
	return s.referralView(ctx, referral)
}

// GetReferral returns a referral by id for a partner that owns its app.
func (s *Service) GetReferral(ctx context.Context, actor Actor, referralID string) (ReferralView, error) {
	referral, err := s.referrals.GetByID(ctx, strings.TrimSpace(referralID))
	if err != nil {
		return ReferralView{}, err
	}
	if err := s.authorizeChild(ctx, actor, referral.AppID); err != nil {
		return ReferralView{}, err
	}
	if !referral.IsCodeGeneration {
		return ReferralView{Referral: referral, DerivedStatus: referral.Status}, nil
	}
	return s.referralView(ctx, referral)
}

func (s *Service) ListReferrals(ctx context.Context, actor Actor, appID string, limit int) ([]domain.Referral, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	return s.referrals.ListByApp(ctx, app.AppID, clampLimit(limit))
}

// ReferralStatusByCode serves internal callers that already scoped the request to an app.
func (s *Service) ReferralStatusByCode(ctx context.Context, appID, rawCode string) (ReferralView, error) {
	app, err := s.apps.GetByID(ctx, strings.TrimSpace(appID))
	if err != nil {
		return ReferralView{}, err
	}
	return s.GetReferralByCode(ctx, app, rawCode)
}

func (s *Service) referralView(ctx context.Context, referral domain.Referral) (ReferralView, error) {
	clicks, err := s.clicks.CountByCode(ctx, referral.AppID, referral.Code)
	if err != nil {
		return ReferralView{}, err
	}
	conversions, err := s.referrals.ListConversions(ctx, referral.AppID, referral.Code)
	if err != nil {
		return ReferralView{}, err
	}
	return ReferralView{
		Referral:      referral,
		DerivedStatus: domain.DeriveReferralStatus(clicks, conversions),
		ClickCount:    clicks,
		Conversions:   conversions,
	}, nil
}

func referralEventData(r domain.Referral) map[string]any {
	data := map[string]any{
		"referral_id":   r.ReferralID,
		"referral_code": r.Code,
		"campaign_id":   r.CampaignID,
		"referrer_id":   r.ReferrerID,
		"status":        string(r.Status),
	}
	if r.RefereeID != nil {
		data["referee_id"] = *r.RefereeID
	}
	return data
}

func fraudEventData(f domain.FraudFlag) map[string]any {
	return map[string]any{
		"flag_id":       f.FlagID,
		"subject_type":  string(f.SubjectType),
		"subject_id":    f.SubjectID,
		"referral_code": f.ReferralCode,
		"risk_score":    f.RiskScore,
		"reasons":       f.Reasons,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
