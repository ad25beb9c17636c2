package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/viralforge/referral-platform/internal/domain"
)

// RecordClick appends a click for a code of the app. Fraudulent clicks are recorded
// and flagged, never rejected.
func (s *Service) RecordClick(ctx context.Context, app domain.App, in RecordClickInput) (ClickResult, error) {
	code := domain.NormalizeReferralCode(in.ReferralCode)
	if code == "" {
		return ClickResult{}, fmt.Errorf("%w: referralCode is required", domain.ErrInvalidInput)
	}
	referral, err := s.referrals.GetByCode(ctx, app.AppID, code)
	if err != nil {
		return ClickResult{}, err
	}
	refereeID := optionalString(in.RefereeID)

	fraud := s.scorer.Score(ctx, FraudInput{
		Subject:      domain.FraudSubjectClick,
		AppID:        app.AppID,
		CampaignID:   referral.CampaignID,
		ReferralCode: code,
		ReferrerID:   referral.ReferrerID,
		RefereeID:    refereeID,
		Meta:         in.Meta,
	})

	click := domain.Click{
		ClickID:           s.clickIDs.NewID(),
		AppID:             app.AppID,
		CampaignID:        referral.CampaignID,
		ReferralCode:      referral.Code,
		RefereeID:         refereeID,
		IPAddress:         strings.TrimSpace(in.Meta.IPAddress),
		UserAgent:         strings.TrimSpace(in.Meta.UserAgent),
		DeviceFingerprint: domain.DeviceFingerprint(in.Meta.UserAgent, in.Meta.IPAddress, in.Meta.AcceptLanguage),
		ClickedAt:         s.nowFn(),
	}
	var flag *domain.FraudFlag
	if fraud.IsFraud {
		flag = s.newFraudFlag(app.AppID, domain.FraudSubjectClick, click.ClickID, referral.Code, fraud)
	}
	if err := s.clicks.Create(ctx, click, flag); err != nil {
		return ClickResult{}, err
	}

	data := map[string]any{
		"click_id":      click.ClickID,
		"referral_code": click.ReferralCode,
		"campaign_id":   click.CampaignID,
		"clicked_at":    click.ClickedAt,
	}
	if refereeID != nil {
		data["referee_id"] = *refereeID
	}
	s.emit(app.AppID, domain.EventReferralClicked, data)
	if flag != nil {
		s.emit(app.AppID, domain.EventFraudFlagged, fraudEventData(*flag))
	}
	return ClickResult{
		ClickID:      click.ClickID,
		ReferralCode: click.ReferralCode,
		ClickedAt:    click.ClickedAt,
		Flagged:      fraud.IsFraud,
	}, nil
}
