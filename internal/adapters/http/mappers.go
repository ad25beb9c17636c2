package http

import (
	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/contracts"
	"github.com/viralforge/referral-platform/internal/domain"
)

func toReferralResponse(view application.ReferralView) contracts.ReferralResponse {
	return contracts.ReferralResponse{
		ReferralID:   view.Referral.ReferralID,
		ReferralCode: view.Referral.Code,
		CampaignID:   view.Referral.CampaignID,
		ReferrerID:   view.Referral.ReferrerID,
		RefereeID:    view.Referral.RefereeID,
		Status:       string(view.DerivedStatus),
		ClickCount:   view.ClickCount,
		Conversions:  len(view.Conversions),
		CreatedAt:    formatTime(view.Referral.CreatedAt),
	}
}

func toReferralRecordResponse(r domain.Referral) contracts.ReferralRecordResponse {
	return contracts.ReferralRecordResponse{
		ReferralID:           r.ReferralID,
		ReferralCode:         r.Code,
		CampaignID:           r.CampaignID,
		ReferrerID:           r.ReferrerID,
		RefereeID:            r.RefereeID,
		Status:               string(r.Status),
		RewardAmount:         r.RewardAmount,
		IsCodeGeneration:     r.IsCodeGeneration,
		OriginalReferralCode: r.OriginalReferralCode,
		CreatedAt:            formatTime(r.CreatedAt),
	}
}

func toRewardResponse(r domain.Reward) contracts.RewardResponse {
	out := contracts.RewardResponse{
		RewardID:        r.RewardID,
		CampaignID:      r.CampaignID,
		ReferralID:      r.ReferralID,
		ConversionID:    r.ConversionID,
		ReferrerID:      r.ReferrerID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Status:          string(r.Status),
		PaidAt:          formatOptionalTime(r.PaidAt),
		PayoutReference: r.PayoutReference,
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
	}
	if r.Fulfillment != nil {
		out.FulfillmentType = string(r.Fulfillment.Type())
	}
	if code, expiresAt, ok := domain.RedemptionCode(r.Fulfillment); ok {
		out.Code = code
		out.ExpiresAt = formatOptionalTime(expiresAt)
	}
	return out
}

func toRewardResponses(rewards []domain.Reward) []contracts.RewardResponse {
	out := make([]contracts.RewardResponse, 0, len(rewards))
	for _, r := range rewards {
		out = append(out, toRewardResponse(r))
	}
	return out
}

func toStatsResponse(stats domain.AppStats) contracts.StatsResponse {
	rewards := make(map[string]contracts.RewardTotalsResponse, len(stats.RewardsByStatus))
	for status, totals := range stats.RewardsByStatus {
		rewards[string(status)] = contracts.RewardTotalsResponse{Count: totals.Count, Amount: totals.Amount}
	}
	return contracts.StatsResponse{
		Referrals:        stats.Referrals,
		Clicks:           stats.Clicks,
		Conversions:      stats.Conversions,
		FlaggedReferrals: stats.FlaggedReferrals,
		UnresolvedFlags:  stats.UnresolvedFlags,
		ConversionRate:   stats.ConversionRate,
		Rewards:          rewards,
		MonthlyUsage:     stats.MonthlyUsage,
		MonthlyLimit:     stats.MonthlyLimit,
		LifetimeUsage:    stats.LifetimeUsage,
	}
}

func toAppResponse(a domain.App) contracts.AppResponse {
	return contracts.AppResponse{
		AppID:        a.AppID,
		PartnerID:    a.PartnerID,
		Name:         a.Name,
		APIKeyPrefix: a.APIKeyPrefix,
		UsageCount:   a.UsageCount,
		MonthlyLimit: a.MonthlyLimit,
		Status:       string(a.Status),
		CreatedAt:    formatTime(a.CreatedAt),
	}
}

func toCampaignResponse(c domain.Campaign) contracts.CampaignResponse {
	return contracts.CampaignResponse{
		CampaignID:        c.CampaignID,
		AppID:             c.AppID,
		Name:              c.Name,
		RewardModel:       string(c.RewardModel),
		RewardValue:       c.RewardValue,
		RewardCap:         c.RewardCap,
		Currency:          c.Currency,
		Status:            string(c.Status),
		ReferralType:      string(c.ReferralType),
		FirstTimeUserOnly: c.FirstTimeUserOnly,
		CodePrefix:        c.CodePrefix,
		CodeSegment:       string(c.CodeSegment),
		FulfillmentType:   string(c.FulfillmentType),
		RewardExpiryDays:  c.RewardExpiryDays,
		CreatedAt:         formatTime(c.CreatedAt),
	}
}

func toFraudFlagResponses(flags []domain.FraudFlag) []contracts.FraudFlagResponse {
	out := make([]contracts.FraudFlagResponse, 0, len(flags))
	for _, f := range flags {
		out = append(out, toFraudFlagResponse(f))
	}
	return out
}

func toFraudFlagResponse(f domain.FraudFlag) contracts.FraudFlagResponse {
	reasons := f.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return contracts.FraudFlagResponse{
		FlagID:         f.FlagID,
		AppID:          f.AppID,
		SubjectType:    string(f.SubjectType),
		SubjectID:      f.SubjectID,
		ReferralCode:   f.ReferralCode,
		RiskScore:      f.RiskScore,
		Reasons:        reasons,
		IsResolved:     f.IsResolved,
		ResolvedBy:     f.ResolvedBy,
		ResolvedAt:     formatOptionalTime(f.ResolvedAt),
		ResolutionNote: f.ResolutionNote,
		CreatedAt:      formatTime(f.CreatedAt),
	}
}

// toWebhookResponse includes the signing secret only when withSecret is set.
func toWebhookResponse(w domain.Webhook, withSecret bool) contracts.WebhookResponse {
	events := make([]string, 0, len(w.Events))
	for _, e := range w.Events {
		events = append(events, string(e))
	}
	out := contracts.WebhookResponse{
		WebhookID: w.WebhookID,
		AppID:     w.AppID,
		URL:       w.URL,
		Events:    events,
		IsActive:  w.IsActive,
		CreatedAt: formatTime(w.CreatedAt),
	}
	if withSecret {
		out.Secret = w.Secret
	}
	return out
}

func toDeliveryResponse(d domain.WebhookDelivery) contracts.WebhookDeliveryResponse {
	return contracts.WebhookDeliveryResponse{
		DeliveryID: d.DeliveryID,
		Event:      string(d.Event),
		StatusCode: d.StatusCode,
		Success:    d.Success,
		Attempts:   d.Attempts,
		Error:      d.Error,
		DurationMS: d.DurationMS,
		CreatedAt:  formatTime(d.CreatedAt),
	}
}
