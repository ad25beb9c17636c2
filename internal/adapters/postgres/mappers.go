package postgres

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func toPartnerModel(p domain.Partner) partnerModel {
	return partnerModel{
		PartnerID:    p.PartnerID,
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		CreatedAt:    p.CreatedAt,
	}
}

func toDomainPartner(row partnerModel) domain.Partner {
	return domain.Partner{
		PartnerID:    row.PartnerID,
		Email:        row.Email,
		DisplayName:  row.DisplayName,
		PasswordHash: row.PasswordHash,
		Role:         row.Role,
		CreatedAt:    row.CreatedAt.UTC(),
	}
}

func toAppModel(a domain.App) appModel {
	return appModel{
		AppID:        a.AppID,
		PartnerID:    a.PartnerID,
		Name:         a.Name,
		APIKeyHash:   a.APIKeyHash,
		APIKeyPrefix: a.APIKeyPrefix,
		UsageCount:   a.UsageCount,
		MonthlyLimit: a.MonthlyLimit,
		Status:       string(a.Status),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toDomainApp(row appModel) domain.App {
	return domain.App{
		AppID:        row.AppID,
		PartnerID:    row.PartnerID,
		Name:         row.Name,
		APIKeyHash:   row.APIKeyHash,
		APIKeyPrefix: row.APIKeyPrefix,
		UsageCount:   row.UsageCount,
		MonthlyLimit: row.MonthlyLimit,
		Status:       domain.AppStatus(row.Status),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

func toCampaignModel(c domain.Campaign) campaignModel {
	return campaignModel{
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
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func toDomainCampaign(row campaignModel) domain.Campaign {
	return domain.Campaign{
		CampaignID:        row.CampaignID,
		AppID:             row.AppID,
		Name:              row.Name,
		RewardModel:       domain.RewardModel(row.RewardModel),
		RewardValue:       row.RewardValue,
		RewardCap:         row.RewardCap,
		Currency:          row.Currency,
		Status:            domain.CampaignStatus(row.Status),
		ReferralType:      domain.ReferralType(row.ReferralType),
		FirstTimeUserOnly: row.FirstTimeUserOnly,
		CodePrefix:        row.CodePrefix,
		CodeSegment:       domain.CodeSegmentPolicy(row.CodeSegment),
		FulfillmentType:   domain.FulfillmentType(row.FulfillmentType),
		RewardExpiryDays:  row.RewardExpiryDays,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
}

func toReferralModel(r domain.Referral) referralModel {
	row := referralModel{
		ReferralID:           r.ReferralID,
		AppID:                r.AppID,
		CampaignID:           r.CampaignID,
		Code:                 r.Code,
		ReferrerID:           r.ReferrerID,
		RefereeID:            r.RefereeID,
		Status:               string(r.Status),
		IPAddress:            r.IPAddress,
		UserAgent:            r.UserAgent,
		DeviceFingerprint:    r.DeviceFingerprint,
		RewardAmount:         r.RewardAmount,
		ConvertedAt:          r.ConvertedAt,
		FlaggedBy:            r.FlaggedBy,
		FlaggedAt:            r.FlaggedAt,
		IsCodeGeneration:     r.IsCodeGeneration,
		OriginalReferralCode: r.OriginalReferralCode,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.IsCodeGeneration {
		code := r.Code
		row.UniqueCode = &code
	}
	return row
}

func toDomainReferral(row referralModel) domain.Referral {
	return domain.Referral{
		ReferralID:           row.ReferralID,
		AppID:                row.AppID,
		CampaignID:           row.CampaignID,
		Code:                 row.Code,
		ReferrerID:           row.ReferrerID,
		RefereeID:            row.RefereeID,
		Status:               domain.ReferralStatus(row.Status),
		IPAddress:            row.IPAddress,
		UserAgent:            row.UserAgent,
		DeviceFingerprint:    row.DeviceFingerprint,
		RewardAmount:         row.RewardAmount,
		ConvertedAt:          utcPtr(row.ConvertedAt),
		FlaggedBy:            row.FlaggedBy,
		FlaggedAt:            utcPtr(row.FlaggedAt),
		IsCodeGeneration:     row.IsCodeGeneration,
		OriginalReferralCode: row.OriginalReferralCode,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
}

func toClickModel(c domain.Click) clickModel {
	return clickModel{
		ClickID:           c.ClickID,
		AppID:             c.AppID,
		CampaignID:        c.CampaignID,
		ReferralCode:      c.ReferralCode,
		RefereeID:         c.RefereeID,
		IPAddress:         c.IPAddress,
		UserAgent:         c.UserAgent,
		DeviceFingerprint: c.DeviceFingerprint,
		ClickedAt:         c.ClickedAt,
	}
}

func toConversionModel(c domain.Conversion) conversionModel {
	row := conversionModel{
		ConversionID: c.ConversionID,
		AppID:        c.AppID,
		ReferralID:   c.ReferralID,
		ReferralCode: c.ReferralCode,
		RefereeID:    c.RefereeID,
		Amount:       c.Amount,
		Flagged:      c.Flagged,
		CreatedAt:    c.CreatedAt,
	}
	if len(c.Metadata) > 0 {
		row.Metadata = datatypes.JSON(c.Metadata)
	}
	return row
}

func toDomainConversion(row conversionModel) domain.Conversion {
	out := domain.Conversion{
		ConversionID: row.ConversionID,
		AppID:        row.AppID,
		ReferralID:   row.ReferralID,
		ReferralCode: row.ReferralCode,
		RefereeID:    row.RefereeID,
		Amount:       row.Amount,
		Flagged:      row.Flagged,
		CreatedAt:    row.CreatedAt.UTC(),
	}
	if len(row.Metadata) > 0 {
		out.Metadata = json.RawMessage(row.Metadata)
	}
	return out
}

func toRewardModel(r domain.Reward) rewardModel {
	fulfillmentType, code, expiresAt := domain.FlattenFulfillment(r.Fulfillment)
	return rewardModel{
		RewardID:        r.RewardID,
		AppID:           r.AppID,
		CampaignID:      r.CampaignID,
		ReferralID:      r.ReferralID,
		ConversionID:    r.ConversionID,
		ReferrerID:      r.ReferrerID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Status:          string(r.Status),
		FulfillmentType: string(fulfillmentType),
		Code:            nullableString(code),
		ExpiresAt:       expiresAt,
		PaidAt:          r.PaidAt,
		PayoutReference: r.PayoutReference,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toDomainReward(row rewardModel) (domain.Reward, error) {
	code := ""
	if row.Code != nil {
		code = *row.Code
	}
	fulfillment, err := domain.NewFulfillment(domain.FulfillmentType(row.FulfillmentType), code, utcPtr(row.ExpiresAt))
	if err != nil {
		return domain.Reward{}, err
	}
	return domain.Reward{
		RewardID:        row.RewardID,
		AppID:           row.AppID,
		CampaignID:      row.CampaignID,
		ReferralID:      row.ReferralID,
		ConversionID:    row.ConversionID,
		ReferrerID:      row.ReferrerID,
		Amount:          row.Amount,
		Currency:        row.Currency,
		Status:          domain.RewardStatus(row.Status),
		Fulfillment:     fulfillment,
		PaidAt:          utcPtr(row.PaidAt),
		PayoutReference: row.PayoutReference,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}, nil
}

func toDomainRewards(rows []rewardModel) ([]domain.Reward, error) {
	out := make([]domain.Reward, 0, len(rows))
	for _, row := range rows {
		reward, err := toDomainReward(row)
		if err != nil {
			return nil, err
		}
		out = append(out, reward)
	}
	return out, nil
}

func toFraudFlagModel(f domain.FraudFlag) fraudFlagModel {
	reasons := f.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	raw, _ := json.Marshal(reasons)
	return fraudFlagModel{
		FlagID:         f.FlagID,
		AppID:          f.AppID,
		SubjectType:    string(f.SubjectType),
		SubjectID:      f.SubjectID,
		ReferralCode:   f.ReferralCode,
		RiskScore:      f.RiskScore,
		Reasons:        datatypes.JSON(raw),
		IsResolved:     f.IsResolved,
		ResolvedBy:     f.ResolvedBy,
		ResolvedAt:     f.ResolvedAt,
		ResolutionNote: f.ResolutionNote,
		CreatedAt:      f.CreatedAt,
	}
}

func toDomainFraudFlag(row fraudFlagModel) domain.FraudFlag {
	reasons := []string{}
	if len(row.Reasons) > 0 {
		_ = json.Unmarshal(row.Reasons, &reasons)
	}
	return domain.FraudFlag{
		FlagID:         row.FlagID,
		AppID:          row.AppID,
		SubjectType:    domain.FraudSubject(row.SubjectType),
		SubjectID:      row.SubjectID,
		ReferralCode:   row.ReferralCode,
		RiskScore:      row.RiskScore,
		Reasons:        reasons,
		IsResolved:     row.IsResolved,
		ResolvedBy:     row.ResolvedBy,
		ResolvedAt:     utcPtr(row.ResolvedAt),
		ResolutionNote: row.ResolutionNote,
		CreatedAt:      row.CreatedAt.UTC(),
	}
}

func toWebhookModel(w domain.Webhook) webhookModel {
	events := w.Events
	if events == nil {
		events = []domain.EventType{}
	}
	raw, _ := json.Marshal(events)
	return webhookModel{
		WebhookID: w.WebhookID,
		AppID:     w.AppID,
		URL:       w.URL,
		Secret:    w.Secret,
		Events:    datatypes.JSON(raw),
		IsActive:  w.IsActive,
		CreatedAt: w.CreatedAt,
	}
}

func toDomainWebhook(row webhookModel) domain.Webhook {
	events := []domain.EventType{}
	if len(row.Events) > 0 {
		_ = json.Unmarshal(row.Events, &events)
	}
	return domain.Webhook{
		WebhookID: row.WebhookID,
		AppID:     row.AppID,
		URL:       row.URL,
		Secret:    row.Secret,
		Events:    events,
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func toDomainDelivery(row webhookDeliveryModel) domain.WebhookDelivery {
	return domain.WebhookDelivery{
		DeliveryID: row.DeliveryID,
		WebhookID:  row.WebhookID,
		Event:      domain.EventType(row.Event),
		StatusCode: row.StatusCode,
		Success:    row.Success,
		Attempts:   row.Attempts,
		Error:      row.Error,
		DurationMS: row.DurationMS,
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// translate maps storage errors onto the domain sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case isUniqueViolation(err):
		return domain.ErrConflict
	default:
		return err
	}
}
