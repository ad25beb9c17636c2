package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
)

func (s *Service) CreateApp(ctx context.Context, actor Actor, in CreateAppInput) (AppCredentials, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return AppCredentials{}, fmt.Errorf("%w: app name is required", domain.ErrInvalidInput)
	}
	if in.MonthlyLimit < 0 {
		return AppCredentials{}, fmt.Errorf("%w: monthly limit must not be negative", domain.ErrInvalidInput)
	}
	raw, hash, prefix, err := domain.GenerateAPIKey()
	if err != nil {
		return AppCredentials{}, err
	}
	now := s.nowFn()
	app := domain.App{
		AppID:        newID(),
		PartnerID:    actor.PartnerID,
		Name:         name,
		APIKeyHash:   hash,
		APIKeyPrefix: prefix,
		MonthlyLimit: in.MonthlyLimit,
		Status:       domain.AppStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return AppCredentials{}, err
	}
	return AppCredentials{App: app, APIKey: raw}, nil
}

func (s *Service) ListApps(ctx context.Context, actor Actor) ([]domain.App, error) {
	return s.apps.ListByPartner(ctx, actor.PartnerID)
}

func (s *Service) GetApp(ctx context.Context, actor Actor, appID string) (domain.App, error) {
	return s.authorizeApp(ctx, actor, appID)
}

// RotateAPIKey replaces the app key. The previous key stops working immediately.
func (s *Service) RotateAPIKey(ctx context.Context, actor Actor, appID string) (AppCredentials, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return AppCredentials{}, err
	}
	raw, hash, prefix, err := domain.GenerateAPIKey()
	if err != nil {
		return AppCredentials{}, err
	}
	now := s.nowFn()
	if err := s.apps.UpdateAPIKey(ctx, app.AppID, hash, prefix, now); err != nil {
		return AppCredentials{}, err
	}
	s.keyCache.Remove(app.APIKeyHash)
	app.APIKeyHash = hash
	app.APIKeyPrefix = prefix
	app.UpdatedAt = now
	return AppCredentials{App: app, APIKey: raw}, nil
}

func (s *Service) DeleteApp(ctx context.Context, actor Actor, appID string) error {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return err
	}
	if err := s.apps.Delete(ctx, app.AppID); err != nil {
		return err
	}
	s.keyCache.Remove(app.APIKeyHash)
	return nil
}

// SetAppStatus suspends or reactivates an app. Admin only.
func (s *Service) SetAppStatus(ctx context.Context, actor Actor, appID, rawStatus string) (domain.App, error) {
	if !actor.IsAdmin() {
		return domain.App{}, domain.ErrForbidden
	}
	status, err := domain.NormalizeAppStatus(rawStatus)
	if err != nil {
		return domain.App{}, err
	}
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return domain.App{}, err
	}
	now := s.nowFn()
	if err := s.apps.UpdateStatus(ctx, app.AppID, status, now); err != nil {
		return domain.App{}, err
	}
	s.keyCache.Remove(app.APIKeyHash)
	app.Status = status
	app.UpdatedAt = now
	return app, nil
}

func (s *Service) CreateCampaign(ctx context.Context, actor Actor, appID string, in CreateCampaignInput) (domain.Campaign, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return domain.Campaign{}, err
	}
	now := s.nowFn()
	campaign := domain.Campaign{
		CampaignID:        newID(),
		AppID:             app.AppID,
		Name:              in.Name,
		RewardModel:       domain.RewardModel(in.RewardModel),
		RewardValue:       in.RewardValue,
		RewardCap:         in.RewardCap,
		Currency:          in.Currency,
		Status:            domain.CampaignStatus(in.Status),
		ReferralType:      domain.ReferralType(in.ReferralType),
		FirstTimeUserOnly: in.FirstTimeUserOnly,
		CodePrefix:        in.CodePrefix,
		CodeSegment:       domain.CodeSegmentPolicy(in.CodeSegment),
		FulfillmentType:   domain.FulfillmentType(in.FulfillmentType),
		RewardExpiryDays:  in.RewardExpiryDays,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := campaign.Validate(); err != nil {
		return domain.Campaign{}, err
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return domain.Campaign{}, err
	}
	return campaign, nil
}

func (s *Service) ListCampaigns(ctx context.Context, actor Actor, appID string) ([]domain.Campaign, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	return s.campaigns.ListByApp(ctx, app.AppID)
}

func (s *Service) UpdateCampaignStatus(ctx context.Context, actor Actor, campaignID, rawStatus string) (domain.Campaign, error) {
	status, err := domain.NormalizeCampaignStatus(rawStatus)
	if err != nil {
		return domain.Campaign{}, err
	}
	campaign, err := s.campaigns.GetByID(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return domain.Campaign{}, err
	}
	if err := s.authorizeChild(ctx, actor, campaign.AppID); err != nil {
		return domain.Campaign{}, err
	}
	now := s.nowFn()
	if err := s.campaigns.UpdateStatus(ctx, campaign.CampaignID, status, now); err != nil {
		return domain.Campaign{}, err
	}
	campaign.Status = status
	campaign.UpdatedAt = now
	return campaign, nil
}

// GetAppStats returns the stats of an app the actor owns.
func (s *Service) GetAppStats(ctx context.Context, actor Actor, appID string) (domain.AppStats, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return domain.AppStats{}, err
	}
	return s.GetStats(ctx, app)
}

func usagePeriod(t time.Time) string {
	return t.UTC().Format("200601")
}
