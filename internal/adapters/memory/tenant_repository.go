package memory

import (
	"context"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
)

type PartnerRepository struct {
	s *store
}

func (r *PartnerRepository) Create(_ context.Context, partner domain.Partner) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.partners[partner.PartnerID]; ok {
		return domain.ErrConflict
	}
	if _, ok := r.s.partnerByEmail[partner.Email]; ok {
		return domain.ErrConflict
	}
	r.s.partners[partner.PartnerID] = partner
	r.s.partnerByEmail[partner.Email] = partner.PartnerID
	return nil
}

func (r *PartnerRepository) GetByID(_ context.Context, partnerID string) (domain.Partner, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	partner, ok := r.s.partners[partnerID]
	if !ok {
		return domain.Partner{}, domain.ErrNotFound
	}
	return partner, nil
}

func (r *PartnerRepository) GetByEmail(_ context.Context, email string) (domain.Partner, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.partnerByEmail[email]
	if !ok {
		return domain.Partner{}, domain.ErrNotFound
	}
	return r.s.partners[id], nil
}

type AppRepository struct {
	s *store
}

func (r *AppRepository) Create(_ context.Context, app domain.App) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.apps[app.AppID]; ok {
		return domain.ErrConflict
	}
	if _, ok := r.s.appByHash[app.APIKeyHash]; ok {
		return domain.ErrConflict
	}
	r.s.apps[app.AppID] = app
	r.s.appByHash[app.APIKeyHash] = app.AppID
	r.s.appOrder = append(r.s.appOrder, app.AppID)
	return nil
}

func (r *AppRepository) GetByID(_ context.Context, appID string) (domain.App, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	app, ok := r.s.apps[appID]
	if !ok {
		return domain.App{}, domain.ErrNotFound
	}
	return app, nil
}

func (r *AppRepository) GetByAPIKeyHash(_ context.Context, hash string) (domain.App, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.appByHash[hash]
	if !ok {
		return domain.App{}, domain.ErrNotFound
	}
	return r.s.apps[id], nil
}

func (r *AppRepository) ListByPartner(_ context.Context, partnerID string) ([]domain.App, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.App{}
	for _, id := range r.s.appOrder {
		if app, ok := r.s.apps[id]; ok && app.PartnerID == partnerID {
			out = append(out, app)
		}
	}
	return out, nil
}

func (r *AppRepository) UpdateAPIKey(_ context.Context, appID, hash, prefix string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.apps[appID]
	if !ok {
		return domain.ErrNotFound
	}
	if _, taken := r.s.appByHash[hash]; taken {
		return domain.ErrConflict
	}
	delete(r.s.appByHash, app.APIKeyHash)
	app.APIKeyHash = hash
	app.APIKeyPrefix = prefix
	app.UpdatedAt = at
	r.s.apps[appID] = app
	r.s.appByHash[hash] = appID
	return nil
}

func (r *AppRepository) UpdateStatus(_ context.Context, appID string, status domain.AppStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.apps[appID]
	if !ok {
		return domain.ErrNotFound
	}
	app.Status = status
	app.UpdatedAt = at
	r.s.apps[appID] = app
	return nil
}

func (r *AppRepository) IncrementUsage(_ context.Context, appID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.apps[appID]
	if !ok {
		return domain.ErrNotFound
	}
	app.UsageCount++
	r.s.apps[appID] = app
	return nil
}

// Delete removes the app with its campaigns and webhooks.
func (r *AppRepository) Delete(_ context.Context, appID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	app, ok := r.s.apps[appID]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.s.apps, appID)
	delete(r.s.appByHash, app.APIKeyHash)
	for id, c := range r.s.campaigns {
		if c.AppID == appID {
			delete(r.s.campaigns, id)
		}
	}
	for id, w := range r.s.webhooks {
		if w.AppID == appID {
			delete(r.s.webhooks, id)
		}
	}
	return nil
}

type CampaignRepository struct {
	s *store
}

func (r *CampaignRepository) Create(_ context.Context, campaign domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[campaign.CampaignID]; ok {
		return domain.ErrConflict
	}
	if _, ok := r.s.apps[campaign.AppID]; !ok {
		return domain.ErrNotFound
	}
	r.s.campaigns[campaign.CampaignID] = campaign
	r.s.campaignOrder = append(r.s.campaignOrder, campaign.CampaignID)
	return nil
}

func (r *CampaignRepository) GetByID(_ context.Context, campaignID string) (domain.Campaign, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	campaign, ok := r.s.campaigns[campaignID]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return campaign, nil
}

func (r *CampaignRepository) ListByApp(_ context.Context, appID string) ([]domain.Campaign, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Campaign{}
	for _, id := range r.s.campaignOrder {
		if c, ok := r.s.campaigns[id]; ok && c.AppID == appID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *CampaignRepository) UpdateStatus(_ context.Context, campaignID string, status domain.CampaignStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	campaign, ok := r.s.campaigns[campaignID]
	if !ok {
		return domain.ErrNotFound
	}
	campaign.Status = status
	campaign.UpdatedAt = at
	r.s.campaigns[campaignID] = campaign
	return nil
}
