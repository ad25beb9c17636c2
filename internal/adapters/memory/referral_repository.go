package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

type ReferralRepository struct {
	s *store
}

func (r *ReferralRepository) CreateCodeReferral(_ context.Context, referral domain.Referral, flag *domain.FraudFlag, outbox []ports.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.codeIndex[referral.Code]; taken {
		return domain.ErrConflict
	}
	r.s.referrals[referral.ReferralID] = referral
	r.s.referralOrder = append(r.s.referralOrder, referral.ReferralID)
	r.s.codeIndex[referral.Code] = referral.ReferralID
	if flag != nil {
		r.s.insertFlag(*flag)
	}
	r.s.insertOutbox(outbox)
	return nil
}

func (r *ReferralRepository) GetByID(_ context.Context, referralID string) (domain.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	referral, ok := r.s.referrals[referralID]
	if !ok {
		return domain.Referral{}, domain.ErrNotFound
	}
	return referral, nil
}

func (r *ReferralRepository) GetByCode(_ context.Context, appID, code string) (domain.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.codeRecord(appID, code)
}

func (r *ReferralRepository) codeRecord(appID, code string) (domain.Referral, error) {
	id, ok := r.s.codeIndex[code]
	if !ok {
		return domain.Referral{}, domain.ErrNotFound
	}
	referral := r.s.referrals[id]
	if referral.AppID != appID {
		return domain.Referral{}, domain.ErrNotFound
	}
	return referral, nil
}

func (r *ReferralRepository) ListConversions(_ context.Context, appID, code string) ([]domain.Conversion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Conversion{}
	for _, id := range r.s.conversionOrder {
		c := r.s.conversions[id]
		if c.AppID == appID && c.ReferralCode == code {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListByApp returns the newest referrals first.
func (r *ReferralRepository) ListByApp(_ context.Context, appID string, limit int) ([]domain.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Referral{}
	for i := len(r.s.referralOrder) - 1; i >= 0; i-- {
		ref := r.s.referrals[r.s.referralOrder[i]]
		if ref.AppID != appID {
			continue
		}
		out = append(out, ref)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *ReferralRepository) RecordConversion(_ context.Context, write ports.ConversionWrite) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	code := write.Referral.OriginalReferralCode
	if _, err := r.codeRecord(write.Referral.AppID, code); err != nil {
		return err
	}
	for _, id := range r.s.conversionOrder {
		existing := r.s.conversions[id]
		if existing.AppID != write.Conversion.AppID {
			continue
		}
		if write.SingleUse && existing.ReferralCode == code {
			return fmt.Errorf("%w: referral code has already been used", domain.ErrConflict)
		}
		if write.FirstTimeUserOnly && existing.RefereeID == write.Conversion.RefereeID {
			return fmt.Errorf("%w: referee has already converted", domain.ErrConflict)
		}
	}
	if write.Reward != nil {
		if _, dup := r.s.rewardByConversion[write.Reward.ConversionID]; dup {
			return domain.ErrConflict
		}
	}

	r.s.referrals[write.Referral.ReferralID] = write.Referral
	r.s.referralOrder = append(r.s.referralOrder, write.Referral.ReferralID)
	r.s.conversions[write.Conversion.ConversionID] = write.Conversion
	r.s.conversionOrder = append(r.s.conversionOrder, write.Conversion.ConversionID)
	if write.Reward != nil {
		r.s.putReward(*write.Reward)
	}
	if write.Flag != nil {
		r.s.insertFlag(*write.Flag)
	}
	r.s.insertOutbox(write.Outbox)
	return nil
}

func (r *ReferralRepository) Counts(_ context.Context, appID string) (ports.ReferralCounts, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var counts ports.ReferralCounts
	for _, ref := range r.s.referrals {
		if ref.AppID != appID {
			continue
		}
		if ref.IsCodeGeneration {
			counts.Referrals++
		}
		if ref.Status == domain.ReferralStatusFlagged {
			counts.FlaggedReferrals++
		}
	}
	for _, c := range r.s.conversions {
		if c.AppID == appID {
			counts.Conversions++
		}
	}
	for _, c := range r.s.clicks {
		if c.AppID == appID {
			counts.Clicks++
		}
	}
	return counts, nil
}

type ClickRepository struct {
	s *store
}

func (r *ClickRepository) Create(_ context.Context, click domain.Click, flag *domain.FraudFlag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.clicks = append(r.s.clicks, click)
	if flag != nil {
		r.s.insertFlag(*flag)
	}
	return nil
}

func (r *ClickRepository) CountByCode(_ context.Context, appID, code string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, c := range r.s.clicks {
		if c.AppID == appID && c.ReferralCode == code {
			n++
		}
	}
	return n, nil
}

// FraudSignalRepository answers the scorer's lookups over referrals and clicks.
type FraudSignalRepository struct {
	s *store
}

func (r *FraudSignalRepository) CountByIPSince(_ context.Context, appID, campaignID, ip string, since time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, ref := range r.s.referrals {
		if ref.AppID == appID && ref.CampaignID == campaignID && ref.IPAddress == ip && !ref.CreatedAt.Before(since) {
			n++
		}
	}
	for _, c := range r.s.clicks {
		if c.AppID == appID && c.CampaignID == campaignID && c.IPAddress == ip && !c.ClickedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *FraudSignalRepository) CountReferralsByReferrerSince(_ context.Context, appID, referrerID string, since time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, ref := range r.s.referrals {
		if ref.AppID == appID && ref.IsCodeGeneration && ref.ReferrerID == referrerID && !ref.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *FraudSignalRepository) CountDistinctReferrersByFingerprint(_ context.Context, appID, fingerprint string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, ref := range r.s.referrals {
		if ref.AppID == appID && ref.DeviceFingerprint != nil && *ref.DeviceFingerprint == fingerprint {
			seen[ref.ReferrerID] = struct{}{}
		}
	}
	return len(seen), nil
}
