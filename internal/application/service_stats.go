package application

import (
	"context"

	"github.com/viralforge/referral-platform/internal/domain"
)

// GetStats aggregates the counters of one app. Monthly usage falls back to zero when
// the usage counter is unavailable.
func (s *Service) GetStats(ctx context.Context, app domain.App) (domain.AppStats, error) {
	counts, err := s.referrals.Counts(ctx, app.AppID)
	if err != nil {
		return domain.AppStats{}, err
	}
	unresolved, err := s.fraudFlags.CountUnresolved(ctx, app.AppID)
	if err != nil {
		return domain.AppStats{}, err
	}
	totals, err := s.rewards.TotalsByStatus(ctx, app.AppID)
	if err != nil {
		return domain.AppStats{}, err
	}

	stats := domain.AppStats{
		Referrals:        counts.Referrals,
		Clicks:           counts.Clicks,
		Conversions:      counts.Conversions,
		FlaggedReferrals: counts.FlaggedReferrals,
		UnresolvedFlags:  unresolved,
		RewardsByStatus:  totals,
		MonthlyLimit:     app.MonthlyLimit,
		LifetimeUsage:    app.UsageCount,
	}
	if counts.Referrals > 0 {
		stats.ConversionRate = float64(counts.Conversions) / float64(counts.Referrals)
	}
	if s.usage != nil {
		monthly, err := s.usage.Get(ctx, app.AppID, usagePeriod(s.nowFn()))
		if err != nil {
			s.logger.WarnContext(ctx, "usage counter unavailable",
				"operation", "get_stats",
				"outcome", "degraded",
				"app_id", app.AppID,
				"error", err,
			)
		}
		stats.MonthlyUsage = monthly
	}
	return stats, nil
}
