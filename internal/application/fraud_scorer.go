package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

// FraudScorer gathers signals for an event and applies the additive policy.
// It has no side effects; callers decide what to persist.
type FraudScorer struct {
	signals ports.FraudSignalReader
	policy  domain.FraudPolicy
	metrics ports.Metrics
	logger  *slog.Logger
	nowFn   func() time.Time
}

func NewFraudScorer(signals ports.FraudSignalReader, policy domain.FraudPolicy, metrics ports.Metrics, logger *slog.Logger, nowFn func() time.Time) *FraudScorer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &FraudScorer{signals: signals, policy: policy, metrics: metrics, logger: logger, nowFn: nowFn}
}

func (f *FraudScorer) Policy() domain.FraudPolicy {
	return f.policy
}

// Score never fails. A signal lookup error degrades the result to not-fraud.
func (f *FraudScorer) Score(ctx context.Context, in FraudInput) domain.FraudResult {
	signals, err := f.collect(ctx, in)
	if err != nil {
		f.metrics.FraudScoringFailed(in.Subject)
		f.logger.ErrorContext(ctx, "fraud scoring degraded",
			"operation", "fraud_score",
			"outcome", "degraded",
			"subject", string(in.Subject),
			"app_id", in.AppID,
			"referral_code", in.ReferralCode,
			"error", err,
		)
		return domain.NotFraud()
	}

	result := domain.ScoreFraud(f.policy, signals)
	f.metrics.FraudEvaluated(in.Subject, result)
	if result.IsFraud {
		f.logger.WarnContext(ctx, "fraud detected",
			"operation", "fraud_score",
			"outcome", "fraud",
			"subject", string(in.Subject),
			"app_id", in.AppID,
			"referral_code", in.ReferralCode,
			"risk_score", result.RiskScore,
			"reasons", strings.Join(result.Reasons, ","),
		)
	}
	return result
}

func (f *FraudScorer) collect(ctx context.Context, in FraudInput) (domain.FraudSignals, error) {
	signals := domain.FraudSignals{SelfReferral: domain.IsSelfReferral(in.ReferrerID, in.RefereeID)}
	if f.signals == nil {
		return signals, nil
	}
	now := f.nowFn()

	if ip := strings.TrimSpace(in.Meta.IPAddress); ip != "" {
		n, err := f.signals.CountByIPSince(ctx, in.AppID, in.CampaignID, ip, now.Add(-f.policy.DuplicateIPWindow))
		if err != nil {
			return signals, fmt.Errorf("count by ip: %w", err)
		}
		signals.RecentSameIP = n
	}
	if referrer := strings.TrimSpace(in.ReferrerID); referrer != "" {
		n, err := f.signals.CountReferralsByReferrerSince(ctx, in.AppID, referrer, now.Add(-f.policy.VelocityWindow))
		if err != nil {
			return signals, fmt.Errorf("count by referrer: %w", err)
		}
		signals.RecentByReferrer = n
	}
	if fp := domain.DeviceFingerprint(in.Meta.UserAgent, in.Meta.IPAddress, in.Meta.AcceptLanguage); fp != nil {
		n, err := f.signals.CountDistinctReferrersByFingerprint(ctx, in.AppID, *fp)
		if err != nil {
			return signals, fmt.Errorf("count by fingerprint: %w", err)
		}
		signals.DistinctFingerprintUsers = n
	}
	return signals, nil
}

// newFraudFlag builds the audit record for a fraudulent event.
func (s *Service) newFraudFlag(appID string, subject domain.FraudSubject, subjectID, code string, result domain.FraudResult) *domain.FraudFlag {
	reasons := make([]string, len(result.Reasons))
	copy(reasons, result.Reasons)
	return &domain.FraudFlag{
		FlagID:       newID(),
		AppID:        appID,
		SubjectType:  subject,
		SubjectID:    subjectID,
		ReferralCode: code,
		RiskScore:    result.RiskScore,
		Reasons:      reasons,
		CreatedAt:    s.nowFn(),
	}
}
