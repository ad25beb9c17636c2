package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	ReasonSelfReferral      = "SELF_REFERRAL"
	ReasonDuplicateIP       = "DUPLICATE_IP"
	ReasonRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ReasonSuspiciousPattern = "SUSPICIOUS_PATTERN"
)

type FraudSubject string

const (
	FraudSubjectReferral   FraudSubject = "REFERRAL"
	FraudSubjectClick      FraudSubject = "CLICK"
	FraudSubjectConversion FraudSubject = "CONVERSION"
)

// FraudPolicy holds the thresholds, windows and penalties of the additive scorer.
// A signal counts only when it is strictly above its threshold.
type FraudPolicy struct {
	Threshold int

	SelfReferralPenalty int

	DuplicateIPThreshold int
	DuplicateIPWindow    time.Duration
	DuplicateIPPenalty   int

	VelocityThreshold int
	VelocityWindow    time.Duration
	VelocityPenalty   int

	FingerprintThreshold int
	FingerprintPenalty   int
}

func DefaultFraudPolicy() FraudPolicy {
	return FraudPolicy{
		Threshold:            50,
		SelfReferralPenalty:  100,
		DuplicateIPThreshold: 5,
		DuplicateIPWindow:    24 * time.Hour,
		DuplicateIPPenalty:   30,
		VelocityThreshold:    10,
		VelocityWindow:       10 * time.Minute,
		VelocityPenalty:      40,
		FingerprintThreshold: 3,
		FingerprintPenalty:   30,
	}
}

// FraudSignals are the raw observations gathered for one event.
type FraudSignals struct {
	SelfReferral             bool
	RecentSameIP             int
	RecentByReferrer         int
	DistinctFingerprintUsers int
}

type FraudResult struct {
	IsFraud   bool     `json:"isFraud"`
	RiskScore int      `json:"riskScore"`
	Reasons   []string `json:"reasons"`
}

// NotFraud is the degraded result returned when signals cannot be gathered.
func NotFraud() FraudResult {
	return FraudResult{Reasons: []string{}}
}

// ScoreFraud sums the penalties of every triggered signal. A self-referral is fraud
// regardless of the configured threshold.
func ScoreFraud(policy FraudPolicy, s FraudSignals) FraudResult {
	result := NotFraud()
	add := func(reason string, penalty int) {
		result.RiskScore += penalty
		result.Reasons = append(result.Reasons, reason)
	}
	if s.SelfReferral {
		add(ReasonSelfReferral, policy.SelfReferralPenalty)
	}
	if s.RecentSameIP > policy.DuplicateIPThreshold {
		add(ReasonDuplicateIP, policy.DuplicateIPPenalty)
	}
	if s.RecentByReferrer > policy.VelocityThreshold {
		add(ReasonRateLimitExceeded, policy.VelocityPenalty)
	}
	if s.DistinctFingerprintUsers > policy.FingerprintThreshold {
		add(ReasonSuspiciousPattern, policy.FingerprintPenalty)
	}
	result.IsFraud = s.SelfReferral || result.RiskScore >= policy.Threshold
	return result
}

// DeviceFingerprint hashes user agent, IP and accept-language. It is nil when the
// user agent or the IP is unknown.
func DeviceFingerprint(userAgent, ip, acceptLanguage string) *string {
	userAgent = strings.TrimSpace(userAgent)
	ip = strings.TrimSpace(ip)
	if userAgent == "" || ip == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(userAgent + "|" + ip + "|" + strings.TrimSpace(acceptLanguage)))
	fp := hex.EncodeToString(sum[:])
	return &fp
}

func IsSelfReferral(referrerID string, refereeID *string) bool {
	if refereeID == nil {
		return false
	}
	referee := strings.TrimSpace(*refereeID)
	return referee != "" && referee == strings.TrimSpace(referrerID)
}

type FraudFlag struct {
	FlagID         string
	AppID          string
	SubjectType    FraudSubject
	SubjectID      string
	ReferralCode   string
	RiskScore      int
	Reasons        []string
	IsResolved     bool
	ResolvedBy     *string
	ResolvedAt     *time.Time
	ResolutionNote string
	CreatedAt      time.Time
}
