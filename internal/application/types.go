package application

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/referral-platform/internal/domain"
)

type Config struct {
	ServiceName       string
	Fraud             domain.FraudPolicy
	CodeSuffixLength  int
	CodeMinLength     int
	CodeMaxAttempts   int
	RewardCodeLength  int
	SessionTTL        time.Duration
	IdempotencyTTL    time.Duration
	BackfillBatchSize int
}

// Actor is an authenticated partner session.
type Actor struct {
	PartnerID string
	Email     string
	Role      string
	RequestID string
}

func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}

type CreatePartnerInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

type LoginInput struct {
	Email    string
	Password string
}

type Session struct {
	Token     string
	ExpiresAt time.Time
	PartnerID string
	Role      string
}

type CreateAppInput struct {
	Name         string
	MonthlyLimit int64
}

// AppCredentials is returned only when a key is minted; the raw key is not retrievable later.
type AppCredentials struct {
	App    domain.App
	APIKey string
}

type CreateCampaignInput struct {
	Name              string
	RewardModel       string
	RewardValue       decimal.Decimal
	RewardCap         *decimal.Decimal
	Currency          string
	Status            string
	ReferralType      string
	FirstTimeUserOnly bool
	CodePrefix        string
	CodeSegment       string
	FulfillmentType   string
	RewardExpiryDays  int
}

// RequestMeta is the client context used for fraud signals.
type RequestMeta struct {
	IPAddress      string
	UserAgent      string
	AcceptLanguage string
}

type CreateReferralInput struct {
	CampaignID    string
	ReferrerID    string
	RefereeID     *string
	ReferrerName  string
	ReferrerEmail string
	Meta          RequestMeta
}

type CreateReferralResult struct {
	ReferralID   string
	ReferralCode string
	Status       domain.ReferralStatus
	Warning      string
	Fraud        domain.FraudResult
}

type RecordClickInput struct {
	ReferralCode string
	RefereeID    *string
	Meta         RequestMeta
}

type ClickResult struct {
	ClickID      string
	ReferralCode string
	ClickedAt    time.Time
	Flagged      bool
}

type RecordConversionInput struct {
	ReferralCode   string
	RefereeID      string
	Amount         *decimal.Decimal
	Metadata       json.RawMessage
	IdempotencyKey string
	Meta           RequestMeta
}

type ConversionResult struct {
	ReferralID   string                `json:"referral_id"`
	ConversionID string                `json:"conversion_id"`
	RewardID     string                `json:"reward_id,omitempty"`
	RewardAmount decimal.Decimal       `json:"reward_amount"`
	Currency     string                `json:"currency"`
	Status       domain.ReferralStatus `json:"status"`
}

// ReferralView pairs a code-generation record with its derived status.
type ReferralView struct {
	Referral      domain.Referral
	DerivedStatus domain.ReferralStatus
	ClickCount    int
	Conversions   []domain.Conversion
}

type RewardQuery struct {
	Status     string
	ReferrerID string
	Limit      int
}

type TransitionRewardInput struct {
	RewardID        string
	Status          string
	PayoutReference string
}

const (
	ValidationReasonNotFound        = "NOT_FOUND"
	ValidationReasonExpired         = "EXPIRED"
	ValidationReasonAlreadyRedeemed = "ALREADY_REDEEMED"
	ValidationReasonCancelled       = "CANCELLED"
	ValidationReasonNotApproved     = "NOT_APPROVED"
)

type RewardValidation struct {
	Valid  bool
	Reason string
	Reward *domain.Reward
}

type CreateWebhookInput struct {
	URL    string
	Events []string
}

type BackfillResult struct {
	AlreadyApplied bool
	Scanned        int
	Created        int
}

type FraudInput struct {
	Subject      domain.FraudSubject
	AppID        string
	CampaignID   string
	ReferralCode string
	ReferrerID   string
	RefereeID    *string
	Meta         RequestMeta
}
