package contracts

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type CreateReferralRequest struct {
	CampaignID    string  `json:"campaignId"`
	ReferrerID    string  `json:"referrerId"`
	RefereeID     *string `json:"refereeId,omitempty"`
	ReferrerName  string  `json:"referrerName,omitempty"`
	ReferrerEmail string  `json:"referrerEmail,omitempty"`
}

type CreateReferralResponse struct {
	ReferralCode string `json:"referralCode"`
	ReferralID   string `json:"referralId"`
	Status       string `json:"status"`
	Warning      string `json:"warning,omitempty"`
}

type ReferralResponse struct {
	ReferralID   string  `json:"referralId"`
	ReferralCode string  `json:"referralCode"`
	CampaignID   string  `json:"campaignId"`
	ReferrerID   string  `json:"referrerId"`
	RefereeID    *string `json:"refereeId,omitempty"`
	Status       string  `json:"status"`
	ClickCount   int     `json:"clickCount"`
	Conversions  int     `json:"conversions"`
	CreatedAt    string  `json:"createdAt"`
}

type RecordClickRequest struct {
	ReferralCode string  `json:"referralCode"`
	RefereeID    *string `json:"refereeId,omitempty"`
}

type ClickResponse struct {
	ClickID      string `json:"clickId"`
	ReferralCode string `json:"referralCode"`
	ClickedAt    string `json:"clickedAt"`
}

type RecordConversionRequest struct {
	ReferralCode string           `json:"referralCode"`
	RefereeID    string           `json:"refereeId"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Metadata     json.RawMessage  `json:"metadata,omitempty"`
}

type ConversionResponse struct {
	ReferralID   string          `json:"referralId"`
	ConversionID string          `json:"conversionId"`
	RewardID     string          `json:"rewardId,omitempty"`
	RewardAmount decimal.Decimal `json:"rewardAmount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
}

type RewardResponse struct {
	RewardID        string          `json:"rewardId"`
	CampaignID      string          `json:"campaignId"`
	ReferralID      string          `json:"referralId"`
	ConversionID    string          `json:"conversionId"`
	ReferrerID      string          `json:"referrerId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	FulfillmentType string          `json:"fulfillmentType"`
	Code            string          `json:"code,omitempty"`
	ExpiresAt       string          `json:"expiresAt,omitempty"`
	PaidAt          string          `json:"paidAt,omitempty"`
	PayoutReference string          `json:"payoutReference,omitempty"`
	CreatedAt       string          `json:"createdAt"`
	UpdatedAt       string          `json:"updatedAt"`
}

type TransitionRewardRequest struct {
	RewardID        string `json:"rewardId"`
	Status          string `json:"status"`
	PayoutReference string `json:"payoutReference,omitempty"`
}

type RedeemRewardRequest struct {
	Code string `json:"code"`
}

type RewardValidationResponse struct {
	Valid  bool            `json:"valid"`
	Reason string          `json:"reason,omitempty"`
	Reward *RewardResponse `json:"reward,omitempty"`
}

type RewardTotalsResponse struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type StatsResponse struct {
	Referrals        int64                           `json:"referrals"`
	Clicks           int64                           `json:"clicks"`
	Conversions      int64                           `json:"conversions"`
	FlaggedReferrals int64                           `json:"flaggedReferrals"`
	UnresolvedFlags  int64                           `json:"unresolvedFraudFlags"`
	ConversionRate   float64                         `json:"conversionRate"`
	Rewards          map[string]RewardTotalsResponse `json:"rewards"`
	MonthlyUsage     int64                           `json:"monthlyUsage"`
	MonthlyLimit     int64                           `json:"monthlyLimit"`
	LifetimeUsage    int64                           `json:"lifetimeUsage"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	PartnerID string `json:"partnerId"`
	Role      string `json:"role"`
}

type CreateAppRequest struct {
	Name         string `json:"name"`
	MonthlyLimit int64  `json:"monthlyLimit"`
}

type AppResponse struct {
	AppID        string `json:"appId"`
	PartnerID    string `json:"partnerId"`
	Name         string `json:"name"`
	APIKeyPrefix string `json:"apiKeyPrefix"`
	UsageCount   int64  `json:"usageCount"`
	MonthlyLimit int64  `json:"monthlyLimit"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

type AppCredentialsResponse struct {
	App    AppResponse `json:"app"`
	APIKey string      `json:"apiKey"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type CreateCampaignRequest struct {
	Name              string           `json:"name"`
	RewardModel       string           `json:"rewardModel"`
	RewardValue       decimal.Decimal  `json:"rewardValue"`
	RewardCap         *decimal.Decimal `json:"rewardCap,omitempty"`
	Currency          string           `json:"currency,omitempty"`
	Status            string           `json:"status,omitempty"`
	ReferralType      string           `json:"referralType,omitempty"`
	FirstTimeUserOnly bool             `json:"firstTimeUserOnly"`
	CodePrefix        string           `json:"codePrefix,omitempty"`
	CodeSegment       string           `json:"codeSegment,omitempty"`
	FulfillmentType   string           `json:"fulfillmentType,omitempty"`
	RewardExpiryDays  int              `json:"rewardExpiryDays,omitempty"`
}

type CampaignResponse struct {
	CampaignID        string           `json:"campaignId"`
	AppID             string           `json:"appId"`
	Name              string           `json:"name"`
	RewardModel       string           `json:"rewardModel"`
	RewardValue       decimal.Decimal  `json:"rewardValue"`
	RewardCap         *decimal.Decimal `json:"rewardCap,omitempty"`
	Currency          string           `json:"currency"`
	Status            string           `json:"status"`
	ReferralType      string           `json:"referralType"`
	FirstTimeUserOnly bool             `json:"firstTimeUserOnly"`
	CodePrefix        string           `json:"codePrefix,omitempty"`
	CodeSegment       string           `json:"codeSegment"`
	FulfillmentType   string           `json:"fulfillmentType"`
	RewardExpiryDays  int              `json:"rewardExpiryDays,omitempty"`
	CreatedAt         string           `json:"createdAt"`
}

type ReferralRecordResponse struct {
	ReferralID           string          `json:"referralId"`
	ReferralCode         string          `json:"referralCode"`
	CampaignID           string          `json:"campaignId"`
	ReferrerID           string          `json:"referrerId"`
	RefereeID            *string         `json:"refereeId,omitempty"`
	Status               string          `json:"status"`
	RewardAmount         decimal.Decimal `json:"rewardAmount"`
	IsCodeGeneration     bool            `json:"isCodeGeneration"`
	OriginalReferralCode string          `json:"originalReferralCode,omitempty"`
	CreatedAt            string          `json:"createdAt"`
}

type FraudFlagResponse struct {
	FlagID         string   `json:"flagId"`
	AppID          string   `json:"appId"`
	SubjectType    string   `json:"subjectType"`
	SubjectID      string   `json:"subjectId"`
	ReferralCode   string   `json:"referralCode"`
	RiskScore      int      `json:"riskScore"`
	Reasons        []string `json:"reasons"`
	IsResolved     bool     `json:"isResolved"`
	ResolvedBy     *string  `json:"resolvedBy,omitempty"`
	ResolvedAt     string   `json:"resolvedAt,omitempty"`
	ResolutionNote string   `json:"resolutionNote,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

type ResolveFraudFlagRequest struct {
	Note string `json:"note"`
}

type CreateWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type WebhookResponse struct {
	WebhookID string   `json:"webhookId"`
	AppID     string   `json:"appId"`
	URL       string   `json:"url"`
	Secret    string   `json:"secret,omitempty"`
	Events    []string `json:"events"`
	IsActive  bool     `json:"isActive"`
	CreatedAt string   `json:"createdAt"`
}

type WebhookDeliveryResponse struct {
	DeliveryID string `json:"deliveryId"`
	Event      string `json:"event"`
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
	CreatedAt  string `json:"createdAt"`
}
