package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type partnerModel struct {
	PartnerID    string    `gorm:"column:partner_id;primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex"`
	DisplayName  string    `gorm:"column:display_name"`
	PasswordHash string    `gorm:"column:password_hash"`
	Role         string    `gorm:"column:role"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (partnerModel) TableName() string { return "partners" }

type appModel struct {
	AppID        string    `gorm:"column:app_id;primaryKey"`
	PartnerID    string    `gorm:"column:partner_id;index"`
	Name         string    `gorm:"column:name"`
	APIKeyHash   string    `gorm:"column:api_key_hash;uniqueIndex"`
	APIKeyPrefix string    `gorm:"column:api_key_prefix"`
	UsageCount   int64     `gorm:"column:usage_count"`
	MonthlyLimit int64     `gorm:"column:monthly_limit"`
	Status       string    `gorm:"column:status"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (appModel) TableName() string { return "apps" }

type campaignModel struct {
	CampaignID        string           `gorm:"column:campaign_id;primaryKey"`
	AppID             string           `gorm:"column:app_id;index"`
	Name              string           `gorm:"column:name"`
	RewardModel       string           `gorm:"column:reward_model"`
	RewardValue       decimal.Decimal  `gorm:"column:reward_value;type:numeric(20,4)"`
	RewardCap         *decimal.Decimal `gorm:"column:reward_cap;type:numeric(20,4)"`
	Currency          string           `gorm:"column:currency"`
	Status            string           `gorm:"column:status"`
	ReferralType      string           `gorm:"column:referral_type"`
	FirstTimeUserOnly bool             `gorm:"column:first_time_user_only"`
	CodePrefix        string           `gorm:"column:code_prefix"`
	CodeSegment       string           `gorm:"column:code_segment"`
	FulfillmentType   string           `gorm:"column:fulfillment_type"`
	RewardExpiryDays  int              `gorm:"column:reward_expiry_days"`
	CreatedAt         time.Time        `gorm:"column:created_at"`
	UpdatedAt         time.Time        `gorm:"column:updated_at"`
}

func (campaignModel) TableName() string { return "campaigns" }

// referralModel stores both code-generation records and conversion records. Only
// code-generation rows set unique_code, which carries the global uniqueness index.
type referralModel struct {
	ReferralID           string          `gorm:"column:referral_id;primaryKey"`
	AppID                string          `gorm:"column:app_id;index"`
	CampaignID           string          `gorm:"column:campaign_id;index"`
	Code                 string          `gorm:"column:code;index"`
	UniqueCode           *string         `gorm:"column:unique_code;uniqueIndex"`
	ReferrerID           string          `gorm:"column:referrer_id"`
	RefereeID            *string         `gorm:"column:referee_id"`
	Status               string          `gorm:"column:status"`
	IPAddress            string          `gorm:"column:ip_address"`
	UserAgent            string          `gorm:"column:user_agent"`
	DeviceFingerprint    *string         `gorm:"column:device_fingerprint;index"`
	RewardAmount         decimal.Decimal `gorm:"column:reward_amount;type:numeric(20,4)"`
	ConvertedAt          *time.Time      `gorm:"column:converted_at"`
	FlaggedBy            *string         `gorm:"column:flagged_by"`
	FlaggedAt            *time.Time      `gorm:"column:flagged_at"`
	IsCodeGeneration     bool            `gorm:"column:is_code_generation"`
	OriginalReferralCode string          `gorm:"column:original_referral_code"`
	CreatedAt            time.Time       `gorm:"column:created_at"`
	UpdatedAt            time.Time       `gorm:"column:updated_at"`
}

func (referralModel) TableName() string { return "referrals" }

type clickModel struct {
	ClickID           string    `gorm:"column:click_id;primaryKey"`
	AppID             string    `gorm:"column:app_id;index"`
	CampaignID        string    `gorm:"column:campaign_id"`
	ReferralCode      string    `gorm:"column:referral_code;index"`
	RefereeID         *string   `gorm:"column:referee_id"`
	IPAddress         string    `gorm:"column:ip_address"`
	UserAgent         string    `gorm:"column:user_agent"`
	DeviceFingerprint *string   `gorm:"column:device_fingerprint"`
	ClickedAt         time.Time `gorm:"column:clicked_at"`
}

func (clickModel) TableName() string { return "clicks" }

type conversionModel struct {
	ConversionID string           `gorm:"column:conversion_id;primaryKey"`
	AppID        string           `gorm:"column:app_id;index"`
	ReferralID   string           `gorm:"column:referral_id"`
	ReferralCode string           `gorm:"column:referral_code;index"`
	RefereeID    string           `gorm:"column:referee_id"`
	Amount       *decimal.Decimal `gorm:"column:amount;type:numeric(20,4)"`
	Metadata     datatypes.JSON   `gorm:"column:metadata"`
	Flagged      bool             `gorm:"column:flagged"`
	CreatedAt    time.Time        `gorm:"column:created_at"`
}

func (conversionModel) TableName() string { return "conversions" }

// rewardModel flattens domain.Fulfillment into fulfillment_type plus the optional
// code columns.
type rewardModel struct {
	RewardID        string          `gorm:"column:reward_id;primaryKey"`
	AppID           string          `gorm:"column:app_id;index"`
	CampaignID      string          `gorm:"column:campaign_id"`
	ReferralID      string          `gorm:"column:referral_id"`
	ConversionID    string          `gorm:"column:conversion_id;uniqueIndex"`
	ReferrerID      string          `gorm:"column:referrer_id"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,4)"`
	Currency        string          `gorm:"column:currency"`
	Status          string          `gorm:"column:status"`
	FulfillmentType string          `gorm:"column:fulfillment_type"`
	Code            *string         `gorm:"column:code;uniqueIndex"`
	ExpiresAt       *time.Time      `gorm:"column:expires_at"`
	PaidAt          *time.Time      `gorm:"column:paid_at"`
	PayoutReference string          `gorm:"column:payout_reference"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (rewardModel) TableName() string { return "rewards" }

type fraudFlagModel struct {
	FlagID         string         `gorm:"column:flag_id;primaryKey"`
	AppID          string         `gorm:"column:app_id;index"`
	SubjectType    string         `gorm:"column:subject_type"`
	SubjectID      string         `gorm:"column:subject_id"`
	ReferralCode   string         `gorm:"column:referral_code"`
	RiskScore      int            `gorm:"column:risk_score"`
	Reasons        datatypes.JSON `gorm:"column:reasons"`
	IsResolved     bool           `gorm:"column:is_resolved"`
	ResolvedBy     *string        `gorm:"column:resolved_by"`
	ResolvedAt     *time.Time     `gorm:"column:resolved_at"`
	ResolutionNote string         `gorm:"column:resolution_note"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
}

func (fraudFlagModel) TableName() string { return "fraud_flags" }

type webhookModel struct {
	WebhookID string         `gorm:"column:webhook_id;primaryKey"`
	AppID     string         `gorm:"column:app_id;index"`
	URL       string         `gorm:"column:url"`
	Secret    string         `gorm:"column:secret"`
	Events    datatypes.JSON `gorm:"column:events"`
	IsActive  bool           `gorm:"column:is_active"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (webhookModel) TableName() string { return "webhooks" }

type webhookDeliveryModel struct {
	DeliveryID string    `gorm:"column:delivery_id;primaryKey"`
	WebhookID  string    `gorm:"column:webhook_id;index"`
	Event      string    `gorm:"column:event"`
	StatusCode int       `gorm:"column:status_code"`
	Success    bool      `gorm:"column:success"`
	Attempts   int       `gorm:"column:attempts"`
	Error      string    `gorm:"column:error"`
	DurationMS int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (webhookDeliveryModel) TableName() string { return "webhook_deliveries" }

type outboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "referral_outbox" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "idempotency_keys" }

type dataMigrationModel struct {
	Name      string    `gorm:"column:name;primaryKey"`
	AppliedAt time.Time `gorm:"column:applied_at"`
}

func (dataMigrationModel) TableName() string { return "data_migrations" }
