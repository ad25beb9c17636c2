package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/referral-platform/internal/domain"
)

type PartnerRepository interface {
	Create(ctx context.Context, partner domain.Partner) error
	GetByID(ctx context.Context, partnerID string) (domain.Partner, error)
	GetByEmail(ctx context.Context, email string) (domain.Partner, error)
}

type AppRepository interface {
	Create(ctx context.Context, app domain.App) error
	GetByID(ctx context.Context, appID string) (domain.App, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (domain.App, error)
	ListByPartner(ctx context.Context, partnerID string) ([]domain.App, error)
	UpdateAPIKey(ctx context.Context, appID, hash, prefix string, at time.Time) error
	UpdateStatus(ctx context.Context, appID string, status domain.AppStatus, at time.Time) error
	IncrementUsage(ctx context.Context, appID string) error
	Delete(ctx context.Context, appID string) error
}

type CampaignRepository interface {
	Create(ctx context.Context, campaign domain.Campaign) error
	GetByID(ctx context.Context, campaignID string) (domain.Campaign, error)
	ListByApp(ctx context.Context, appID string) ([]domain.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID string, status domain.CampaignStatus, at time.Time) error
}

// ConversionWrite groups every row written when a referee converts. Implementations
// commit all of them or none, and enforce the single-use and first-time-user rules
// while holding the code-generation record.
type ConversionWrite struct {
	Referral          domain.Referral
	Conversion        domain.Conversion
	Reward            *domain.Reward
	Flag              *domain.FraudFlag
	Outbox            []OutboxEvent
	SingleUse         bool
	FirstTimeUserOnly bool
}

type ReferralCounts struct {
	Referrals        int64
	Clicks           int64
	Conversions      int64
	FlaggedReferrals int64
}

type ReferralRepository interface {
	// CreateCodeReferral returns domain.ErrConflict when the code is already taken.
	CreateCodeReferral(ctx context.Context, referral domain.Referral, flag *domain.FraudFlag, outbox []OutboxEvent) error
	GetByID(ctx context.Context, referralID string) (domain.Referral, error)
	GetByCode(ctx context.Context, appID, code string) (domain.Referral, error)
	ListConversions(ctx context.Context, appID, code string) ([]domain.Conversion, error)
	ListByApp(ctx context.Context, appID string, limit int) ([]domain.Referral, error)
	RecordConversion(ctx context.Context, write ConversionWrite) error
	Counts(ctx context.Context, appID string) (ReferralCounts, error)
}

type ClickRepository interface {
	Create(ctx context.Context, click domain.Click, flag *domain.FraudFlag) error
	CountByCode(ctx context.Context, appID, code string) (int, error)
}

// FraudSignalReader backs the fraud scorer. Reads need no isolation beyond the
// default because the scorer treats counts as approximate.
type FraudSignalReader interface {
	CountByIPSince(ctx context.Context, appID, campaignID, ip string, since time.Time) (int, error)
	CountReferralsByReferrerSince(ctx context.Context, appID, referrerID string, since time.Time) (int, error)
	CountDistinctReferrersByFingerprint(ctx context.Context, appID, fingerprint string) (int, error)
}

type RewardFilter struct {
	AppID      string
	Status     domain.RewardStatus
	ReferrerID string
	Limit      int
}

// BackfillCandidate is a converted referral that carries a reward amount but has no reward row.
type BackfillCandidate struct {
	Referral   domain.Referral
	Conversion domain.Conversion
	Campaign   domain.Campaign
}

type RewardRepository interface {
	GetByID(ctx context.Context, rewardID string) (domain.Reward, error)
	GetByCode(ctx context.Context, code string) (domain.Reward, error)
	List(ctx context.Context, filter RewardFilter) ([]domain.Reward, error)
	// CompareAndSetStatus applies next only while the stored status still equals expected.
	CompareAndSetStatus(ctx context.Context, rewardID string, expected, next domain.RewardStatus, patch domain.RewardPatch, at time.Time) (bool, error)
	// CreateIfAbsent is a no-op returning false when a reward for the conversion exists.
	CreateIfAbsent(ctx context.Context, reward domain.Reward) (bool, error)
	ListBackfillCandidates(ctx context.Context, limit int) ([]BackfillCandidate, error)
	TotalsByStatus(ctx context.Context, appID string) (map[domain.RewardStatus]domain.RewardTotals, error)
}

type FraudFlagRepository interface {
	Create(ctx context.Context, flag domain.FraudFlag) error
	GetByID(ctx context.Context, flagID string) (domain.FraudFlag, error)
	ListByApp(ctx context.Context, appID string, unresolvedOnly bool, limit int) ([]domain.FraudFlag, error)
	ListUnresolved(ctx context.Context, limit int) ([]domain.FraudFlag, error)
	Resolve(ctx context.Context, flagID, resolvedBy, note string, at time.Time) (bool, error)
	CountUnresolved(ctx context.Context, appID string) (int64, error)
}

type WebhookRepository interface {
	Create(ctx context.Context, webhook domain.Webhook) error
	GetByID(ctx context.Context, webhookID string) (domain.Webhook, error)
	ListByApp(ctx context.Context, appID string) ([]domain.Webhook, error)
	ListActiveForEvent(ctx context.Context, appID string, event domain.EventType) ([]domain.Webhook, error)
	Delete(ctx context.Context, webhookID string) error
	RecordDelivery(ctx context.Context, delivery domain.WebhookDelivery) error
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error)
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

// IdempotencyRecord tracks a previously accepted mutating request.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}

// DataMigrationRepository records once-only data migrations.
type DataMigrationRepository interface {
	IsApplied(ctx context.Context, name string) (bool, error)
	MarkApplied(ctx context.Context, name string, at time.Time) error
}
