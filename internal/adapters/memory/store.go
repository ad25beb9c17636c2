package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

// store keeps every table behind one lock so multi-table writes are atomic.
type store struct {
	mu sync.RWMutex

	partners       map[string]domain.Partner
	partnerByEmail map[string]string

	apps      map[string]domain.App
	appByHash map[string]string
	appOrder  []string

	campaigns     map[string]domain.Campaign
	campaignOrder []string

	referrals     map[string]domain.Referral
	referralOrder []string
	codeIndex     map[string]string

	conversions     map[string]domain.Conversion
	conversionOrder []string

	clicks []domain.Click

	rewards            map[string]domain.Reward
	rewardOrder        []string
	rewardByConversion map[string]string
	rewardByCode       map[string]string

	flags     map[string]domain.FraudFlag
	flagOrder []string

	webhooks     map[string]domain.Webhook
	webhookOrder []string
	deliveries   []domain.WebhookDelivery

	outbox      map[uuid.UUID]ports.OutboxRecord
	outboxOrder []uuid.UUID

	idempotency map[string]ports.IdempotencyRecord
	migrations  map[string]time.Time
}

// Repositories exposes the in-memory store through the repository ports. It backs
// local runs without Postgres and the application tests.
type Repositories struct {
	Partners     *PartnerRepository
	Apps         *AppRepository
	Campaigns    *CampaignRepository
	Referrals    *ReferralRepository
	Clicks       *ClickRepository
	FraudSignals *FraudSignalRepository
	Rewards      *RewardRepository
	FraudFlags   *FraudFlagRepository
	Webhooks     *WebhookRepository
	Outbox       *OutboxRepository
	Idempotency  *IdempotencyRepository
	Migrations   *DataMigrationRepository
}

func NewRepositories() *Repositories {
	s := &store{
		partners:           map[string]domain.Partner{},
		partnerByEmail:     map[string]string{},
		apps:               map[string]domain.App{},
		appByHash:          map[string]string{},
		campaigns:          map[string]domain.Campaign{},
		referrals:          map[string]domain.Referral{},
		codeIndex:          map[string]string{},
		conversions:        map[string]domain.Conversion{},
		rewards:            map[string]domain.Reward{},
		rewardByConversion: map[string]string{},
		rewardByCode:       map[string]string{},
		flags:              map[string]domain.FraudFlag{},
		webhooks:           map[string]domain.Webhook{},
		outbox:             map[uuid.UUID]ports.OutboxRecord{},
		idempotency:        map[string]ports.IdempotencyRecord{},
		migrations:         map[string]time.Time{},
	}
	return &Repositories{
		Partners:     &PartnerRepository{s: s},
		Apps:         &AppRepository{s: s},
		Campaigns:    &CampaignRepository{s: s},
		Referrals:    &ReferralRepository{s: s},
		Clicks:       &ClickRepository{s: s},
		FraudSignals: &FraudSignalRepository{s: s},
		Rewards:      &RewardRepository{s: s},
		FraudFlags:   &FraudFlagRepository{s: s},
		Webhooks:     &WebhookRepository{s: s},
		Outbox:       &OutboxRepository{s: s},
		Idempotency:  &IdempotencyRepository{s: s},
		Migrations:   &DataMigrationRepository{s: s},
	}
}

func (s *store) insertFlag(flag domain.FraudFlag) {
	flag.Reasons = append([]string(nil), flag.Reasons...)
	s.flags[flag.FlagID] = flag
	s.flagOrder = append(s.flagOrder, flag.FlagID)
}

func (s *store) insertOutbox(events []ports.OutboxEvent) {
	for _, evt := range events {
		s.outbox[evt.EventID] = ports.OutboxRecord{
			OutboxID:     evt.EventID,
			EventType:    evt.EventType,
			PartitionKey: evt.PartitionKey,
			Payload:      append([]byte(nil), evt.Payload...),
			CreatedAt:    evt.OccurredAt,
		}
		s.outboxOrder = append(s.outboxOrder, evt.EventID)
	}
}

func limitOrAll(limit, n int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}
