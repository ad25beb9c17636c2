package postgres

import (
	"github.com/viralforge/referral-platform/internal/ports"
	"gorm.io/gorm"
)

// Repositories groups the GORM-backed implementations of the repository ports.
type Repositories struct {
	Partners     ports.PartnerRepository
	Apps         ports.AppRepository
	Campaigns    ports.CampaignRepository
	Referrals    ports.ReferralRepository
	Clicks       ports.ClickRepository
	FraudSignals ports.FraudSignalReader
	Rewards      ports.RewardRepository
	FraudFlags   ports.FraudFlagRepository
	Webhooks     ports.WebhookRepository
	Outbox       ports.OutboxRepository
	Idempotency  ports.IdempotencyRepository
	Migrations   ports.DataMigrationRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Partners:     &partnerRepository{db: db},
		Apps:         &appRepository{db: db},
		Campaigns:    &campaignRepository{db: db},
		Referrals:    &referralRepository{db: db},
		Clicks:       &clickRepository{db: db},
		FraudSignals: &fraudSignalRepository{db: db},
		Rewards:      &rewardRepository{db: db},
		FraudFlags:   &fraudFlagRepository{db: db},
		Webhooks:     &webhookRepository{db: db},
		Outbox:       &outboxRepository{db: db},
		Idempotency:  &idempotencyRepository{db: db},
		Migrations:   &dataMigrationRepository{db: db},
	}
}
