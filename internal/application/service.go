package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

const defaultServiceName = "referral-platform"

type Service struct {
	cfg         Config
	partners    ports.PartnerRepository
	apps        ports.AppRepository
	campaigns   ports.CampaignRepository
	referrals   ports.ReferralRepository
	clicks      ports.ClickRepository
	rewards     ports.RewardRepository
	fraudFlags  ports.FraudFlagRepository
	webhooks    ports.WebhookRepository
	outbox      ports.OutboxRepository
	idempotency ports.IdempotencyRepository
	migrations  ports.DataMigrationRepository
	usage       ports.UsageCounter
	keyCache    ports.APIKeyCache
	events      ports.EventEmitter
	hasher      ports.PasswordHasher
	tokenSigner ports.TokenSigner
	clickIDs    ports.IDGenerator
	metrics     ports.Metrics
	scorer      *FraudScorer
	logger      *slog.Logger
	nowFn       func() time.Time
}

type Dependencies struct {
	Config       Config
	Partners     ports.PartnerRepository
	Apps         ports.AppRepository
	Campaigns    ports.CampaignRepository
	Referrals    ports.ReferralRepository
	Clicks       ports.ClickRepository
	Rewards      ports.RewardRepository
	FraudFlags   ports.FraudFlagRepository
	FraudSignals ports.FraudSignalReader
	Webhooks     ports.WebhookRepository
	Outbox       ports.OutboxRepository
	Idempotency  ports.IdempotencyRepository
	Migrations   ports.DataMigrationRepository
	Usage        ports.UsageCounter
	APIKeyCache  ports.APIKeyCache
	Events       ports.EventEmitter
	Hasher       ports.PasswordHasher
	TokenSigner  ports.TokenSigner
	ClickIDs     ports.IDGenerator
	Metrics      ports.Metrics
	Logger       *slog.Logger
	Clock        func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.Fraud == (domain.FraudPolicy{}) {
		cfg.Fraud = domain.DefaultFraudPolicy()
	}
	if cfg.CodeSuffixLength <= 0 {
		cfg.CodeSuffixLength = domain.DefaultCodeSuffixLength
	}
	if cfg.CodeMinLength <= 0 {
		cfg.CodeMinLength = domain.DefaultCodeMinLength
	}
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = 5
	}
	if cfg.RewardCodeLength <= 0 {
		cfg.RewardCodeLength = 10
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.BackfillBatchSize <= 0 {
		cfg.BackfillBatchSize = 200
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", cfg.ServiceName, "module", "application", "layer", "application")

	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	events := deps.Events
	if events == nil {
		events = discardEmitter{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	keyCache := deps.APIKeyCache
	if keyCache == nil {
		keyCache = noCache{}
	}
	clickIDs := deps.ClickIDs
	if clickIDs == nil {
		clickIDs = uuidGenerator{}
	}

	return &Service{
		cfg:         cfg,
		partners:    deps.Partners,
		apps:        deps.Apps,
		campaigns:   deps.Campaigns,
		referrals:   deps.Referrals,
		clicks:      deps.Clicks,
		rewards:     deps.Rewards,
		fraudFlags:  deps.FraudFlags,
		webhooks:    deps.Webhooks,
		outbox:      deps.Outbox,
		idempotency: deps.Idempotency,
		migrations:  deps.Migrations,
		usage:       deps.Usage,
		keyCache:    keyCache,
		events:      events,
		hasher:      deps.Hasher,
		tokenSigner: deps.TokenSigner,
		clickIDs:    clickIDs,
		metrics:     metrics,
		scorer:      NewFraudScorer(deps.FraudSignals, cfg.Fraud, metrics, logger, nowFn),
		logger:      logger,
		nowFn:       nowFn,
	}
}

// Scorer exposes the fraud scorer for transports that score events without recording them.
func (s *Service) Scorer() *FraudScorer {
	return s.scorer
}

func (s *Service) emit(appID string, eventType domain.EventType, data map[string]any) {
	s.events.Emit(domain.LifecycleEvent{
		AppID:      appID,
		Type:       eventType,
		Data:       data,
		OccurredAt: s.nowFn(),
	})
}

// newOutboxEvent wraps data in the envelope published to the event bus.
func (s *Service) newOutboxEvent(eventType, appID, partitionKey string, data map[string]any) ports.OutboxEvent {
	id := uuid.New()
	now := s.nowFn()
	payload, _ := json.Marshal(map[string]any{
		"event_id":    id.String(),
		"event_type":  eventType,
		"occurred_at": now.Format(time.RFC3339Nano),
		"app_id":      appID,
		"source":      s.cfg.ServiceName,
		"data":        data,
	})
	return ports.OutboxEvent{
		EventID:      id,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		OccurredAt:   now,
	}
}

// authorizeApp loads an app and checks the actor owns it.
func (s *Service) authorizeApp(ctx context.Context, actor Actor, appID string) (domain.App, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return domain.App{}, fmt.Errorf("%w: app id is required", domain.ErrInvalidInput)
	}
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return domain.App{}, err
	}
	if !actor.IsAdmin() && app.PartnerID != actor.PartnerID {
		return domain.App{}, domain.ErrForbidden
	}
	return app, nil
}

// authorizeChild checks ownership of an entity looked up by id. Foreign entities are
// reported as missing so their existence does not leak across tenants.
func (s *Service) authorizeChild(ctx context.Context, actor Actor, appID string) error {
	_, err := s.authorizeApp(ctx, actor, appID)
	if errors.Is(err, domain.ErrForbidden) || errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func (s *Service) logFailure(ctx context.Context, operation string, err error, fields ...any) {
	args := append([]any{
		"operation", operation,
		"outcome", "failure",
		"error", err,
	}, fields...)
	s.logger.ErrorContext(ctx, "application operation failed", args...)
}

// hashRequest computes deterministic request fingerprint for idempotency conflict detection.
func hashRequest(req any) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func newID() string {
	return uuid.NewString()
}

func randomHex(bytesLen int) string {
	raw := make([]byte, bytesLen)
	_, _ = rand.Read(raw)
	return hex.EncodeToString(raw)
}

func optionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type discardEmitter struct{}

func (discardEmitter) Emit(domain.LifecycleEvent) {}

type noopMetrics struct{}

func (noopMetrics) FraudEvaluated(domain.FraudSubject, domain.FraudResult)      {}
func (noopMetrics) FraudScoringFailed(domain.FraudSubject)                      {}
func (noopMetrics) RewardTransitioned(domain.RewardStatus, domain.RewardStatus) {}

type noCache struct{}

func (noCache) Get(string) (domain.App, bool) { return domain.App{}, false }
func (noCache) Add(string, domain.App)        {}
func (noCache) Remove(string)                 {}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }
