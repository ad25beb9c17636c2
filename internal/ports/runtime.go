package ports

import (
	"context"

	"github.com/viralforge/referral-platform/internal/domain"
)

// EventEmitter hands lifecycle events to an asynchronous consumer. Emit never blocks
// and never reports delivery failures to the caller.
type EventEmitter interface {
	Emit(event domain.LifecycleEvent)
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// UsageCounter counts API-key requests per app and calendar month.
type UsageCounter interface {
	Increment(ctx context.Context, appID, period string) (int64, error)
	Get(ctx context.Context, appID, period string) (int64, error)
}

// APIKeyCache fronts the app lookup by key hash.
type APIKeyCache interface {
	Get(hash string) (domain.App, bool)
	Add(hash string, app domain.App)
	Remove(hash string)
}

type IDGenerator interface {
	NewID() string
}

// Metrics is the subset of instrumentation the application layer reports.
type Metrics interface {
	FraudEvaluated(subject domain.FraudSubject, result domain.FraudResult)
	FraudScoringFailed(subject domain.FraudSubject)
	RewardTransitioned(from, to domain.RewardStatus)
}
