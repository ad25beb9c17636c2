package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type EventType string

const (
	EventReferralCreated     EventType = "REFERRAL_CREATED"
	EventReferralClicked     EventType = "REFERRAL_CLICKED"
	EventReferralConverted   EventType = "REFERRAL_CONVERTED"
	EventRewardCreated       EventType = "REWARD_CREATED"
	EventRewardRedeemed      EventType = "REWARD_REDEEMED"
	EventRewardStatusChanged EventType = "REWARD_STATUS_CHANGED"
	EventFraudFlagged        EventType = "FRAUD_FLAGGED"
	EventUsageLimitExceeded  EventType = "USAGE_LIMIT_EXCEEDED"
)

var knownEventTypes = map[EventType]struct{}{
	EventReferralCreated:     {},
	EventReferralClicked:     {},
	EventReferralConverted:   {},
	EventRewardCreated:       {},
	EventRewardRedeemed:      {},
	EventRewardStatusChanged: {},
	EventFraudFlagged:        {},
	EventUsageLimitExceeded:  {},
}

func ParseEventTypes(raw []string) ([]EventType, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one event type is required", ErrInvalidInput)
	}
	seen := make(map[EventType]struct{}, len(raw))
	out := make([]EventType, 0, len(raw))
	for _, item := range raw {
		t := EventType(strings.ToUpper(strings.TrimSpace(item)))
		if _, ok := knownEventTypes[t]; !ok {
			return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, item)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// LifecycleEvent is emitted by the application after a successful write and drained
// asynchronously by the webhook dispatcher.
type LifecycleEvent struct {
	AppID      string
	Type       EventType
	Data       map[string]any
	OccurredAt time.Time
}

type Webhook struct {
	WebhookID string
	AppID     string
	URL       string
	Secret    string
	Events    []EventType
	IsActive  bool
	CreatedAt time.Time
}

func (w Webhook) Subscribes(t EventType) bool {
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

func ValidateWebhookURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", fmt.Errorf("%w: webhook url must be an absolute http(s) url", ErrInvalidInput)
	}
	return trimmed, nil
}

type WebhookDelivery struct {
	DeliveryID string
	WebhookID  string
	Event      EventType
	StatusCode int
	Success    bool
	Attempts   int
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}
