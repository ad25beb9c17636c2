package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/viralforge/referral-platform/internal/domain"
)

// TopicConversionRequested carries conversions reported by sibling services.
const TopicConversionRequested = "referral.conversion_requested"

type conversionRequestedEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		AppID        string           `json:"app_id"`
		ReferralCode string           `json:"referral_code"`
		RefereeID    string           `json:"referee_id"`
		Amount       *decimal.Decimal `json:"amount"`
		Metadata     json.RawMessage  `json:"metadata"`
		IPAddress    string           `json:"ip_address"`
		UserAgent    string           `json:"user_agent"`
	} `json:"data"`
}

// HandleConversionRequested records a conversion published on the event bus. The event
// id doubles as the idempotency key, so redelivered messages replay the first result.
func (s *Service) HandleConversionRequested(ctx context.Context, payload []byte) error {
	var evt conversionRequestedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: invalid %s payload", domain.ErrInvalidInput, TopicConversionRequested)
	}
	if strings.TrimSpace(evt.EventID) == "" || strings.TrimSpace(evt.Data.AppID) == "" {
		return fmt.Errorf("%w: event_id and app_id are required", domain.ErrInvalidInput)
	}
	app, err := s.apps.GetByID(ctx, strings.TrimSpace(evt.Data.AppID))
	if err != nil {
		return err
	}
	if !app.IsActive() {
		return fmt.Errorf("%w: app is suspended", domain.ErrForbidden)
	}
	result, err := s.RecordConversion(ctx, app, RecordConversionInput{
		ReferralCode:   evt.Data.ReferralCode,
		RefereeID:      evt.Data.RefereeID,
		Amount:         evt.Data.Amount,
		Metadata:       evt.Data.Metadata,
		IdempotencyKey: "event:" + evt.EventID,
		Meta: RequestMeta{
			IPAddress: evt.Data.IPAddress,
			UserAgent: evt.Data.UserAgent,
		},
	})
	if errors.Is(err, domain.ErrConflict) {
		s.logger.InfoContext(ctx, "conversion event rejected",
			"operation", "handle_conversion_requested",
			"outcome", "rejected",
			"event_id", evt.EventID,
			"error", err,
		)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "conversion event recorded",
		"operation", "handle_conversion_requested",
		"outcome", "success",
		"event_id", evt.EventID,
		"conversion_id", result.ConversionID,
	)
	return nil
}
