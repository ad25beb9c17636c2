package application

import (
	"context"
	"strings"

	"github.com/viralforge/referral-platform/internal/domain"
)

const webhookSecretPrefix = "whsec_"

// CreateWebhook registers an endpoint. The signing secret is returned with the webhook.
func (s *Service) CreateWebhook(ctx context.Context, actor Actor, appID string, in CreateWebhookInput) (domain.Webhook, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return domain.Webhook{}, err
	}
	target, err := domain.ValidateWebhookURL(in.URL)
	if err != nil {
		return domain.Webhook{}, err
	}
	events, err := domain.ParseEventTypes(in.Events)
	if err != nil {
		return domain.Webhook{}, err
	}
	webhook := domain.Webhook{
		WebhookID: newID(),
		AppID:     app.AppID,
		URL:       target,
		Secret:    webhookSecretPrefix + randomHex(24),
		Events:    events,
		IsActive:  true,
		CreatedAt: s.nowFn(),
	}
	if err := s.webhooks.Create(ctx, webhook); err != nil {
		return domain.Webhook{}, err
	}
	return webhook, nil
}

func (s *Service) ListWebhooks(ctx context.Context, actor Actor, appID string) ([]domain.Webhook, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	return s.webhooks.ListByApp(ctx, app.AppID)
}

func (s *Service) DeleteWebhook(ctx context.Context, actor Actor, webhookID string) error {
	webhook, err := s.webhooks.GetByID(ctx, strings.TrimSpace(webhookID))
	if err != nil {
		return err
	}
	if err := s.authorizeChild(ctx, actor, webhook.AppID); err != nil {
		return err
	}
	return s.webhooks.Delete(ctx, webhook.WebhookID)
}

func (s *Service) ListWebhookDeliveries(ctx context.Context, actor Actor, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	webhook, err := s.webhooks.GetByID(ctx, strings.TrimSpace(webhookID))
	if err != nil {
		return nil, err
	}
	if err := s.authorizeChild(ctx, actor, webhook.AppID); err != nil {
		return nil, err
	}
	return s.webhooks.ListDeliveries(ctx, webhook.WebhookID, clampLimit(limit))
}
