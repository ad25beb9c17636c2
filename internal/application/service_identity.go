package application

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

const minPasswordLength = 8

// AuthenticateAPIKey resolves a raw API key to its app. Suspended apps are rejected.
func (s *Service) AuthenticateAPIKey(ctx context.Context, rawKey string) (domain.App, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return domain.App{}, domain.ErrUnauthorized
	}
	hash := domain.HashAPIKey(rawKey)

	app, ok := s.keyCache.Get(hash)
	if !ok {
		var err error
		app, err = s.apps.GetByAPIKeyHash(ctx, hash)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.App{}, domain.ErrUnauthorized
			}
			return domain.App{}, err
		}
		s.keyCache.Add(hash, app)
	}
	if !app.IsActive() {
		return domain.App{}, fmt.Errorf("%w: app is suspended", domain.ErrForbidden)
	}
	return app, nil
}

// TrackUsage counts one API request against the app's monthly allowance. Counter
// outages are logged and do not block traffic.
func (s *Service) TrackUsage(ctx context.Context, app domain.App) error {
	if s.usage == nil {
		return nil
	}
	period := usagePeriod(s.nowFn())
	count, err := s.usage.Increment(ctx, app.AppID, period)
	if err != nil {
		s.logger.WarnContext(ctx, "usage counter unavailable",
			"operation", "track_usage",
			"outcome", "degraded",
			"app_id", app.AppID,
			"error", err,
		)
		return nil
	}
	if err := s.apps.IncrementUsage(ctx, app.AppID); err != nil {
		s.logger.WarnContext(ctx, "lifetime usage update failed",
			"operation", "track_usage",
			"outcome", "degraded",
			"app_id", app.AppID,
			"error", err,
		)
	}

	if app.MonthlyLimit > 0 && count > app.MonthlyLimit {
		if count == app.MonthlyLimit+1 {
			s.emit(app.AppID, domain.EventUsageLimitExceeded, map[string]any{
				"app_id":        app.AppID,
				"period":        period,
				"monthly_limit": app.MonthlyLimit,
			})
		}
		return domain.ErrUsageLimitExceeded
	}
	return nil
}

func (s *Service) CreatePartner(ctx context.Context, in CreatePartnerInput) (domain.Partner, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return domain.Partner{}, err
	}
	if len(in.Password) < minPasswordLength {
		return domain.Partner{}, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLength)
	}
	role, err := domain.NormalizeRole(in.Role)
	if err != nil {
		return domain.Partner{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return domain.Partner{}, fmt.Errorf("hash password: %w", err)
	}
	partner := domain.Partner{
		PartnerID:    newID(),
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.nowFn(),
	}
	if err := s.partners.Create(ctx, partner); err != nil {
		return domain.Partner{}, err
	}
	return partner, nil
}

// Login verifies partner credentials and issues a signed session token.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return Session{}, domain.ErrUnauthorized
	}
	partner, err := s.partners.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, domain.ErrUnauthorized
		}
		return Session{}, err
	}
	if err := s.hasher.Compare(partner.PasswordHash, in.Password); err != nil {
		return Session{}, domain.ErrUnauthorized
	}

	now := s.nowFn()
	claims := ports.SessionClaims{
		PartnerID: partner.PartnerID,
		Email:     partner.Email,
		Role:      partner.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	token, err := s.tokenSigner.Sign(claims)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	return Session{Token: token, ExpiresAt: claims.ExpiresAt, PartnerID: partner.PartnerID, Role: partner.Role}, nil
}

func (s *Service) ValidateSession(_ context.Context, rawToken string) (Actor, error) {
	claims, err := s.tokenSigner.ParseAndValidate(strings.TrimSpace(rawToken))
	if err != nil {
		return Actor{}, domain.ErrUnauthorized
	}
	return Actor{PartnerID: claims.PartnerID, Email: claims.Email, Role: claims.Role}, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	return trimmed, nil
}
