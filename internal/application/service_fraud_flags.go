package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/viralforge/referral-platform/internal/domain"
)

func (s *Service) ListFraudFlags(ctx context.Context, actor Actor, appID string, unresolvedOnly bool, limit int) ([]domain.FraudFlag, error) {
	app, err := s.authorizeApp(ctx, actor, appID)
	if err != nil {
		return nil, err
	}
	return s.fraudFlags.ListByApp(ctx, app.AppID, unresolvedOnly, clampLimit(limit))
}

// ListOpenFraudFlags is the admin review queue across every app.
func (s *Service) ListOpenFraudFlags(ctx context.Context, actor Actor, limit int) ([]domain.FraudFlag, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	return s.fraudFlags.ListUnresolved(ctx, clampLimit(limit))
}

// ResolveFraudFlag closes a flag once. Resolving an already resolved flag is a conflict.
func (s *Service) ResolveFraudFlag(ctx context.Context, actor Actor, flagID, note string) (domain.FraudFlag, error) {
	flag, err := s.fraudFlags.GetByID(ctx, strings.TrimSpace(flagID))
	if err != nil {
		return domain.FraudFlag{}, err
	}
	if err := s.authorizeChild(ctx, actor, flag.AppID); err != nil {
		return domain.FraudFlag{}, err
	}
	if flag.IsResolved {
		return domain.FraudFlag{}, fmt.Errorf("%w: fraud flag already resolved", domain.ErrConflict)
	}
	now := s.nowFn()
	note = strings.TrimSpace(note)
	ok, err := s.fraudFlags.Resolve(ctx, flag.FlagID, actor.PartnerID, note, now)
	if err != nil {
		return domain.FraudFlag{}, err
	}
	if !ok {
		return domain.FraudFlag{}, fmt.Errorf("%w: fraud flag already resolved", domain.ErrConflict)
	}
	resolvedBy := actor.PartnerID
	flag.IsResolved = true
	flag.ResolvedBy = &resolvedBy
	flag.ResolvedAt = &now
	flag.ResolutionNote = note
	return flag, nil
}
