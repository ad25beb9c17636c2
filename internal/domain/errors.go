package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConflict               = errors.New("conflict")
	ErrIdempotencyConflict    = errors.New("idempotency key reused with a different request")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUsageLimitExceeded     = errors.New("monthly usage limit exceeded")

	ErrCampaignNotFound  = fmt.Errorf("campaign %w", ErrNotFound)
	ErrCampaignNotActive = errors.New("campaign is not active")

	ErrAlreadyRedeemed   = errors.New("reward already redeemed")
	ErrRewardCancelled   = errors.New("reward has been cancelled")
	ErrRewardNotApproved = errors.New("reward is not yet approved")
	ErrRewardExpired     = errors.New("reward code has expired")
)

// TransitionError reports a status change that the entity's transition table rejects.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
