package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "PENDING"
	RewardStatusApproved  RewardStatus = "APPROVED"
	RewardStatusPaid      RewardStatus = "PAID"
	RewardStatusCancelled RewardStatus = "CANCELLED"
)

var rewardTransitions = map[RewardStatus][]RewardStatus{
	RewardStatusPending:   {RewardStatusApproved, RewardStatusPaid, RewardStatusCancelled},
	RewardStatusApproved:  {RewardStatusPaid, RewardStatusCancelled},
	RewardStatusPaid:      {},
	RewardStatusCancelled: {},
}

func ParseRewardStatus(raw string) (RewardStatus, error) {
	status := RewardStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := rewardTransitions[status]; !ok {
		return "", fmt.Errorf("%w: unsupported reward status %q", ErrInvalidInput, raw)
	}
	return status, nil
}

func (s RewardStatus) IsTerminal() bool {
	return len(rewardTransitions[s]) == 0
}

// CanTransitionReward reports whether from -> to is listed in the reward transition table.
func CanTransitionReward(from, to RewardStatus) bool {
	for _, next := range rewardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidateRewardTransition(from, to RewardStatus) error {
	if !CanTransitionReward(from, to) {
		return &TransitionError{Entity: "reward", From: string(from), To: string(to)}
	}
	return nil
}

type Reward struct {
	RewardID        string
	AppID           string
	CampaignID      string
	ReferralID      string
	ConversionID    string
	ReferrerID      string
	Amount          decimal.Decimal
	Currency        string
	Status          RewardStatus
	Fulfillment     Fulfillment
	PaidAt          *time.Time
	PayoutReference string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CheckRedeemable applies the redemption rules in order: expiry first, then status.
func (r Reward) CheckRedeemable(now time.Time) error {
	if _, expiresAt, ok := RedemptionCode(r.Fulfillment); ok && expiresAt != nil && now.After(*expiresAt) {
		return ErrRewardExpired
	}
	switch r.Status {
	case RewardStatusApproved:
		return nil
	case RewardStatusPaid:
		return ErrAlreadyRedeemed
	case RewardStatusCancelled:
		return ErrRewardCancelled
	default:
		return ErrRewardNotApproved
	}
}

// RewardPatch carries the columns a status change may stamp alongside the status itself.
type RewardPatch struct {
	PaidAt          *time.Time
	PayoutReference *string
	Fulfillment     Fulfillment
}

type RewardTotals struct {
	Count  int64
	Amount decimal.Decimal
}
