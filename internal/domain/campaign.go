package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RewardModel string

const (
	RewardModelFixedCurrency RewardModel = "FIXED_CURRENCY"
	RewardModelPercentage    RewardModel = "PERCENTAGE"
)

type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "ACTIVE"
	CampaignStatusInactive CampaignStatus = "INACTIVE"
)

type ReferralType string

const (
	ReferralTypeSingleUse ReferralType = "SINGLE_USE"
	ReferralTypeMultiUse  ReferralType = "MULTI_USE"
)

// CodeSegmentPolicy picks the middle segment of generated referral codes.
type CodeSegmentPolicy string

const (
	CodeSegmentNone        CodeSegmentPolicy = "NONE"
	CodeSegmentUsername    CodeSegmentPolicy = "USERNAME"
	CodeSegmentEmailPrefix CodeSegmentPolicy = "EMAIL_PREFIX"
)

type Campaign struct {
	CampaignID        string
	AppID             string
	Name              string
	RewardModel       RewardModel
	RewardValue       decimal.Decimal
	RewardCap         *decimal.Decimal
	Currency          string
	Status            CampaignStatus
	ReferralType      ReferralType
	FirstTimeUserOnly bool
	CodePrefix        string
	CodeSegment       CodeSegmentPolicy
	FulfillmentType   FulfillmentType
	RewardExpiryDays  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// ComputeReward applies the campaign reward model to an optional transaction amount.
// A zero result means no reward is owed.
func (c Campaign) ComputeReward(amount *decimal.Decimal) decimal.Decimal {
	var reward decimal.Decimal
	switch c.RewardModel {
	case RewardModelFixedCurrency:
		reward = c.RewardValue
	case RewardModelPercentage:
		if amount == nil {
			return decimal.Zero
		}
		reward = amount.Mul(c.RewardValue).Div(decimal.NewFromInt(100))
	default:
		return decimal.Zero
	}
	if c.RewardCap != nil && reward.GreaterThan(*c.RewardCap) {
		reward = *c.RewardCap
	}
	if !reward.IsPositive() {
		return decimal.Zero
	}
	return RoundCurrency(reward)
}

// Validate normalizes enum fields in place and rejects inconsistent definitions.
func (c *Campaign) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: campaign name is required", ErrInvalidInput)
	}
	c.RewardModel = RewardModel(strings.ToUpper(strings.TrimSpace(string(c.RewardModel))))
	switch c.RewardModel {
	case RewardModelFixedCurrency:
	case RewardModelPercentage:
		if c.RewardValue.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage reward cannot exceed 100", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unsupported reward model %q", ErrInvalidInput, c.RewardModel)
	}
	if c.RewardValue.IsNegative() {
		return fmt.Errorf("%w: reward value must not be negative", ErrInvalidInput)
	}
	if c.RewardCap != nil && c.RewardCap.IsNegative() {
		return fmt.Errorf("%w: reward cap must not be negative", ErrInvalidInput)
	}

	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidInput)
	}

	if c.Status == "" {
		c.Status = CampaignStatusActive
	}
	status, err := NormalizeCampaignStatus(string(c.Status))
	if err != nil {
		return err
	}
	c.Status = status

	c.ReferralType = ReferralType(strings.ToUpper(strings.TrimSpace(string(c.ReferralType))))
	switch c.ReferralType {
	case "":
		c.ReferralType = ReferralTypeMultiUse
	case ReferralTypeSingleUse, ReferralTypeMultiUse:
	default:
		return fmt.Errorf("%w: unsupported referral type %q", ErrInvalidInput, c.ReferralType)
	}

	c.CodeSegment = CodeSegmentPolicy(strings.ToUpper(strings.TrimSpace(string(c.CodeSegment))))
	switch c.CodeSegment {
	case "":
		c.CodeSegment = CodeSegmentNone
	case CodeSegmentNone, CodeSegmentUsername, CodeSegmentEmailPrefix:
	default:
		return fmt.Errorf("%w: unsupported code segment policy %q", ErrInvalidInput, c.CodeSegment)
	}
	c.CodePrefix = SanitizeCodePart(c.CodePrefix, maxPrefixLength)

	if c.FulfillmentType == "" {
		c.FulfillmentType = FulfillmentCash
	}
	ft, err := ParseFulfillmentType(string(c.FulfillmentType))
	if err != nil {
		return err
	}
	c.FulfillmentType = ft
	if c.RewardExpiryDays < 0 {
		return fmt.Errorf("%w: reward expiry days must not be negative", ErrInvalidInput)
	}
	return nil
}

func NormalizeCampaignStatus(raw string) (CampaignStatus, error) {
	switch CampaignStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case CampaignStatusActive:
		return CampaignStatusActive, nil
	case CampaignStatusInactive:
		return CampaignStatusInactive, nil
	default:
		return "", fmt.Errorf("%w: unsupported campaign status %q", ErrInvalidInput, raw)
	}
}

// RoundCurrency rounds monetary values to cents.
func RoundCurrency(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}
