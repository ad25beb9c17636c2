package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "PENDING"
	ReferralStatusClicked   ReferralStatus = "CLICKED"
	ReferralStatusConverted ReferralStatus = "CONVERTED"
	ReferralStatusFlagged   ReferralStatus = "FLAGGED"
)

// Referral is either a code-generation record (one per code, IsCodeGeneration set)
// or a conversion record that points back at the code through OriginalReferralCode.
type Referral struct {
	ReferralID           string
	AppID                string
	CampaignID           string
	Code                 string
	ReferrerID           string
	RefereeID            *string
	Status               ReferralStatus
	IPAddress            string
	UserAgent            string
	DeviceFingerprint    *string
	RewardAmount         decimal.Decimal
	ConvertedAt          *time.Time
	FlaggedBy            *string
	FlaggedAt            *time.Time
	IsCodeGeneration     bool
	OriginalReferralCode string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Click is an append-only event keyed by referral code rather than by referral row.
type Click struct {
	ClickID           string
	AppID             string
	CampaignID        string
	ReferralCode      string
	RefereeID         *string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint *string
	ClickedAt         time.Time
}

type Conversion struct {
	ConversionID string
	AppID        string
	ReferralID   string
	ReferralCode string
	RefereeID    string
	Amount       *decimal.Decimal
	Metadata     json.RawMessage
	Flagged      bool
	CreatedAt    time.Time
}

// DeriveReferralStatus projects the externally visible status of a code from its
// click count and conversions. The result is never persisted.
func DeriveReferralStatus(clickCount int, conversions []Conversion) ReferralStatus {
	if len(conversions) > 0 {
		for _, c := range conversions {
			if c.Flagged {
				return ReferralStatusFlagged
			}
		}
		return ReferralStatusConverted
	}
	if clickCount > 0 {
		return ReferralStatusClicked
	}
	return ReferralStatusPending
}

type AppStats struct {
	Referrals        int64
	Clicks           int64
	Conversions      int64
	FlaggedReferrals int64
	UnresolvedFlags  int64
	ConversionRate   float64
	RewardsByStatus  map[RewardStatus]RewardTotals
	MonthlyUsage     int64
	MonthlyLimit     int64
	LifetimeUsage    int64
}
