package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeReward_PercentageIsCapped(t *testing.T) {
	capAmount := decimal.NewFromInt(20)
	c := Campaign{RewardModel: RewardModelPercentage, RewardValue: decimal.NewFromInt(10), RewardCap: &capAmount}
	amount := decimal.NewFromInt(500)

	got := c.ComputeReward(&amount)
	assert.True(t, got.Equal(decimal.NewFromInt(20)), "got %s", got)
}

func TestComputeReward_PercentageWithoutAmountIsZero(t *testing.T) {
	c := Campaign{RewardModel: RewardModelPercentage, RewardValue: decimal.NewFromInt(10)}
	assert.True(t, c.ComputeReward(nil).IsZero())
}

func TestComputeReward_FixedIgnoresAmount(t *testing.T) {
	c := Campaign{RewardModel: RewardModelFixedCurrency, RewardValue: decimal.NewFromInt(15)}
	for _, raw := range []string{"0", "1", "999.99"} {
		amount := decimal.RequireFromString(raw)
		got := c.ComputeReward(&amount)
		assert.True(t, got.Equal(decimal.NewFromInt(15)), "amount %s gave %s", raw, got)
	}
	assert.True(t, c.ComputeReward(nil).Equal(decimal.NewFromInt(15)))
}

func TestComputeReward_RoundsToCents(t *testing.T) {
	c := Campaign{RewardModel: RewardModelPercentage, RewardValue: decimal.RequireFromString("7.5")}
	amount := decimal.RequireFromString("33.33")
	assert.Equal(t, "2.5", c.ComputeReward(&amount).String())
}

func TestComputeReward_ZeroValueYieldsNothing(t *testing.T) {
	c := Campaign{RewardModel: RewardModelFixedCurrency, RewardValue: decimal.Zero}
	assert.True(t, c.ComputeReward(nil).IsZero())
}

func TestRewardTransitionTable(t *testing.T) {
	all := []RewardStatus{RewardStatusPending, RewardStatusApproved, RewardStatusPaid, RewardStatusCancelled}
	allowed := map[RewardStatus]map[RewardStatus]bool{
		RewardStatusPending:  {RewardStatusApproved: true, RewardStatusPaid: true, RewardStatusCancelled: true},
		RewardStatusApproved: {RewardStatusPaid: true, RewardStatusCancelled: true},
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			assert.Equal(t, want, CanTransitionReward(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, RewardStatusPaid.IsTerminal())
	assert.True(t, RewardStatusCancelled.IsTerminal())
	assert.False(t, RewardStatusApproved.IsTerminal())
}

func TestValidateRewardTransition_ReportsPair(t *testing.T) {
	err := ValidateRewardTransition(RewardStatusPaid, RewardStatusApproved)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "PAID", te.From)
	assert.Equal(t, "APPROVED", te.To)
}

func TestCheckRedeemable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name   string
		status RewardStatus
		expiry *time.Time
		want   error
	}{
		{"approved", RewardStatusApproved, &future, nil},
		{"paid", RewardStatusPaid, &future, ErrAlreadyRedeemed},
		{"cancelled", RewardStatusCancelled, nil, ErrRewardCancelled},
		{"pending", RewardStatusPending, nil, ErrRewardNotApproved},
		{"expired approved", RewardStatusApproved, &past, ErrRewardExpired},
		{"expired paid", RewardStatusPaid, &past, ErrRewardExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Reward{Status: tc.status, Fulfillment: CouponFulfillment{Code: "RWD-X", ExpiresAt: tc.expiry}}
			err := r.CheckRedeemable(now)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestFulfillmentRoundTrip(t *testing.T) {
	exp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f, err := NewFulfillment(FulfillmentInAppDiscount, "RWD-ABC", &exp)
	require.NoError(t, err)

	typ, code, expiresAt := FlattenFulfillment(f)
	assert.Equal(t, FulfillmentInAppDiscount, typ)
	assert.Equal(t, "RWD-ABC", code)
	assert.Equal(t, exp, *expiresAt)

	cash, err := NewFulfillment(FulfillmentCash, "ignored", &exp)
	require.NoError(t, err)
	_, _, ok := RedemptionCode(cash)
	assert.False(t, ok)

	_, err = NewFulfillment("GIFT", "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
