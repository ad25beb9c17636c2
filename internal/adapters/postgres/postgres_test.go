package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&partnerModel{}, &appModel{}, &campaignModel{}, &referralModel{}, &clickModel{},
		&conversionModel{}, &rewardModel{}, &fraudFlagModel{}, &webhookModel{},
		&webhookDeliveryModel{}, &outboxModel{}, &idempotencyModel{}, &dataMigrationModel{},
	))
	return db
}

type fixture struct {
	repos    Repositories
	app      domain.App
	campaign domain.Campaign
	code     domain.Referral
	now      time.Time
}

func newFixture(t *testing.T, referralType domain.ReferralType) fixture {
	t.Helper()
	ctx := context.Background()
	repos := NewRepositories(setupTestDB(t))
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	app := domain.App{
		AppID:        uuid.NewString(),
		PartnerID:    uuid.NewString(),
		Name:         "shop",
		APIKeyHash:   domain.HashAPIKey("rk_live_" + uuid.NewString()),
		APIKeyPrefix: "rk_live_abcd",
		Status:       domain.AppStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repos.Apps.Create(ctx, app))
	campaign := domain.Campaign{
		CampaignID:      uuid.NewString(),
		AppID:           app.AppID,
		Name:            "spring",
		RewardModel:     domain.RewardModelFixedCurrency,
		RewardValue:     decimal.NewFromInt(10),
		Currency:        "USD",
		Status:          domain.CampaignStatusActive,
		ReferralType:    referralType,
		CodeSegment:     domain.CodeSegmentNone,
		FulfillmentType: domain.FulfillmentInAppDiscount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repos.Campaigns.Create(ctx, campaign))
	code := domain.Referral{
		ReferralID:       uuid.NewString(),
		AppID:            app.AppID,
		CampaignID:       campaign.CampaignID,
		Code:             "SPRING-ABC234",
		ReferrerID:       "user-1",
		Status:           domain.ReferralStatusPending,
		IPAddress:        "10.0.0.1",
		RewardAmount:     decimal.Zero,
		IsCodeGeneration: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, repos.Referrals.CreateCodeReferral(ctx, code, nil, []ports.OutboxEvent{outboxEvent("referral.created", code.Code, now)}))
	return fixture{repos: repos, app: app, campaign: campaign, code: code, now: now}
}

func outboxEvent(eventType, key string, at time.Time) ports.OutboxEvent {
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: key,
		Payload:      []byte(`{"event_type":"` + eventType + `"}`),
		OccurredAt:   at,
	}
}

func (f fixture) conversionWrite(refereeID string, withReward bool) ports.ConversionWrite {
	referee := refereeID
	converted := f.now
	record := domain.Referral{
		ReferralID:           uuid.NewString(),
		AppID:                f.app.AppID,
		CampaignID:           f.campaign.CampaignID,
		Code:                 f.code.Code,
		ReferrerID:           f.code.ReferrerID,
		RefereeID:            &referee,
		Status:               domain.ReferralStatusConverted,
		RewardAmount:         decimal.NewFromInt(10),
		ConvertedAt:          &converted,
		OriginalReferralCode: f.code.Code,
		CreatedAt:            f.now,
		UpdatedAt:            f.now,
	}
	amount := decimal.NewFromInt(100)
	conversion := domain.Conversion{
		ConversionID: uuid.NewString(),
		AppID:        f.app.AppID,
		ReferralID:   record.ReferralID,
		ReferralCode: f.code.Code,
		RefereeID:    refereeID,
		Amount:       &amount,
		Metadata:     json.RawMessage(`{"order":"o-1"}`),
		CreatedAt:    f.now,
	}
	write := ports.ConversionWrite{
		Referral:          record,
		Conversion:        conversion,
		Outbox:            []ports.OutboxEvent{outboxEvent("referral.converted", f.code.Code, f.now)},
		SingleUse:         f.campaign.ReferralType == domain.ReferralTypeSingleUse,
		FirstTimeUserOnly: f.campaign.FirstTimeUserOnly,
	}
	if withReward {
		write.Reward = &domain.Reward{
			RewardID:     uuid.NewString(),
			AppID:        f.app.AppID,
			CampaignID:   f.campaign.CampaignID,
			ReferralID:   record.ReferralID,
			ConversionID: conversion.ConversionID,
			ReferrerID:   f.code.ReferrerID,
			Amount:       decimal.NewFromInt(10),
			Currency:     "USD",
			Status:       domain.RewardStatusPending,
			Fulfillment:  domain.DiscountFulfillment{},
			CreatedAt:    f.now,
			UpdatedAt:    f.now,
		}
	}
	return write
}

func TestCodeReferralUniquenessAndScoping(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()

	dup := f.code
	dup.ReferralID = uuid.NewString()
	err := f.repos.Referrals.CreateCodeReferral(ctx, dup, nil, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := f.repos.Referrals.GetByCode(ctx, f.app.AppID, f.code.Code)
	require.NoError(t, err)
	assert.Equal(t, f.code.ReferralID, got.ReferralID)
	assert.True(t, got.IsCodeGeneration)

	_, err = f.repos.Referrals.GetByCode(ctx, uuid.NewString(), f.code.Code)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordConversionSingleUse(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeSingleUse)
	ctx := context.Background()

	first := f.conversionWrite("referee-1", true)
	require.NoError(t, f.repos.Referrals.RecordConversion(ctx, first))

	err := f.repos.Referrals.RecordConversion(ctx, f.conversionWrite("referee-2", true))
	assert.ErrorIs(t, err, domain.ErrConflict)

	conversions, err := f.repos.Referrals.ListConversions(ctx, f.app.AppID, f.code.Code)
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.JSONEq(t, `{"order":"o-1"}`, string(conversions[0].Metadata))
	require.NotNil(t, conversions[0].Amount)
	assert.True(t, conversions[0].Amount.Equal(decimal.NewFromInt(100)))

	counts, err := f.repos.Referrals.Counts(ctx, f.app.AppID)
	require.NoError(t, err)
	assert.Equal(t, ports.ReferralCounts{Referrals: 1, Conversions: 1}, counts)
}

func TestRecordConversionFirstTimeUser(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	f.campaign.FirstTimeUserOnly = true
	ctx := context.Background()

	require.NoError(t, f.repos.Referrals.RecordConversion(ctx, f.conversionWrite("referee-1", false)))
	err := f.repos.Referrals.RecordConversion(ctx, f.conversionWrite("referee-1", false))
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, f.repos.Referrals.RecordConversion(ctx, f.conversionWrite("referee-2", false)))
}

func TestRecordConversionRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()

	first := f.conversionWrite("referee-1", true)
	require.NoError(t, f.repos.Referrals.RecordConversion(ctx, first))

	second := f.conversionWrite("referee-2", true)
	second.Reward.ConversionID = first.Conversion.ConversionID
	err := f.repos.Referrals.RecordConversion(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.repos.Referrals.GetByID(ctx, second.Referral.ReferralID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRewardCompareAndSetStatus(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()
	write := f.conversionWrite("referee-1", true)
	require.NoError(t, f.repos.Referrals.RecordConversion(ctx, write))
	rewardID := write.Reward.RewardID

	expires := f.now.AddDate(0, 0, 30)
	ok, err := f.repos.Rewards.CompareAndSetStatus(ctx, rewardID, domain.RewardStatusPending, domain.RewardStatusApproved,
		domain.RewardPatch{Fulfillment: domain.DiscountFulfillment{Code: "RWD-ABCDEFGHJK", ExpiresAt: &expires}}, f.now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.repos.Rewards.CompareAndSetStatus(ctx, rewardID, domain.RewardStatusPending, domain.RewardStatusCancelled, domain.RewardPatch{}, f.now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.repos.Rewards.CompareAndSetStatus(ctx, uuid.NewString(), domain.RewardStatusPending, domain.RewardStatusApproved, domain.RewardPatch{}, f.now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	reward, err := f.repos.Rewards.GetByCode(ctx, "RWD-ABCDEFGHJK")
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusApproved, reward.Status)
	code, gotExpiry, bearing := domain.RedemptionCode(reward.Fulfillment)
	require.True(t, bearing)
	assert.Equal(t, "RWD-ABCDEFGHJK", code)
	require.NotNil(t, gotExpiry)
	assert.True(t, gotExpiry.Equal(expires))

	paidAt := f.now.Add(time.Hour)
	ref := "payout-9"
	ok, err = f.repos.Rewards.CompareAndSetStatus(ctx, rewardID, domain.RewardStatusApproved, domain.RewardStatusPaid,
		domain.RewardPatch{PaidAt: &paidAt, PayoutReference: &ref}, paidAt)
	require.NoError(t, err)
	assert.True(t, ok)

	reward, err = f.repos.Rewards.GetByID(ctx, rewardID)
	require.NoError(t, err)
	assert.Equal(t, "payout-9", reward.PayoutReference)
	require.NotNil(t, reward.PaidAt)

	totals, err := f.repos.Rewards.TotalsByStatus(ctx, f.app.AppID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals[domain.RewardStatusPaid].Count)
	assert.True(t, totals[domain.RewardStatusPaid].Amount.Equal(decimal.NewFromInt(10)))

	listed, err := f.repos.Rewards.List(ctx, ports.RewardFilter{AppID: f.app.AppID, Status: domain.RewardStatusPaid})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestBackfillCandidatesAndCreateIfAbsent(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()
	write := f.conversionWrite("referee-1", false)
	require.NoError(t, f.repos.Referrals.RecordConversion(ctx, write))

	candidates, err := f.repos.Rewards.ListBackfillCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, write.Conversion.ConversionID, candidates[0].Conversion.ConversionID)
	assert.Equal(t, f.campaign.CampaignID, candidates[0].Campaign.CampaignID)

	reward := domain.Reward{
		RewardID:     uuid.NewString(),
		AppID:        f.app.AppID,
		CampaignID:   f.campaign.CampaignID,
		ReferralID:   write.Referral.ReferralID,
		ConversionID: write.Conversion.ConversionID,
		ReferrerID:   f.code.ReferrerID,
		Amount:       decimal.NewFromInt(10),
		Currency:     "USD",
		Status:       domain.RewardStatusPending,
		Fulfillment:  domain.CashFulfillment{},
		CreatedAt:    f.now,
		UpdatedAt:    f.now,
	}
	created, err := f.repos.Rewards.CreateIfAbsent(ctx, reward)
	require.NoError(t, err)
	assert.True(t, created)

	reward.RewardID = uuid.NewString()
	created, err = f.repos.Rewards.CreateIfAbsent(ctx, reward)
	require.NoError(t, err)
	assert.False(t, created)

	candidates, err = f.repos.Rewards.ListBackfillCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFraudSignalCounts(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()
	fp := "fingerprint-1"

	for i := 0; i < 2; i++ {
		click := domain.Click{
			ClickID:           fmt.Sprintf("click-%d", i),
			AppID:             f.app.AppID,
			CampaignID:        f.campaign.CampaignID,
			ReferralCode:      f.code.Code,
			IPAddress:         "10.0.0.1",
			DeviceFingerprint: &fp,
			ClickedAt:         f.now,
		}
		require.NoError(t, f.repos.Clicks.Create(ctx, click, nil))
	}
	other := f.code
	other.ReferralID = uuid.NewString()
	other.Code = "SPRING-XYZ789"
	other.ReferrerID = "user-2"
	other.DeviceFingerprint = &fp
	require.NoError(t, f.repos.Referrals.CreateCodeReferral(ctx, other, nil, nil))

	since := f.now.Add(-time.Hour)
	n, err := f.repos.FraudSignals.CountByIPSince(ctx, f.app.AppID, f.campaign.CampaignID, "10.0.0.1", since)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = f.repos.FraudSignals.CountReferralsByReferrerSince(ctx, f.app.AppID, "user-1", since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.repos.FraudSignals.CountDistinctReferrersByFingerprint(ctx, f.app.AppID, fp)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clicks, err := f.repos.Clicks.CountByCode(ctx, f.app.AppID, f.code.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, clicks)
}

func TestFraudFlagResolveOnce(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()
	flag := domain.FraudFlag{
		FlagID:       uuid.NewString(),
		AppID:        f.app.AppID,
		SubjectType:  domain.FraudSubjectReferral,
		SubjectID:    f.code.ReferralID,
		ReferralCode: f.code.Code,
		RiskScore:    50,
		Reasons:      []string{domain.ReasonSelfReferral},
		CreatedAt:    f.now,
	}
	require.NoError(t, f.repos.FraudFlags.Create(ctx, flag))

	open, err := f.repos.FraudFlags.CountUnresolved(ctx, f.app.AppID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), open)

	resolved, err := f.repos.FraudFlags.Resolve(ctx, flag.FlagID, "partner-1", "legit", f.now)
	require.NoError(t, err)
	assert.True(t, resolved)
	resolved, err = f.repos.FraudFlags.Resolve(ctx, flag.FlagID, "partner-1", "again", f.now)
	require.NoError(t, err)
	assert.False(t, resolved)
	_, err = f.repos.FraudFlags.Resolve(ctx, uuid.NewString(), "partner-1", "", f.now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.repos.FraudFlags.GetByID(ctx, flag.FlagID)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.ReasonSelfReferral}, got.Reasons)
	assert.Equal(t, "legit", got.ResolutionNote)
}

func TestWebhooksAndAppCascade(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()
	hook := domain.Webhook{
		WebhookID: uuid.NewString(),
		AppID:     f.app.AppID,
		URL:       "https://example.com/hook",
		Secret:    "whsec_1",
		Events:    []domain.EventType{domain.EventRewardCreated},
		IsActive:  true,
		CreatedAt: f.now,
	}
	require.NoError(t, f.repos.Webhooks.Create(ctx, hook))

	active, err := f.repos.Webhooks.ListActiveForEvent(ctx, f.app.AppID, domain.EventRewardCreated)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	active, err = f.repos.Webhooks.ListActiveForEvent(ctx, f.app.AppID, domain.EventReferralClicked)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, f.repos.Webhooks.RecordDelivery(ctx, domain.WebhookDelivery{
		DeliveryID: "1", WebhookID: hook.WebhookID, Event: domain.EventRewardCreated,
		StatusCode: 200, Success: true, Attempts: 1, CreatedAt: f.now,
	}))
	deliveries, err := f.repos.Webhooks.ListDeliveries(ctx, hook.WebhookID, 10)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)

	require.NoError(t, f.repos.Apps.Delete(ctx, f.app.AppID))
	_, err = f.repos.Webhooks.GetByID(ctx, hook.WebhookID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.repos.Campaigns.GetByID(ctx, f.campaign.CampaignID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.repos.Apps.Delete(ctx, f.app.AppID), domain.ErrNotFound)
}

func TestAppKeyRotationAndUsage(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()

	require.NoError(t, f.repos.Apps.IncrementUsage(ctx, f.app.AppID))
	require.NoError(t, f.repos.Apps.IncrementUsage(ctx, f.app.AppID))
	newHash := domain.HashAPIKey("rk_live_rotated")
	require.NoError(t, f.repos.Apps.UpdateAPIKey(ctx, f.app.AppID, newHash, "rk_live_rota", f.now))

	app, err := f.repos.Apps.GetByAPIKeyHash(ctx, newHash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), app.UsageCount)
	_, err = f.repos.Apps.GetByAPIKeyHash(ctx, f.app.APIKeyHash)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOutboxClaimLifecycle(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()
	require.NoError(t, f.repos.Outbox.Enqueue(ctx, outboxEvent("reward.created", "RWD", f.now.Add(time.Second))))

	claimed, err := f.repos.Outbox.ClaimUnpublished(ctx, 10, "token-a", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "referral.created", claimed[0].EventType)

	again, err := f.repos.Outbox.ClaimUnpublished(ctx, 10, "token-b", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	assert.ErrorIs(t, f.repos.Outbox.MarkPublished(ctx, claimed[0].OutboxID, "token-b", f.now), domain.ErrNotFound)
	require.NoError(t, f.repos.Outbox.MarkPublished(ctx, claimed[0].OutboxID, "token-a", f.now))
	require.NoError(t, f.repos.Outbox.MarkFailed(ctx, claimed[1].OutboxID, "token-a", "broker down", f.now))

	retry, err := f.repos.Outbox.ClaimUnpublished(ctx, 10, "token-c", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, 1, retry[0].RetryCount)
	require.NoError(t, f.repos.Outbox.MarkDeadLettered(ctx, retry[0].OutboxID, "token-c", "gave up", f.now))

	rest, err := f.repos.Outbox.ClaimUnpublished(ctx, 10, "token-d", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestIdempotencyAndDataMigrations(t *testing.T) {
	f := newFixture(t, domain.ReferralTypeMultiUse)
	ctx := context.Background()

	rec, err := f.repos.Idempotency.Get(ctx, "conv:app:k1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, f.repos.Idempotency.Reserve(ctx, "conv:app:k1", "hash", f.now.Add(time.Hour)))
	assert.ErrorIs(t, f.repos.Idempotency.Reserve(ctx, "conv:app:k1", "hash", f.now.Add(time.Hour)), domain.ErrConflict)
	require.NoError(t, f.repos.Idempotency.Complete(ctx, "conv:app:k1", 201, []byte(`{"ok":true}`), f.now))

	rec, err = f.repos.Idempotency.Get(ctx, "conv:app:k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "COMPLETED", rec.Status)
	assert.Equal(t, 201, rec.ResponseCode)
	assert.JSONEq(t, `{"ok":true}`, string(rec.ResponseBody))

	require.NoError(t, f.repos.Idempotency.Release(ctx, "conv:app:k1"))
	rec, err = f.repos.Idempotency.Get(ctx, "conv:app:k1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	applied, err := f.repos.Migrations.IsApplied(ctx, "reward_backfill_v1")
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, f.repos.Migrations.MarkApplied(ctx, "reward_backfill_v1", f.now))
	require.NoError(t, f.repos.Migrations.MarkApplied(ctx, "reward_backfill_v1", f.now))
	applied, err = f.repos.Migrations.IsApplied(ctx, "reward_backfill_v1")
	require.NoError(t, err)
	assert.True(t, applied)
}
