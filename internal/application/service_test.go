package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/referral-platform/internal/adapters/memory"
	"github.com/viralforge/referral-platform/internal/adapters/security"
	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (e *recordingEmitter) Emit(evt domain.LifecycleEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) count(t domain.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Type == t {
			n++
		}
	}
	return n
}

type fakeUsage struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (u *fakeUsage) Increment(_ context.Context, appID, period string) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return 0, u.err
	}
	u.counts[appID+":"+period]++
	return u.counts[appID+":"+period], nil
}

func (u *fakeUsage) Get(_ context.Context, appID, period string) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[appID+":"+period], u.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *application.Service
	repos  *memory.Repositories
	events *recordingEmitter
	usage  *fakeUsage
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memory.NewRepositories()
	f := &fixture{
		repos:  repos,
		events: &recordingEmitter{},
		usage:  &fakeUsage{counts: map[string]int64{}},
		clock:  &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
	}
	signer, err := security.NewEphemeralJWTSigner("test", security.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.svc = application.NewService(application.Dependencies{
		Partners:     repos.Partners,
		Apps:         repos.Apps,
		Campaigns:    repos.Campaigns,
		Referrals:    repos.Referrals,
		Clicks:       repos.Clicks,
		Rewards:      repos.Rewards,
		FraudFlags:   repos.FraudFlags,
		FraudSignals: repos.FraudSignals,
		Webhooks:     repos.Webhooks,
		Outbox:       repos.Outbox,
		Idempotency:  repos.Idempotency,
		Migrations:   repos.Migrations,
		Usage:        f.usage,
		Events:       f.events,
		Hasher:       security.NewBcryptHasher(bcrypt.MinCost),
		TokenSigner:  signer,
		Clock:        f.clock.Now,
	})
	return f
}

func (f *fixture) partner(t *testing.T, email string) application.Actor {
	t.Helper()
	p, err := f.svc.CreatePartner(context.Background(), application.CreatePartnerInput{Email: email, Password: "s3cret-pass"})
	require.NoError(t, err)
	return application.Actor{PartnerID: p.PartnerID, Email: p.Email, Role: p.Role}
}

func (f *fixture) app(t *testing.T, actor application.Actor, limit int64) domain.App {
	t.Helper()
	creds, err := f.svc.CreateApp(context.Background(), actor, application.CreateAppInput{Name: "shop", MonthlyLimit: limit})
	require.NoError(t, err)
	return creds.App
}

func (f *fixture) campaign(t *testing.T, actor application.Actor, appID string, in application.CreateCampaignInput) domain.Campaign {
	t.Helper()
	if in.Name == "" {
		in.Name = "spring"
	}
	if in.RewardModel == "" {
		in.RewardModel = "FIXED_CURRENCY"
		in.RewardValue = decimal.NewFromInt(15)
	}
	c, err := f.svc.CreateCampaign(context.Background(), actor, appID, in)
	require.NoError(t, err)
	return c
}

func (f *fixture) referral(t *testing.T, app domain.App, campaignID, referrerID string) application.CreateReferralResult {
	t.Helper()
	res, err := f.svc.CreateReferral(context.Background(), app, application.CreateReferralInput{CampaignID: campaignID, ReferrerID: referrerID})
	require.NoError(t, err)
	return res
}

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestConversionComputesCappedPercentageReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	capValue := decimal.NewFromInt(20)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{
		RewardModel: "PERCENTAGE",
		RewardValue: decimal.NewFromInt(10),
		RewardCap:   &capValue,
	})
	ref := f.referral(t, app, campaign.CampaignID, "alice")

	res, err := f.svc.RecordConversion(ctx, app, application.RecordConversionInput{
		ReferralCode: ref.ReferralCode,
		RefereeID:    "bob",
		Amount:       amount(500),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStatusConverted, res.Status)
	assert.True(t, res.RewardAmount.Equal(decimal.NewFromInt(20)))
	require.NotEmpty(t, res.RewardID)

	reward, err := f.repos.Rewards.GetByID(ctx, res.RewardID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPending, reward.Status)
	assert.Equal(t, "alice", reward.ReferrerID)
	assert.Equal(t, 1, f.events.count(domain.EventReferralConverted))
	assert.Equal(t, 1, f.events.count(domain.EventRewardCreated))
	assert.NotEmpty(t, f.repos.Outbox.Pending())
}

func TestZeroRewardCreatesNoRewardRow(t *testing.T) {
	f := newFixture(t)
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{
		RewardModel: "PERCENTAGE",
		RewardValue: decimal.NewFromInt(10),
	})
	ref := f.referral(t, app, campaign.CampaignID, "alice")

	res, err := f.svc.RecordConversion(context.Background(), app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, res.RewardID)
	assert.True(t, res.RewardAmount.IsZero())
	assert.Zero(t, f.events.count(domain.EventRewardCreated))
}

func TestRewardStateMachineAndRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{
		RewardModel:      "FIXED_CURRENCY",
		RewardValue:      decimal.NewFromInt(15),
		FulfillmentType:  "COUPON_CODE",
		RewardExpiryDays: 30,
	})
	ref := f.referral(t, app, campaign.CampaignID, "alice")
	conv, err := f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "bob", Amount: amount(99)})
	require.NoError(t, err)

	validation, err := f.svc.ValidateRewardCode(ctx, app, "RWD-NOPE")
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Equal(t, application.ValidationReasonNotFound, validation.Reason)

	approved, err := f.svc.TransitionReward(ctx, owner, application.TransitionRewardInput{RewardID: conv.RewardID, Status: "APPROVED"})
	require.NoError(t, err)
	code, expiresAt, ok := domain.RedemptionCode(approved.Fulfillment)
	require.True(t, ok)
	assert.Regexp(t, `^RWD-[A-Z2-9]{10}$`, code)
	require.NotNil(t, expiresAt)
	assert.True(t, expiresAt.Equal(f.clock.Now().AddDate(0, 0, 30)))

	validation, err = f.svc.ValidateRewardCode(ctx, app, code)
	require.NoError(t, err)
	assert.True(t, validation.Valid)

	paid, err := f.svc.RedeemReward(ctx, app, code)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)
	assert.Equal(t, 1, f.events.count(domain.EventRewardRedeemed))

	_, err = f.svc.RedeemReward(ctx, app, code)
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)

	_, err = f.svc.TransitionAppReward(ctx, app, application.TransitionRewardInput{RewardID: conv.RewardID, Status: "CANCELLED"})
	var transitionErr *domain.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "PAID", transitionErr.From)
	assert.Equal(t, "CANCELLED", transitionErr.To)

	stored, err := f.repos.Rewards.GetByID(ctx, conv.RewardID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPaid, stored.Status)
}

func TestRedeemExpiredCodeFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{
		RewardModel:      "FIXED_CURRENCY",
		RewardValue:      decimal.NewFromInt(5),
		FulfillmentType:  "IN_APP_DISCOUNT",
		RewardExpiryDays: 1,
	})
	ref := f.referral(t, app, campaign.CampaignID, "alice")
	conv, err := f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "bob"})
	require.NoError(t, err)
	approved, err := f.svc.TransitionAppReward(ctx, app, application.TransitionRewardInput{RewardID: conv.RewardID, Status: "APPROVED"})
	require.NoError(t, err)
	code, _, _ := domain.RedemptionCode(approved.Fulfillment)

	f.clock.Advance(48 * time.Hour)
	validation, err := f.svc.ValidateRewardCode(ctx, app, code)
	require.NoError(t, err)
	assert.Equal(t, application.ValidationReasonExpired, validation.Reason)
	_, err = f.svc.RedeemReward(ctx, app, code)
	assert.ErrorIs(t, err, domain.ErrRewardExpired)
}

func TestPaidTransitionStampsPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	ref := f.referral(t, app, campaign.CampaignID, "alice")
	conv, err := f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "bob"})
	require.NoError(t, err)

	paid, err := f.svc.TransitionAppReward(ctx, app, application.TransitionRewardInput{RewardID: conv.RewardID, Status: "paid", PayoutReference: "po_123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPaid, paid.Status)
	assert.Equal(t, "po_123", paid.PayoutReference)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, 1, f.events.count(domain.EventRewardStatusChanged))
}

func TestSelfReferralIsFlagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	self := "alice"

	res, err := f.svc.CreateReferral(ctx, app, application.CreateReferralInput{CampaignID: campaign.CampaignID, ReferrerID: "alice", RefereeID: &self})
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStatusFlagged, res.Status)
	assert.NotEmpty(t, res.Warning)
	assert.True(t, res.Fraud.IsFraud)
	assert.Contains(t, res.Fraud.Reasons, domain.ReasonSelfReferral)

	flags, err := f.svc.ListFraudFlags(ctx, owner, app.AppID, true, 10)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, domain.FraudSubjectReferral, flags[0].SubjectType)
	assert.Equal(t, 1, f.events.count(domain.EventFraudFlagged))

	resolved, err := f.svc.ResolveFraudFlag(ctx, owner, flags[0].FlagID, "false positive")
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	_, err = f.svc.ResolveFraudFlag(ctx, owner, flags[0].FlagID, "again")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestFlaggedConversionKeepsRewardPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	ref := f.referral(t, app, campaign.CampaignID, "alice")

	res, err := f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStatusFlagged, res.Status)

	view, err := f.svc.GetReferralByCode(ctx, app, ref.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStatusFlagged, view.DerivedStatus)

	reward, err := f.repos.Rewards.GetByID(ctx, res.RewardID)
	require.NoError(t, err)
	assert.Equal(t, domain.RewardStatusPending, reward.Status)
}

type failingSignals struct{}

func (failingSignals) CountByIPSince(context.Context, string, string, string, time.Time) (int, error) {
	return 0, errors.New("db down")
}

func (failingSignals) CountReferralsByReferrerSince(context.Context, string, string, time.Time) (int, error) {
	return 0, errors.New("db down")
}

func (failingSignals) CountDistinctReferrersByFingerprint(context.Context, string, string) (int, error) {
	return 0, errors.New("db down")
}

func TestScorerDegradesToNotFraudOnLookupError(t *testing.T) {
	scorer := application.NewFraudScorer(failingSignals{}, domain.DefaultFraudPolicy(), nil, nil, nil)
	self := "alice"
	result := scorer.Score(context.Background(), application.FraudInput{
		Subject:    domain.FraudSubjectReferral,
		AppID:      "app",
		ReferrerID: "alice",
		RefereeID:  &self,
		Meta:       application.RequestMeta{IPAddress: "10.0.0.1", UserAgent: "ua"},
	})
	assert.False(t, result.IsFraud)
	assert.Zero(t, result.RiskScore)
	assert.Empty(t, result.Reasons)
}

func TestDuplicateIPAcrossReferralsAndClicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	meta := application.RequestMeta{IPAddress: "203.0.113.9"}

	res, err := f.svc.CreateReferral(ctx, app, application.CreateReferralInput{CampaignID: campaign.CampaignID, ReferrerID: "alice", Meta: meta})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		click, err := f.svc.RecordClick(ctx, app, application.RecordClickInput{ReferralCode: res.ReferralCode, Meta: meta})
		require.NoError(t, err)
		assert.False(t, click.Flagged)
	}

	scored := f.svc.Scorer().Score(ctx, application.FraudInput{
		Subject:    domain.FraudSubjectClick,
		AppID:      app.AppID,
		CampaignID: campaign.CampaignID,
		ReferrerID: "alice",
		Meta:       meta,
	})
	assert.Contains(t, scored.Reasons, domain.ReasonDuplicateIP)
	assert.Equal(t, 30, scored.RiskScore)
	assert.False(t, scored.IsFraud)
}

func TestDerivedReferralStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	ref := f.referral(t, app, campaign.CampaignID, "alice")

	view, err := f.svc.GetReferralByCode(ctx, app, ref.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStatusPending, view.DerivedStatus)

	_, err = f.svc.RecordClick(ctx, app, application.RecordClickInput{ReferralCode: ref.ReferralCode})
	require.NoError(t, err)
	view, err = f.svc.GetReferralByCode(ctx, app, ref.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStatusClicked, view.DerivedStatus)
	assert.Equal(t, 1, view.ClickCount)

	_, err = f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "bob"})
	require.NoError(t, err)
	view, err = f.svc.GetReferralByCode(ctx, app, ref.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStatusConverted, view.DerivedStatus)
	assert.Equal(t, domain.ReferralStatusPending, view.Referral.Status)
}

func TestCrossTenantAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.partner(t, "alice@example.com")
	mallory := f.partner(t, "mallory@example.com")
	aliceApp := f.app(t, alice, 0)
	malloryApp := f.app(t, mallory, 0)
	campaign := f.campaign(t, alice, aliceApp.AppID, application.CreateCampaignInput{})
	ref := f.referral(t, aliceApp, campaign.CampaignID, "u1")

	_, err := f.svc.GetApp(ctx, mallory, aliceApp.AppID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.ListCampaigns(ctx, mallory, aliceApp.AppID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.UpdateCampaignStatus(ctx, mallory, campaign.CampaignID, "INACTIVE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetReferral(ctx, mallory, ref.ReferralID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.CreateReferral(ctx, malloryApp, application.CreateReferralInput{CampaignID: campaign.CampaignID, ReferrerID: "u2"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.GetReferralByCode(ctx, malloryApp, ref.ReferralCode)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.RecordClick(ctx, malloryApp, application.RecordClickInput{ReferralCode: ref.ReferralCode})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	admin := application.Actor{PartnerID: "root", Role: domain.RoleAdmin}
	got, err := f.svc.GetApp(ctx, admin, aliceApp.AppID)
	require.NoError(t, err)
	assert.Equal(t, aliceApp.AppID, got.AppID)
}

func TestCreateReferralCampaignChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{Status: "INACTIVE"})

	_, err := f.svc.CreateReferral(ctx, app, application.CreateReferralInput{CampaignID: campaign.CampaignID, ReferrerID: "alice"})
	assert.ErrorIs(t, err, domain.ErrCampaignNotActive)
	_, err = f.svc.CreateReferral(ctx, app, application.CreateReferralInput{CampaignID: "missing", ReferrerID: "alice"})
	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
	_, err = f.svc.CreateReferral(ctx, app, application.CreateReferralInput{CampaignID: campaign.CampaignID})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReferralCodeUsesCampaignPolicy(t *testing.T) {
	f := newFixture(t)
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{CodePrefix: "spring", CodeSegment: "EMAIL_PREFIX"})

	res, err := f.svc.CreateReferral(context.Background(), app, application.CreateReferralInput{
		CampaignID:    campaign.CampaignID,
		ReferrerID:    "alice",
		ReferrerEmail: "jane.doe@example.com",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^SPRING-JANEDOE-[A-Z2-9]{6}$`, res.ReferralCode)
}

func TestSingleUseAndFirstTimeUserRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)

	single := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{ReferralType: "SINGLE_USE"})
	ref := f.referral(t, app, single.CampaignID, "alice")
	_, err := f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "bob"})
	require.NoError(t, err)
	_, err = f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "carol"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	firstTime := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{FirstTimeUserOnly: true})
	ref2 := f.referral(t, app, firstTime.CampaignID, "dave")
	_, err = f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref2.ReferralCode, RefereeID: "bob"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref2.ReferralCode, RefereeID: "erin"})
	assert.NoError(t, err)
}

func TestConversionIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	ref := f.referral(t, app, campaign.CampaignID, "alice")

	in := application.RecordConversionInput{ReferralCode: ref.ReferralCode, RefereeID: "bob", Amount: amount(10), IdempotencyKey: "order-1"}
	first, err := f.svc.RecordConversion(ctx, app, in)
	require.NoError(t, err)
	second, err := f.svc.RecordConversion(ctx, app, in)
	require.NoError(t, err)
	assert.Equal(t, first.ConversionID, second.ConversionID)
	assert.Equal(t, first.RewardID, second.RewardID)
	assert.Equal(t, 1, f.events.count(domain.EventReferralConverted))

	in.RefereeID = "carol"
	_, err = f.svc.RecordConversion(ctx, app, in)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestFailedConversionReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)

	in := application.RecordConversionInput{ReferralCode: "MISSING1", RefereeID: "bob", IdempotencyKey: "k"}
	_, err := f.svc.RecordConversion(ctx, app, in)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.RecordConversion(ctx, app, in)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackfillRewardsRunsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	now := f.clock.Now()
	referee := "bob"
	f.repos.Rewards.SeedConversion(domain.Referral{
		ReferralID:           "legacy-ref",
		AppID:                app.AppID,
		CampaignID:           campaign.CampaignID,
		Code:                 "LEGACY01",
		ReferrerID:           "alice",
		RefereeID:            &referee,
		Status:               domain.ReferralStatusConverted,
		RewardAmount:         decimal.NewFromInt(15),
		ConvertedAt:          &now,
		OriginalReferralCode: "LEGACY01",
		CreatedAt:            now,
	}, domain.Conversion{
		ConversionID: "legacy-conv",
		AppID:        app.AppID,
		ReferralID:   "legacy-ref",
		ReferralCode: "LEGACY01",
		RefereeID:    referee,
		CreatedAt:    now,
	})

	first, err := f.svc.BackfillRewards(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)

	second, err := f.svc.BackfillRewards(ctx, false)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Zero(t, second.Created)

	forced, err := f.svc.BackfillRewards(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, forced.Created)

	rewards, err := f.svc.ListRewards(ctx, app, application.RewardQuery{})
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, "legacy-conv", rewards[0].ConversionID)
	assert.Equal(t, domain.RewardStatusPending, rewards[0].Status)
}

func TestUsageLimitEmitsEventOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 2)

	require.NoError(t, f.svc.TrackUsage(ctx, app))
	require.NoError(t, f.svc.TrackUsage(ctx, app))
	assert.ErrorIs(t, f.svc.TrackUsage(ctx, app), domain.ErrUsageLimitExceeded)
	assert.ErrorIs(t, f.svc.TrackUsage(ctx, app), domain.ErrUsageLimitExceeded)
	assert.Equal(t, 1, f.events.count(domain.EventUsageLimitExceeded))

	stored, err := f.repos.Apps.GetByID(ctx, app.AppID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stored.UsageCount)
}

func TestUsageCounterOutageDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 1)
	f.usage.err = errors.New("redis down")
	assert.NoError(t, f.svc.TrackUsage(context.Background(), app))
}

func TestAPIKeyAuthenticationAndRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	creds, err := f.svc.CreateApp(ctx, owner, application.CreateAppInput{Name: "shop"})
	require.NoError(t, err)

	app, err := f.svc.AuthenticateAPIKey(ctx, creds.APIKey)
	require.NoError(t, err)
	assert.Equal(t, creds.App.AppID, app.AppID)

	_, err = f.svc.AuthenticateAPIKey(ctx, "rk_live_unknown")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	rotated, err := f.svc.RotateAPIKey(ctx, owner, app.AppID)
	require.NoError(t, err)
	_, err = f.svc.AuthenticateAPIKey(ctx, creds.APIKey)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.AuthenticateAPIKey(ctx, rotated.APIKey)
	require.NoError(t, err)

	_, err = f.svc.SetAppStatus(ctx, owner, app.AppID, "SUSPENDED")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	admin := application.Actor{PartnerID: "root", Role: domain.RoleAdmin}
	_, err = f.svc.SetAppStatus(ctx, admin, app.AppID, "SUSPENDED")
	require.NoError(t, err)
	_, err = f.svc.AuthenticateAPIKey(ctx, rotated.APIKey)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLoginIssuesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.partner(t, "Owner@Example.com")

	_, err := f.svc.Login(ctx, application.LoginInput{Email: "owner@example.com", Password: "wrong-pass"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	session, err := f.svc.Login(ctx, application.LoginInput{Email: "owner@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)

	actor, err := f.svc.ValidateSession(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.PartnerID, actor.PartnerID)
	assert.Equal(t, domain.RolePartner, actor.Role)

	f.clock.Advance(13 * time.Hour)
	_, err = f.svc.ValidateSession(ctx, session.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.CreatePartner(ctx, application.CreatePartnerInput{Email: "owner@example.com", Password: "another-pass"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.svc.CreatePartner(ctx, application.CreatePartnerInput{Email: "x@example.com", Password: "short"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStatsAggregatesApp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 100)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	ref1 := f.referral(t, app, campaign.CampaignID, "alice")
	f.referral(t, app, campaign.CampaignID, "carol")
	_, err := f.svc.RecordClick(ctx, app, application.RecordClickInput{ReferralCode: ref1.ReferralCode})
	require.NoError(t, err)
	_, err = f.svc.RecordConversion(ctx, app, application.RecordConversionInput{ReferralCode: ref1.ReferralCode, RefereeID: "bob"})
	require.NoError(t, err)
	require.NoError(t, f.svc.TrackUsage(ctx, app))

	stats, err := f.svc.GetAppStats(ctx, owner, app.AppID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Referrals)
	assert.EqualValues(t, 1, stats.Clicks)
	assert.EqualValues(t, 1, stats.Conversions)
	assert.InDelta(t, 0.5, stats.ConversionRate, 0.0001)
	assert.EqualValues(t, 1, stats.RewardsByStatus[domain.RewardStatusPending].Count)
	assert.True(t, stats.RewardsByStatus[domain.RewardStatusPending].Amount.Equal(decimal.NewFromInt(15)))
	assert.EqualValues(t, 1, stats.MonthlyUsage)
	assert.EqualValues(t, 100, stats.MonthlyLimit)
}

func TestWebhookManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	other := f.partner(t, "other@example.com")
	app := f.app(t, owner, 0)

	_, err := f.svc.CreateWebhook(ctx, owner, app.AppID, application.CreateWebhookInput{URL: "ftp://nope", Events: []string{"REFERRAL_CREATED"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.CreateWebhook(ctx, owner, app.AppID, application.CreateWebhookInput{URL: "https://hooks.example.com", Events: []string{"NOPE"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	hook, err := f.svc.CreateWebhook(ctx, owner, app.AppID, application.CreateWebhookInput{URL: "https://hooks.example.com", Events: []string{"referral_created", "REFERRAL_CREATED"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventReferralCreated}, hook.Events)
	assert.Regexp(t, `^whsec_[0-9a-f]{48}$`, hook.Secret)

	err = f.svc.DeleteWebhook(ctx, other, hook.WebhookID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, f.svc.DeleteWebhook(ctx, owner, hook.WebhookID))
	hooks, err := f.svc.ListWebhooks(ctx, owner, app.AppID)
	require.NoError(t, err)
	assert.Empty(t, hooks)
}

func TestHandleConversionRequestedReplaysDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.partner(t, "owner@example.com")
	app := f.app(t, owner, 0)
	campaign := f.campaign(t, owner, app.AppID, application.CreateCampaignInput{})
	ref := f.referral(t, app, campaign.CampaignID, "alice")

	payload := []byte(`{"event_id":"evt-1","event_type":"referral.conversion_requested","data":{"app_id":"` +
		app.AppID + `","referral_code":"` + ref.ReferralCode + `","referee_id":"bob","amount":"42.50"}}`)
	require.NoError(t, f.svc.HandleConversionRequested(ctx, payload))
	require.NoError(t, f.svc.HandleConversionRequested(ctx, payload))
	assert.Equal(t, 1, f.events.count(domain.EventReferralConverted))

	err := f.svc.HandleConversionRequested(ctx, []byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
