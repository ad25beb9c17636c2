package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/referral-platform/internal/adapters/memory"
	"github.com/viralforge/referral-platform/internal/adapters/security"
	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	conn *grpc.ClientConn
	svc  *application.Service
	app  domain.App
	code string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	signer, err := security.NewEphemeralJWTSigner("test")
	require.NoError(t, err)
	repos := memory.NewRepositories()
	svc := application.NewService(application.Dependencies{
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
		Hasher:       security.NewBcryptHasher(bcrypt.MinCost),
		TokenSigner:  signer,
	})

	partner, err := svc.CreatePartner(ctx, application.CreatePartnerInput{Email: "ops@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	actor := application.Actor{PartnerID: partner.PartnerID, Email: partner.Email, Role: partner.Role}
	creds, err := svc.CreateApp(ctx, actor, application.CreateAppInput{Name: "shop"})
	require.NoError(t, err)
	campaign, err := svc.CreateCampaign(ctx, actor, creds.App.AppID, application.CreateCampaignInput{
		Name:        "spring",
		RewardModel: "FIXED_CURRENCY",
		RewardValue: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	ref, err := svc.CreateReferral(ctx, creds.App, application.CreateReferralInput{CampaignID: campaign.CampaignID, ReferrerID: "user-1"})
	require.NoError(t, err)
	_, err = svc.RecordClick(ctx, creds.App, application.RecordClickInput{ReferralCode: ref.ReferralCode})
	require.NoError(t, err)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	Register(server, NewReferralInternalServer(svc))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return testEnv{conn: conn, svc: svc, app: creds.App, code: ref.ReferralCode}
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	resp := &structpb.Struct{}
	err = conn.Invoke(context.Background(), "/"+serviceName+"/"+method, req, resp)
	return resp, err
}

func TestScoreEventFlagsSelfReferral(t *testing.T) {
	env := newTestEnv(t)

	resp, err := invoke(t, env.conn, "ScoreEvent", map[string]any{
		"app_id":      env.app.AppID,
		"subject":     "conversion",
		"referrer_id": "user-1",
		"referee_id":  "user-1",
	})
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["is_fraud"].GetBoolValue())
	assert.Equal(t, float64(100), resp.GetFields()["risk_score"].GetNumberValue())
	reasons := resp.GetFields()["reasons"].GetListValue().AsSlice()
	assert.Contains(t, reasons, domain.ReasonSelfReferral)

	resp, err = invoke(t, env.conn, "ScoreEvent", map[string]any{
		"app_id":      env.app.AppID,
		"referrer_id": "user-1",
		"referee_id":  "user-2",
	})
	require.NoError(t, err)
	assert.False(t, resp.GetFields()["is_fraud"].GetBoolValue())
}

func TestScoreEventValidatesInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := invoke(t, env.conn, "ScoreEvent", map[string]any{"subject": "REFERRAL"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, env.conn, "ScoreEvent", map[string]any{"app_id": env.app.AppID, "subject": "PAYOUT"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetReferralStatusDerivesFromClicks(t *testing.T) {
	env := newTestEnv(t)

	resp, err := invoke(t, env.conn, "GetReferralStatus", map[string]any{
		"app_id":        env.app.AppID,
		"referral_code": env.code,
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.ReferralStatusClicked), resp.GetFields()["status"].GetStringValue())
	assert.Equal(t, float64(1), resp.GetFields()["click_count"].GetNumberValue())
	assert.Equal(t, float64(0), resp.GetFields()["conversions"].GetNumberValue())

	_, err = invoke(t, env.conn, "GetReferralStatus", map[string]any{
		"app_id":        env.app.AppID,
		"referral_code": "NOPE-000000",
	})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(t, env.conn, "GetReferralStatus", map[string]any{"app_id": env.app.AppID})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthCheckServing(t *testing.T) {
	env := newTestEnv(t)

	resp, err := grpc_health_v1.NewHealthClient(env.conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}
