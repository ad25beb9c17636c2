package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/domain"
)

const serviceName = "referral.v1.ReferralInternalService"

type ReferralInternalService interface {
	ScoreEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReferralStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type ReferralInternalServer struct {
	grpc_health_v1.UnimplementedHealthServer
	service *application.Service
}

func NewReferralInternalServer(service *application.Service) *ReferralInternalServer {
	return &ReferralInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc *ReferralInternalServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ReferralInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ScoreEvent",
				Handler:    unaryHandler("ScoreEvent", svc.ScoreEvent),
			},
			{
				MethodName: "GetReferralStatus",
				Handler:    unaryHandler("GetReferralStatus", svc.GetReferralStatus),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "contracts/proto/referral/v1/referral_internal.proto",
	}, svc)
	grpc_health_v1.RegisterHealthServer(server, svc)
}

// ScoreEvent runs the fraud scorer without recording anything.
func (s *ReferralInternalServer) ScoreEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	appID := stringField(fields, "app_id")
	if appID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing app_id")
	}
	subject, err := parseSubject(stringField(fields, "subject"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	in := application.FraudInput{
		Subject:      subject,
		AppID:        appID,
		CampaignID:   stringField(fields, "campaign_id"),
		ReferralCode: stringField(fields, "referral_code"),
		ReferrerID:   stringField(fields, "referrer_id"),
		Meta: application.RequestMeta{
			IPAddress:      stringField(fields, "ip_address"),
			UserAgent:      stringField(fields, "user_agent"),
			AcceptLanguage: stringField(fields, "accept_language"),
		},
	}
	if referee := stringField(fields, "referee_id"); referee != "" {
		in.RefereeID = &referee
	}

	result := s.service.Scorer().Score(ctx, in)
	reasons := make([]any, 0, len(result.Reasons))
	for _, reason := range result.Reasons {
		reasons = append(reasons, reason)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"is_fraud":   result.IsFraud,
		"risk_score": result.RiskScore,
		"reasons":    reasons,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// GetReferralStatus returns the derived status of a referral code within an app.
func (s *ReferralInternalServer) GetReferralStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	appID := stringField(fields, "app_id")
	code := stringField(fields, "referral_code")
	if appID == "" || code == "" {
		return nil, status.Error(codes.InvalidArgument, "missing app_id or referral_code")
	}

	view, err := s.service.ReferralStatusByCode(ctx, appID, code)
	if err != nil {
		return nil, statusFromError(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"referral_code": view.Referral.Code,
		"campaign_id":   view.Referral.CampaignID,
		"referrer_id":   view.Referral.ReferrerID,
		"status":        string(view.DerivedStatus),
		"click_count":   view.ClickCount,
		"conversions":   len(view.Conversions),
		"created_at":    view.Referral.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *ReferralInternalServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (s *ReferralInternalServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING})
}

type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func stringField(fields map[string]*structpb.Value, key string) string {
	v := fields[key]
	if v == nil {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func parseSubject(raw string) (domain.FraudSubject, error) {
	switch subject := domain.FraudSubject(strings.ToUpper(raw)); subject {
	case "":
		return domain.FraudSubjectReferral, nil
	case domain.FraudSubjectReferral, domain.FraudSubjectClick, domain.FraudSubjectConversion:
		return subject, nil
	default:
		return "", errors.New("subject must be REFERRAL, CLICK or CONVERSION")
	}
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "referral not found")
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
