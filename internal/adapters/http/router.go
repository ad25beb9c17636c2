package http

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/referral-platform/internal/application"
)

// Handler is the HTTP adapter entrypoint for the referral use-cases.
type Handler struct {
	service *application.Service
	jwks    func() []map[string]any
	ready   func(context.Context) error
	proxies []netip.Prefix
}

type HandlerOption func(*Handler)

// WithJWKS publishes the session verification keys at /partner/v1/.well-known/jwks.json.
func WithJWKS(keys func() []map[string]any) HandlerOption {
	return func(h *Handler) { h.jwks = keys }
}

// WithReadiness makes /readyz report the given dependency probe.
func WithReadiness(probe func(context.Context) error) HandlerOption {
	return func(h *Handler) { h.ready = probe }
}

// WithTrustedProxies lets X-Forwarded-For name the client IP when the direct peer is
// one of the given networks.
func WithTrustedProxies(prefixes []netip.Prefix) HandlerOption {
	return func(h *Handler) { h.proxies = prefixes }
}

func NewHandler(service *application.Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type RouterConfig struct {
	CORSOrigins        []string
	RateLimitPerSecond float64
	Metrics            http.Handler
	Observer           HTTPObserver
}

// NewRouter registers the public API-key routes, the partner and admin session routes
// and the ops endpoints.
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(loggingMiddleware(cfg.Observer))

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(cfg.RateLimitPerSecond))
		r.Use(handler.apiKeyMiddleware)
		r.Post("/referrals", handler.createReferral)
		r.Get("/referrals/{code}", handler.getReferralByCode)
		r.Post("/clicks", handler.recordClick)
		r.Post("/conversions", handler.recordConversion)
		r.Get("/stats", handler.stats)
		r.Get("/rewards", handler.listRewards)
		r.Post("/rewards", handler.transitionReward)
		r.Post("/rewards/redeem", handler.redeemReward)
		r.Get("/rewards/validate", handler.validateReward)
	})

	r.Route("/partner/v1", func(r chi.Router) {
		r.Post("/sessions", handler.login)
		r.Get("/.well-known/jwks.json", handler.jwksKeys)

		r.Group(func(r chi.Router) {
			r.Use(handler.partnerAuthMiddleware)
			r.Post("/apps", handler.createApp)
			r.Get("/apps", handler.listApps)
			r.Get("/apps/{app_id}", handler.getApp)
			r.Delete("/apps/{app_id}", handler.deleteApp)
			r.Post("/apps/{app_id}/api-key", handler.rotateAPIKey)
			r.Get("/apps/{app_id}/stats", handler.appStats)
			r.Post("/apps/{app_id}/campaigns", handler.createCampaign)
			r.Get("/apps/{app_id}/campaigns", handler.listCampaigns)
			r.Patch("/campaigns/{campaign_id}", handler.updateCampaignStatus)
			r.Get("/apps/{app_id}/referrals", handler.listReferrals)
			r.Get("/referrals/{referral_id}", handler.getReferral)
			r.Get("/apps/{app_id}/rewards", handler.listAppRewards)
			r.Post("/rewards/{reward_id}/status", handler.partnerTransitionReward)
			r.Get("/apps/{app_id}/fraud-flags", handler.listFraudFlags)
			r.Post("/fraud-flags/{flag_id}/resolve", handler.resolveFraudFlag)
			r.Post("/apps/{app_id}/webhooks", handler.createWebhook)
			r.Get("/apps/{app_id}/webhooks", handler.listWebhooks)
			r.Delete("/webhooks/{webhook_id}", handler.deleteWebhook)
			r.Get("/webhooks/{webhook_id}/deliveries", handler.listWebhookDeliveries)
		})
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(handler.partnerAuthMiddleware)
		r.Get("/fraud-flags", handler.adminListFraudFlags)
		r.Patch("/apps/{app_id}/status", handler.adminSetAppStatus)
	})

	return r
}
