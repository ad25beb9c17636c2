package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/domain"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyApp       ctxKey = "api_app"
	ctxKeyActor     ctxKey = "partner_actor"
)

// HTTPObserver records request outcomes, keyed by route pattern.
type HTTPObserver interface {
	ObserveHTTP(route, method string, status int, elapsed time.Duration)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				httpLogger().ErrorContext(r.Context(), "panic recovered",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"request_id", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

func loggingMiddleware(observer HTTPObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)

			statusCode := recorder.statusCode
			if statusCode == 0 {
				statusCode = http.StatusOK
			}
			elapsed := time.Since(start)
			if observer != nil {
				observer.ObserveHTTP(routePattern(r), r.Method, statusCode, elapsed)
			}
			outcome := "success"
			if statusCode >= 400 {
				outcome = "failure"
			}

			fields := []any{
				"operation", "http_request",
				"outcome", outcome,
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", statusCode,
				"bytes", recorder.bytes,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", requestIDFromContext(r.Context()),
			}
			switch {
			case statusCode >= 500:
				httpLogger().ErrorContext(r.Context(), "http request completed", fields...)
			case statusCode >= 400:
				httpLogger().WarnContext(r.Context(), "http request completed", fields...)
			default:
				httpLogger().InfoContext(r.Context(), "http request completed", fields...)
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed = append(allowed, origin)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		MaxAge:           300,
		AllowCredentials: false,
	}).Handler
}

// rateLimitMiddleware throttles per client IP. A non-positive rate disables it.
func rateLimitMiddleware(perSecond float64) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	lmt := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookups([]string{"RemoteAddr"})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpErr := tollbooth.LimitByRequest(lmt, w, r); httpErr != nil {
				logHTTPOperationError(r.Context(), "rate_limit", http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyMiddleware authenticates the tenant app and counts the request against its
// monthly allowance.
func (h *Handler) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app, err := h.service.AuthenticateAPIKey(r.Context(), apiKeyFromRequest(r))
		if err != nil {
			writeMappedError(r.Context(), w, "api_key_auth", err)
			return
		}
		if err := h.service.TrackUsage(r.Context(), app); err != nil {
			writeMappedError(r.Context(), w, "track_usage", err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyApp, app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) partnerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeMissingBearerError(r.Context(), w, "partner_auth")
			return
		}
		actor, err := h.service.ValidateSession(r.Context(), raw)
		if err != nil {
			writeMappedError(r.Context(), w, "partner_auth", err)
			return
		}
		actor.RequestID = requestIDFromContext(r.Context())
		ctx := context.WithValue(r.Context(), ctxKeyActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func apiKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if token, err := bearerTokenFromHeader(r.Header.Get("Authorization")); err == nil && domain.LooksLikeAPIKey(token) {
		return token
	}
	return ""
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(ctxKeyRequestID)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func appFromContext(ctx context.Context) (domain.App, bool) {
	app, ok := ctx.Value(ctxKeyApp).(domain.App)
	return app, ok
}

func actorFromContext(ctx context.Context) (application.Actor, bool) {
	actor, ok := ctx.Value(ctxKeyActor).(application.Actor)
	return actor, ok
}

func bearerTokenFromHeader(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "access denied"
	case errors.Is(err, domain.ErrCampaignNotFound):
		return http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "campaign not found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error()
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return http.StatusConflict, "ALREADY_REDEEMED", err.Error()
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrRewardExpired):
		return http.StatusGone, "REWARD_EXPIRED", err.Error()
	case errors.Is(err, domain.ErrRewardCancelled):
		return http.StatusUnprocessableEntity, "REWARD_CANCELLED", err.Error()
	case errors.Is(err, domain.ErrRewardNotApproved):
		return http.StatusUnprocessableEntity, "REWARD_NOT_APPROVED", err.Error()
	case errors.Is(err, domain.ErrCampaignNotActive):
		return http.StatusUnprocessableEntity, "CAMPAIGN_NOT_ACTIVE", err.Error()
	case errors.Is(err, domain.ErrUsageLimitExceeded):
		return http.StatusTooManyRequests, "USAGE_LIMIT_EXCEEDED", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
