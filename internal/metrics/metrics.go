package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/referral-platform/internal/domain"
)

// Registry owns the platform collectors. Each process builds its own so tests can
// inspect counters without touching the global default registry.
type Registry struct {
	reg *prometheus.Registry

	fraudEvaluations  *prometheus.CounterVec
	fraudReasons      *prometheus.CounterVec
	fraudFailures     *prometheus.CounterVec
	rewardTransitions *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		fraudEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_fraud_evaluations_total",
			Help: "Fraud evaluations by subject and outcome.",
		}, []string{"subject", "outcome"}),
		fraudReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_fraud_reasons_total",
			Help: "Triggered fraud signals by reason.",
		}, []string{"reason"}),
		fraudFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_fraud_scoring_failures_total",
			Help: "Evaluations that fell back to not-fraud because signals could not be read.",
		}, []string{"subject"}),
		rewardTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_reward_transitions_total",
			Help: "Reward status transitions.",
		}, []string{"from", "to"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_http_requests_total",
			Help: "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "referral_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.fraudEvaluations,
		r.fraudReasons,
		r.fraudFailures,
		r.rewardTransitions,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) FraudEvaluated(subject domain.FraudSubject, result domain.FraudResult) {
	outcome := "clean"
	if result.IsFraud {
		outcome = "flagged"
	}
	r.fraudEvaluations.WithLabelValues(string(subject), outcome).Inc()
	for _, reason := range result.Reasons {
		r.fraudReasons.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) FraudScoringFailed(subject domain.FraudSubject) {
	r.fraudFailures.WithLabelValues(string(subject)).Inc()
}

func (r *Registry) RewardTransitioned(from, to domain.RewardStatus) {
	r.rewardTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveHTTP records one finished request. route is the router pattern, not the raw
// path, to keep label cardinality bounded.
func (r *Registry) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
