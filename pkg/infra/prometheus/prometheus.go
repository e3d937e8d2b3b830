package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

const (
	TierLocal       = "local"
	TierDistributed = "distributed"
	TierFallback    = "fallback"

	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
)

var (
	// tier is "local", "distributed" or "fallback"; outcome is "allow" or "deny"
	decisionLabels = []string{"tier", "outcome"}

	RateLimitDecisions = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "limitgate_ratelimit_decisions_total",
			Help: "Rate limit decisions by tier and outcome",
		},
		decisionLabels,
	)

	FallbackActivations = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "limitgate_fallback_activations_total",
			Help: "Distributed tier failures absorbed by the local fallback limiter",
		},
	)

	RegistrySize = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "limitgate_limiter_registry_size",
			Help: "Number of live token buckets in the limiter registry",
		},
	)

	RequestTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "limitgate_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"method", "status"},
	)
)

// RecordDecision increments the decision counter for a tier.
func RecordDecision(tier string, allowed bool) {
	outcome := OutcomeAllow
	if !allowed {
		outcome = OutcomeDeny
	}
	RateLimitDecisions.WithLabelValues(tier, outcome).Inc()
}

// Handler serves the metrics registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func Initialize() {
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
}
