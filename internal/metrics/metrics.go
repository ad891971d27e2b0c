package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resolver metrics
	ResolverLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpublish_resolver_lookups_total",
			Help: "Identifier resolutions by type and where they were answered",
		},
		[]string{"type", "source"}, // source: static, cache, remote, miss
	)

	ResolverRemoteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpublish_resolver_remote_failures_total",
			Help: "Structured-query lookups that failed or timed out",
		},
		[]string{"type"},
	)

	ResolverRevalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpublish_resolver_revalidations_total",
			Help: "Stale cache entries revalidated, by result",
		},
		[]string{"result"}, // unchanged, changed, failed
	)

	// Publish metrics
	PublishOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpublish_publish_outcomes_total",
			Help: "Publish attempts by target and result kind",
		},
		[]string{"target", "kind"}, // kind: success or an error kind
	)

	ProtocolStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbpublish_protocol_step_seconds",
			Help:    "Latency of remote write-protocol steps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	NotabilityVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpublish_notability_verdicts_total",
			Help: "Notability evaluations by verdict",
		},
		[]string{"notable"},
	)
)

// ObserveStep records the duration of a protocol step since start
func ObserveStep(step string, start time.Time) {
	ProtocolStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
