package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every resolver collector; the HTTP service exposes it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// UpstreamRequests counts finished upstream attempts by method and outcome
	// (success, retryable, fatal).
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teraresolve",
		Name:      "upstream_requests_total",
		Help:      "Upstream HTTP attempts by method and outcome.",
	}, []string{"method", "outcome"})

	// UpstreamRetries counts retries by the reason that triggered them.
	UpstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teraresolve",
		Name:      "upstream_retries_total",
		Help:      "Upstream retries by reason.",
	}, []string{"reason"})

	// Resolutions counts finished resolutions by outcome: success, empty or the failing stage.
	Resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teraresolve",
		Name:      "resolutions_total",
		Help:      "Share resolutions by outcome.",
	}, []string{"outcome"})

	// DirectLinkFallbacks counts files whose direct link degraded to the original link.
	DirectLinkFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teraresolve",
		Name:      "direct_link_fallbacks_total",
		Help:      "Direct-link resolutions that fell back to the original link.",
	})

	// ResolutionDuration observes end-to-end resolution latency.
	ResolutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "teraresolve",
		Name:      "resolution_duration_seconds",
		Help:      "End-to-end share resolution latency.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	})
)

func init() {
	Registry.MustRegister(
		UpstreamRequests,
		UpstreamRetries,
		Resolutions,
		DirectLinkFallbacks,
		ResolutionDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
