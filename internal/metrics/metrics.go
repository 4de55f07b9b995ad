// Package metrics exposes the gateway's operational counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BatchesAccepted counts ingested batches after validation and auth.
	BatchesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthtrack_batches_accepted_total",
		Help: "Event batches accepted at the ingestion endpoint.",
	})

	// EventsAccepted counts individual events persisted.
	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthtrack_events_accepted_total",
		Help: "Tracking events accepted at the ingestion endpoint.",
	})

	// BatchesRejected counts rejected batches by reason.
	BatchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthtrack_batches_rejected_total",
		Help: "Event batches rejected at the ingestion endpoint.",
	}, []string{"reason"})

	// ServerRedactions counts PHI redactions re-applied server-side,
	// i.e. values the client scrub missed.
	ServerRedactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthtrack_server_redactions_total",
		Help: "PHI redactions applied by the server-side scrubber.",
	})

	// ForwardAttempts counts forwarder deliveries by platform and outcome.
	ForwardAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthtrack_forward_attempts_total",
		Help: "Platform forwarder delivery attempts.",
	}, []string{"platform", "outcome"})

	// ForwardedEvents counts events delivered per platform.
	ForwardedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthtrack_forwarded_events_total",
		Help: "Events delivered to third-party platforms.",
	}, []string{"platform"})

	// RateLimited counts batches dropped by the per-key rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthtrack_rate_limited_total",
		Help: "Batches rejected by the per-key rate limiter.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
