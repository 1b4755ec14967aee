package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for handshakeOutcomes.
const (
	outcomeCompleted = "completed"
	outcomeDeclined  = "declined"
	outcomeError     = "error"
)

var (
	handshakeStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oauth_dropins",
		Name:      "handshake_starts_total",
		Help:      "Start redirects issued, by provider.",
	}, []string{"provider"})

	handshakeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oauth_dropins",
		Name:      "handshake_outcomes_total",
		Help:      "Finished callbacks, by provider and outcome.",
	}, []string{"provider", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oauth_dropins",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
