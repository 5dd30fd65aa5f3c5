// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests by route pattern and status code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budsrelay",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	// RequestDuration observes request latency by route pattern.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "budsrelay",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// MessagesSent counts accepted message sends.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budsrelay",
		Name:      "messages_sent_total",
		Help:      "Messages accepted for fan-out.",
	})

	// ReceiptsStored counts accepted jar receipts.
	ReceiptsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "budsrelay",
		Name:      "receipts_stored_total",
		Help:      "Jar receipts accepted and sequenced.",
	})

	// SequenceRetries observes how many retries a receipt append needed
	// before a sequence number was assigned.
	SequenceRetries = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "budsrelay",
		Name:      "sequence_retries",
		Help:      "Retries needed to assign a receipt sequence number.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	})

	// PushesTotal counts push deliveries by outcome (ok, gone, failed).
	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budsrelay",
		Name:      "pushes_total",
		Help:      "Push notifications by outcome.",
	}, []string{"outcome"})

	// RateLimited counts requests rejected by the rate limiter, by route.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budsrelay",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"route"})

	// CleanupDeleted counts rows removed by the cleanup sweep, by kind
	// (messages, blobs, deliveries, devices).
	CleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "budsrelay",
		Name:      "cleanup_deleted_total",
		Help:      "Rows removed by the cleanup sweep.",
	}, []string{"kind"})
)

// ObserveRequest records one completed HTTP request.
func ObserveRequest(route string, code int, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
