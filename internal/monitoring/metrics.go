package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the realtime hub. Scraped via /metrics.
var (
	connectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_connections_total",
		Help: "Total connections established, by transport",
	}, []string{"transport"})

	connectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rt_connections_active",
		Help: "Current live connections, by transport",
	}, []string{"transport"})

	authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_auth_failures_total",
		Help: "Handshakes rejected because credential resolution failed",
	})

	subscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rt_subscriptions_active",
		Help: "Current (booking, identity) subscription pairs",
	})

	subscriptionsDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_subscriptions_denied_total",
		Help: "Subscribe requests rejected by the ownership check",
	})

	messagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_messages_routed_total",
		Help: "Inbound envelopes routed, by type ('unknown' for silent drops)",
	}, []string{"type"})

	pushesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_pushes_delivered_total",
		Help: "Envelopes pushed to a connection handle, by transport",
	}, []string{"transport"})

	pushesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_pushes_dropped_total",
		Help: "Pushes that failed on a handle, by transport and reason",
	}, []string{"transport", "reason"})

	broadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rt_broadcast_duration_seconds",
		Help:    "Wall time of a single booking fan-out",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})

	rateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rt_rate_limited_messages_total",
		Help: "Inbound messages dropped by per-client rate limiting",
	})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		authFailures,
		subscriptionsActive,
		subscriptionsDenied,
		messagesRouted,
		pushesDelivered,
		pushesDropped,
		broadcastDuration,
		rateLimitedMessages,
	)
}

// MetricsHandler returns the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func ConnectionOpened(transport string) {
	connectionsTotal.WithLabelValues(transport).Inc()
	connectionsActive.WithLabelValues(transport).Inc()
}

func ConnectionClosed(transport string) {
	connectionsActive.WithLabelValues(transport).Dec()
}

func AuthFailed() { authFailures.Inc() }

func SetActiveSubscriptions(n int) { subscriptionsActive.Set(float64(n)) }

func SubscriptionDenied() { subscriptionsDenied.Inc() }

func MessageRouted(envelopeType string) {
	messagesRouted.WithLabelValues(envelopeType).Inc()
}

func PushDelivered(transport string) {
	pushesDelivered.WithLabelValues(transport).Inc()
}

func PushDropped(transport, reason string) {
	pushesDropped.WithLabelValues(transport, reason).Inc()
}

func ObserveBroadcast(d time.Duration) {
	broadcastDuration.Observe(d.Seconds())
}

func MessageRateLimited() { rateLimitedMessages.Inc() }
