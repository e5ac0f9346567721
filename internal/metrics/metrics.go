package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WebhookEvents     *prometheus.CounterVec
	WebhookDuplicates *prometheus.CounterVec
	ProviderRequests  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	ConnectAttempts   *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	SendQueueDepth    prometheus.Gauge
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total normalized webhook events by provider and event kind.",
			}, []string{"provider", "event"}),
			WebhookDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_duplicates_total",
				Help:      "Total webhook deliveries skipped as duplicates.",
			}, []string{"provider"}),
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total gateway API requests by provider, endpoint and status.",
			}, []string{"provider", "endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for gateway API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "endpoint", "status"}),
			ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Total connect attempts by provider and outcome.",
			}, []string{"provider", "outcome"}),
			OutboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbound_messages_total",
				Help:      "Total outbound sends by provider and terminal status.",
			}, []string{"provider", "status"}),
			SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "send_queue_depth",
				Help:      "Current number of queued outbound send tasks.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WebhookEvents,
			metricsInstance.WebhookDuplicates,
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.ConnectAttempts,
			metricsInstance.OutboundMessages,
			metricsInstance.SendQueueDepth,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
