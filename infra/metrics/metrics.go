package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records operational counters and timings for webhook processing
// and outbound provider calls.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	dedupHitsTotal            *prometheus.CounterVec
	handlerFailuresTotal      *prometheus.CounterVec
	eventsPublishedTotal      *prometheus.CounterVec
	providerCallsTotal        *prometheus.CounterVec
	providerCallDuration      *prometheus.HistogramVec
	sweepExpiredTotal         prometheus.Counter
}

// New creates a Metrics instance registered against the given registerer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of webhook deliveries received, by outcome.",
		}, []string{"provider", "event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),

		dedupHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "dedup_hits_total",
			Help:      "Total number of webhook deliveries dropped as duplicates.",
		}, []string{"provider"}),

		handlerFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event",
			Name:      "handler_failures_total",
			Help:      "Total number of event handler errors and panics.",
		}, []string{"event_kind", "handler"}),

		eventsPublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event",
			Name:      "published_total",
			Help:      "Total number of domain events published on the bus.",
		}, []string{"event_kind"}),

		providerCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total number of outbound calls to payment providers.",
		}, []string{"provider", "operation", "status"}),

		providerCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of outbound provider calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),

		sweepExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "sweep_expired_total",
			Help:      "Total number of subscriptions expired by the sweep loop.",
		}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookDuration(provider, eventType string, d time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(provider, eventType).Observe(d.Seconds())
}

func (m *Metrics) RecordDedupHit(provider string) {
	m.dedupHitsTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordHandlerFailure(eventKind, handler string) {
	m.handlerFailuresTotal.WithLabelValues(eventKind, handler).Inc()
}

func (m *Metrics) RecordEventPublished(eventKind string) {
	m.eventsPublishedTotal.WithLabelValues(eventKind).Inc()
}

func (m *Metrics) RecordProviderCall(provider, operation, status string) {
	m.providerCallsTotal.WithLabelValues(provider, operation, status).Inc()
}

func (m *Metrics) RecordProviderCallDuration(provider, operation string, d time.Duration) {
	m.providerCallDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

func (m *Metrics) RecordSweepExpired(count int) {
	m.sweepExpiredTotal.Add(float64(count))
}

// Default returns a Metrics instance on the default Prometheus registerer.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer, "paymux")
}
