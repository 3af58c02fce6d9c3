// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_transcript"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Webhook metrics
	WebhooksReceived *prometheus.CounterVec

	// Ingest queue metrics
	QueueDepth        prometheus.Gauge
	EventsProcessed   *prometheus.CounterVec
	ProcessingErrors  *prometheus.CounterVec
	ProcessingLatency prometheus.Histogram

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated *prometheus.CounterVec
	SessionsStopped prometheus.Counter

	// Live feed metrics
	SubscribersActive prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// RPC metrics
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Total number of provider webhooks received, by response status",
		}, []string{"status"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_depth",
			Help:      "Number of recognition events waiting to be processed",
		}),
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of recognition events processed, by outcome",
		}, []string{"kind", "outcome"}),
		ProcessingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_errors_total",
			Help:      "Total number of recognition events that failed processing",
		}, []string{"reason"}),
		ProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_latency_seconds",
			Help:      "Time from webhook acknowledgment to reconciliation",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently held in memory",
		}),
		SessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created, by origin",
		}, []string{"origin"}),
		SessionsStopped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Total number of sessions purged",
		}),

		SubscribersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers_active",
			Help:      "Number of connected live transcript websocket clients",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls, by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordWebhook records a webhook response status (accepted, ignored, rejected, busy).
func (m *Metrics) RecordWebhook(status string) {
	m.WebhooksReceived.WithLabelValues(status).Inc()
}

// RecordEnqueued records an event entering the ingest queue.
func (m *Metrics) RecordEnqueued() {
	m.QueueDepth.Inc()
}

// RecordDequeued records an event leaving the ingest queue.
func (m *Metrics) RecordDequeued() {
	m.QueueDepth.Dec()
}

// RecordProcessed records a reconciliation outcome and its latency.
func (m *Metrics) RecordProcessed(kind, outcome string, latencySeconds float64) {
	m.EventsProcessed.WithLabelValues(kind, outcome).Inc()
	m.ProcessingLatency.Observe(latencySeconds)
}

// RecordProcessingError records a failed event.
func (m *Metrics) RecordProcessingError(reason string) {
	m.ProcessingErrors.WithLabelValues(reason).Inc()
}

// RecordSessionCreated records a new session. Origin is "lifecycle" or "webhook".
func (m *Metrics) RecordSessionCreated(origin string) {
	m.SessionsCreated.WithLabelValues(origin).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionStopped records a session purge.
func (m *Metrics) RecordSessionStopped() {
	m.SessionsStopped.Inc()
	m.SessionsActive.Dec()
}

// RecordSubscriber adjusts the live subscriber gauge.
func (m *Metrics) RecordSubscriber(delta int) {
	m.SubscribersActive.Add(float64(delta))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
