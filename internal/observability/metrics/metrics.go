// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcript_pipeline"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingestion metrics
	IngestionsTotal     *prometheus.CounterVec
	AudioBytesSubmitted prometheus.Counter
	TranscodeDuration   prometheus.Histogram

	// Provider metrics
	ProviderLatency *prometheus.HistogramVec
	ProviderErrors  *prometheus.CounterVec

	// Callback metrics
	CallbacksTotal *prometheus.CounterVec

	// Transcript metrics
	NormalizationsTotal *prometheus.CounterVec
	TranscriptRows      prometheus.Counter
	EditsTotal          *prometheus.CounterVec

	// Storage metrics
	StorageLatency *prometheus.HistogramVec
	StorageErrors  *prometheus.CounterVec

	// Storage notification metrics
	StorageEventsTotal *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Job ledger metrics
	LedgerErrors *prometheus.CounterVec

	// Transport metrics
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	GRPCCalls         *prometheus.CounterVec
	GRPCStreamsActive prometheus.Gauge
	LiveClients       prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Ingestion metrics
		IngestionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Total number of storage objects seen by the ingestion handler",
		}, []string{"outcome"}),
		AudioBytesSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_submitted_total",
			Help:      "Total audio bytes submitted to the transcription provider",
		}),
		TranscodeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Duration of audio transcoding in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		// Provider metrics
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Transcription provider call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"provider", "op"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of transcription provider errors",
		}, []string{"provider", "op"}),

		// Callback metrics
		CallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Total number of provider callback requests",
		}, []string{"kind"}),

		// Transcript metrics
		NormalizationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalizations_total",
			Help:      "Total number of normalizer runs",
		}, []string{"outcome"}),
		TranscriptRows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_rows_total",
			Help:      "Total number of clean transcript rows written",
		}),
		EditsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Total number of transcript edit attempts",
		}, []string{"outcome"}),

		// Storage metrics
		StorageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_latency_seconds",
			Help:      "Blob store operation latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"op"}),
		StorageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Total number of blob store errors",
		}, []string{"op"}),

		StorageEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_events_total",
			Help:      "Total number of storage notifications routed",
		}, []string{"action"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		LedgerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Total number of job ledger write failures",
		}, []string{"status"}),

		// Transport metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "code"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
		}, []string{"route"}),
		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls",
		}, []string{"method", "code"}),
		GRPCStreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		LiveClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Number of connected live event feed clients",
		}),
	}
}

// RecordIngestion records the outcome of one ingestion attempt.
func (m *Metrics) RecordIngestion(outcome string) {
	m.IngestionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAudioSubmitted records audio bytes sent to the provider.
func (m *Metrics) RecordAudioSubmitted(bytes int) {
	m.AudioBytesSubmitted.Add(float64(bytes))
}

// RecordTranscode records how long a transcoding run took.
func (m *Metrics) RecordTranscode(durationSeconds float64) {
	m.TranscodeDuration.Observe(durationSeconds)
}

// RecordProviderCall records a provider call and its outcome.
func (m *Metrics) RecordProviderCall(provider, op string, err error, latencySeconds float64) {
	m.ProviderLatency.WithLabelValues(provider, op).Observe(latencySeconds)
	if err != nil {
		m.ProviderErrors.WithLabelValues(provider, op).Inc()
	}
}

// RecordCallback records a callback request of the given kind.
func (m *Metrics) RecordCallback(kind string) {
	m.CallbacksTotal.WithLabelValues(kind).Inc()
}

// RecordNormalization records a normalizer run.
func (m *Metrics) RecordNormalization(err error, rows int) {
	if err != nil {
		m.NormalizationsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.NormalizationsTotal.WithLabelValues("written").Inc()
	m.TranscriptRows.Add(float64(rows))
}

// RecordEdit records an edit attempt.
func (m *Metrics) RecordEdit(outcome string) {
	m.EditsTotal.WithLabelValues(outcome).Inc()
}

// RecordStorageOp records a blob store operation.
func (m *Metrics) RecordStorageOp(op string, err error, latencySeconds float64) {
	m.StorageLatency.WithLabelValues(op).Observe(latencySeconds)
	if err != nil {
		m.StorageErrors.WithLabelValues(op).Inc()
	}
}

// RecordStorageEvent records how a storage notification was routed.
func (m *Metrics) RecordStorageEvent(action string) {
	m.StorageEventsTotal.WithLabelValues(action).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordLedgerError records a failed job ledger write.
func (m *Metrics) RecordLedgerError(status string) {
	m.LedgerErrors.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method string, code int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}

// RecordStreamStart records a new gRPC stream starting.
func (m *Metrics) RecordStreamStart() {
	m.GRPCStreamsActive.Inc()
}

// RecordStreamEnd records a gRPC stream ending.
func (m *Metrics) RecordStreamEnd(method, code string) {
	m.GRPCStreamsActive.Dec()
	m.RecordGRPCCall(method, code)
}
