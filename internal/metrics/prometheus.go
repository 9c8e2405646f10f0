package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bridge
type Metrics struct {
	// Connection metrics
	ConnectionsTotal prometheus.Counter
	AuthRejections   prometheus.Counter
	UpgradeFailures  prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Frame metrics
	FramesReceived  prometheus.Counter
	MalformedFrames prometheus.Counter

	// Segmentation metrics
	SegmentsGenerated prometheus.Counter
	SegmentDuration   prometheus.Histogram
	SegmentSize       prometheus.Histogram

	// Backend metrics
	BackendRequests *prometheus.CounterVec
	BackendLatency  prometheus.Histogram

	// Transcript metrics
	TranscriptsDelivered  prometheus.Counter
	TranscriptsSuppressed prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Connection metrics
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_connections_total",
			Help: "Total number of WebSocket connection attempts",
		}),
		AuthRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_auth_rejections_total",
			Help: "Total number of connections rejected at authentication",
		}),
		UpgradeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_upgrade_failures_total",
			Help: "Total number of failed WebSocket upgrades",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_active_sessions",
			Help: "Current number of active sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Frame metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_frames_received_total",
			Help: "Total number of audio frames received",
		}),
		MalformedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_malformed_frames_total",
			Help: "Total number of malformed frames discarded",
		}),

		// Segmentation metrics
		SegmentsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_segments_generated_total",
			Help: "Total number of audio segments generated",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_segment_duration_seconds",
			Help:    "Duration of generated audio segments",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 12), // 0.5s to 6s
		}),
		SegmentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_segment_size_bytes",
			Help:    "Size of generated audio segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~1MB
		}),

		// Backend metrics
		BackendRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_backend_requests_total",
			Help: "Total number of backend transcription requests",
		}, []string{"status"}),
		BackendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_backend_latency_seconds",
			Help:    "Latency of backend transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Transcript metrics
		TranscriptsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_transcripts_delivered_total",
			Help: "Total number of transcripts delivered to clients",
		}),
		TranscriptsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_transcripts_suppressed_total",
			Help: "Total number of transcripts suppressed by the filter",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConnection increments the connection attempts counter
func (m *Metrics) RecordConnection() {
	m.ConnectionsTotal.Inc()
}

// RecordAuthRejection increments the auth rejections counter
func (m *Metrics) RecordAuthRejection() {
	m.AuthRejections.Inc()
}

// RecordUpgradeFailure increments the upgrade failures counter
func (m *Metrics) RecordUpgradeFailure() {
	m.UpgradeFailures.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed increments the sessions closed counter and records duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordMalformedFrame increments the malformed frames counter
func (m *Metrics) RecordMalformedFrame() {
	m.MalformedFrames.Inc()
}

// RecordSegmentGenerated records a generated audio segment
func (m *Metrics) RecordSegmentGenerated(durationSeconds float64, sizeBytes int) {
	m.SegmentsGenerated.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordBackendRequest records a backend request outcome and its latency
func (m *Metrics) RecordBackendRequest(status string, latencySeconds float64) {
	m.BackendRequests.WithLabelValues(status).Inc()
	m.BackendLatency.Observe(latencySeconds)
}

// RecordTranscriptDelivered increments the delivered transcripts counter
func (m *Metrics) RecordTranscriptDelivered() {
	m.TranscriptsDelivered.Inc()
}

// RecordTranscriptSuppressed increments the suppressed transcripts counter
func (m *Metrics) RecordTranscriptSuppressed() {
	m.TranscriptsSuppressed.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
