package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "asr"

// Metrics contains all Prometheus metrics for the probe and the mock server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Framed client metrics
	FramedRequests *prometheus.CounterVec
	FramedLatency  prometheus.Histogram
	FramedErrors   *prometheus.CounterVec

	// Streaming client metrics
	StreamSessions      *prometheus.CounterVec
	StreamChunksSent    prometheus.Counter
	StreamBytesSent     prometheus.Counter
	StreamResults       *prometheus.CounterVec
	StreamParseErrors   prometheus.Counter
	StreamDrainTimeouts prometheus.Counter
	StreamDuration      prometheus.Histogram
	FirstResultLatency  prometheus.Histogram
	SessionErrors       *prometheus.CounterVec

	// Mock server metrics
	ServerConnections  *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	ServerFrames       *prometheus.CounterVec
	ServerRequestBytes prometheus.Histogram
	ServerResults      *prometheus.CounterVec
	VADWindows         prometheus.Counter
	VADVoiceDetected   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Framed client metrics
		FramedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "framed_requests_total",
			Help:      "Total number of framed requests by result",
		}, []string{"result"}),
		FramedLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "framed_request_duration_seconds",
			Help:      "Round trip time of framed requests",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		FramedErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "framed_errors_total",
			Help:      "Total number of framed request errors by kind",
		}, []string{"kind"}),

		// Streaming client metrics
		StreamSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_sessions_total",
			Help:      "Total number of streaming sessions by outcome",
		}, []string{"outcome"}),
		StreamChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_sent_total",
			Help:      "Total number of audio chunks sent",
		}),
		StreamBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_sent_total",
			Help:      "Total number of audio bytes sent",
		}),
		StreamResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_results_total",
			Help:      "Total number of server messages received by kind",
		}, []string{"kind"}),
		StreamParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_parse_errors_total",
			Help:      "Total number of server messages that could not be decoded",
		}),
		StreamDrainTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_drain_timeouts_total",
			Help:      "Total number of sessions whose receiver did not finish within the drain timeout",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_session_duration_seconds",
			Help:      "Duration of streaming sessions",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		FirstResultLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_first_result_seconds",
			Help:      "Time from handshake to the first result carrying text",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Total number of client errors by phase",
		}, []string{"phase"}),

		// Mock server metrics
		ServerConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_connections_total",
			Help:      "Total number of accepted connections by transport",
		}, []string{"transport"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_active_sessions",
			Help:      "Current number of open sessions",
		}),
		ServerFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_frames_received_total",
			Help:      "Total number of frames or messages received by type",
		}, []string{"type"}),
		ServerRequestBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_request_size_bytes",
			Help:      "Size of received audio payloads",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		ServerResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_results_sent_total",
			Help:      "Total number of results sent by kind",
		}, []string{"kind"}),
		VADWindows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_vad_windows_total",
			Help:      "Total number of VAD windows processed",
		}),
		VADVoiceDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_vad_voice_detected_total",
			Help:      "Total number of VAD windows with voice detected",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordFramedRequest records the outcome and latency of a framed request
func (m *Metrics) RecordFramedRequest(success bool, latency time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.FramedRequests.WithLabelValues(result).Inc()
	m.FramedLatency.Observe(latency.Seconds())
}

// RecordFramedError counts a framed request error of the given kind
func (m *Metrics) RecordFramedError(kind string) {
	if m == nil {
		return
	}
	m.FramedErrors.WithLabelValues(kind).Inc()
}

// RecordChunkSent records one audio chunk written to a stream
func (m *Metrics) RecordChunkSent(size int) {
	if m == nil {
		return
	}
	m.StreamChunksSent.Inc()
	m.StreamBytesSent.Add(float64(size))
}

// RecordResult counts a received server message of the given kind
func (m *Metrics) RecordResult(kind string) {
	if m == nil {
		return
	}
	m.StreamResults.WithLabelValues(kind).Inc()
}

// RecordParseError counts a server message that could not be decoded
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.StreamParseErrors.Inc()
}

// RecordDrainTimeout counts a receiver that outlived the drain timeout
func (m *Metrics) RecordDrainTimeout() {
	if m == nil {
		return
	}
	m.StreamDrainTimeouts.Inc()
}

// RecordFirstResult records the time to the first transcript
func (m *Metrics) RecordFirstResult(latency time.Duration) {
	if m == nil {
		return
	}
	m.FirstResultLatency.Observe(latency.Seconds())
}

// RecordSession records a finished streaming session
func (m *Metrics) RecordSession(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StreamSessions.WithLabelValues(outcome).Inc()
	m.StreamDuration.Observe(duration.Seconds())
}

// RecordSessionError counts a client error in the given phase
func (m *Metrics) RecordSessionError(phase string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(phase).Inc()
}

// RecordConnection counts an accepted server connection
func (m *Metrics) RecordConnection(transport string) {
	if m == nil {
		return
	}
	m.ServerConnections.WithLabelValues(transport).Inc()
}

// SetActiveSessions sets the current number of open sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordFrameReceived counts a received frame or message by type
func (m *Metrics) RecordFrameReceived(frameType string, size int) {
	if m == nil {
		return
	}
	m.ServerFrames.WithLabelValues(frameType).Inc()
	if frameType == "audio" {
		m.ServerRequestBytes.Observe(float64(size))
	}
}

// RecordResultSent counts a result sent by the mock server
func (m *Metrics) RecordResultSent(kind string) {
	if m == nil {
		return
	}
	m.ServerResults.WithLabelValues(kind).Inc()
}

// RecordVADWindows records processed and voiced VAD windows
func (m *Metrics) RecordVADWindows(total, voiced int) {
	if m == nil {
		return
	}
	m.VADWindows.Add(float64(total))
	m.VADVoiceDetected.Add(float64(voiced))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
