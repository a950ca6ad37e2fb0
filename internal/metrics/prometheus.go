package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the A2F service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsDestroyed prometheus.Counter
	StreamDuration   prometheus.Histogram
	SequenceGaps     prometheus.Counter

	// Pipeline metrics
	WindowsProcessed *prometheus.CounterVec
	StreamingChunks  *prometheus.CounterVec
	SamplesDropped   prometheus.Counter
	FilesProcessed   prometheus.Counter
	FileDuration     prometheus.Histogram

	// Inference metrics
	InferenceRequests prometheus.Counter
	InferenceFailures prometheus.Counter
	InferenceDuration prometheus.Histogram
	RemoteRetries     prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg.
// A nil reg registers on the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// UDP packet metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_packets_received_total",
			Help: "Total number of packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_packets_processed_total",
			Help: "Total number of packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "a2f_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Stream metrics
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "a2f_active_streams",
			Help: "Current number of active audio streams",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_streams_created_total",
			Help: "Total number of streams created",
		}),
		StreamsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_streams_destroyed_total",
			Help: "Total number of streams destroyed",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "a2f_stream_duration_seconds",
			Help:    "Duration of audio streams in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		SequenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_sequence_gaps_total",
			Help: "Total number of audio packets missing from stream sequences",
		}),

		// Pipeline metrics
		WindowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2f_windows_processed_total",
			Help: "Total number of audio windows scored by the model",
		}, []string{"mode"}),
		StreamingChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2f_streaming_chunks_total",
			Help: "Total number of streaming chunks by outcome",
		}, []string{"outcome"}),
		SamplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_samples_dropped_total",
			Help: "Total number of backlog samples dropped to keep streams real-time",
		}),
		FilesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_files_processed_total",
			Help: "Total number of whole clips processed",
		}),
		FileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "a2f_file_audio_seconds",
			Help:    "Audio length of processed clips in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		// Inference metrics
		InferenceRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_inference_requests_total",
			Help: "Total number of model inference calls",
		}),
		InferenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_inference_failures_total",
			Help: "Total number of failed model inference calls",
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "a2f_inference_duration_seconds",
			Help:    "Duration of model inference calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		RemoteRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2f_remote_inference_retries_total",
			Help: "Total number of remote inference request retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2f_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "a2f_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2f_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// SetActiveStreams sets the current number of active streams
func (m *Metrics) SetActiveStreams(count int) {
	if m == nil {
		return
	}
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	if m == nil {
		return
	}
	m.StreamsCreated.Inc()
}

// RecordStreamDestroyed increments the streams destroyed counter and records duration
func (m *Metrics) RecordStreamDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.StreamsDestroyed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordSequenceGap adds missing packets to the gap counter
func (m *Metrics) RecordSequenceGap(missing uint32) {
	if m == nil {
		return
	}
	m.SequenceGaps.Add(float64(missing))
}

// RecordWindow counts a scored window; mode is "batch" or "streaming"
func (m *Metrics) RecordWindow(mode string) {
	if m == nil {
		return
	}
	m.WindowsProcessed.WithLabelValues(mode).Inc()
}

// RecordStreamingChunk counts a streaming chunk by outcome ("warmup", "inferred", "failed")
func (m *Metrics) RecordStreamingChunk(outcome string) {
	if m == nil {
		return
	}
	m.StreamingChunks.WithLabelValues(outcome).Inc()
}

// RecordSamplesDropped adds to the dropped backlog counter
func (m *Metrics) RecordSamplesDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.SamplesDropped.Add(float64(n))
}

// RecordFileProcessed records a whole clip and its audio length
func (m *Metrics) RecordFileProcessed(audioSeconds float64) {
	if m == nil {
		return
	}
	m.FilesProcessed.Inc()
	m.FileDuration.Observe(audioSeconds)
}

// RecordInference records one model call and its outcome
func (m *Metrics) RecordInference(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.InferenceRequests.Inc()
	if err != nil {
		m.InferenceFailures.Inc()
	}
	m.InferenceDuration.Observe(durationSeconds)
}

// RecordRemoteRetry increments the remote retry counter
func (m *Metrics) RecordRemoteRetry() {
	if m == nil {
		return
	}
	m.RemoteRetries.Inc()
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
