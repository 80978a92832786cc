package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture agent.
type Metrics struct {
	// Capture pipeline metrics
	FramesProcessed prometheus.Counter
	AudioLevel      prometheus.Gauge
	ReadErrors      prometheus.Counter

	// Segmentation metrics
	ChunksGenerated prometheus.Counter
	Reactivations   prometheus.Counter
	ForceSends      prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram

	// Dispatch metrics
	DispatchRequests  prometheus.Counter
	DispatchSuccesses prometheus.Counter
	DispatchFailures  prometheus.Counter

	// Overflow queue metrics
	QueueDepth prometheus.Gauge
	QueueDrops prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_processed_total",
			Help: "Total number of PCM frames read from the capture source",
		}),
		AudioLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "capture_audio_level",
			Help: "Normalized RMS level of the most recent frame",
		}),
		ReadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_read_errors_total",
			Help: "Total number of capture source read errors",
		}),

		ChunksGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_chunks_generated_total",
			Help: "Total number of audio chunks finalized by the segmenter",
		}),
		Reactivations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_reactivations_total",
			Help: "Total number of voice reactivations during silence draining",
		}),
		ForceSends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_force_sends_total",
			Help: "Total number of chunks finalized by max duration or the reactivation cap",
		}),
		ChunkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_chunk_duration_seconds",
			Help:    "Duration of finalized audio chunks",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		ChunkSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_chunk_size_bytes",
			Help:    "Encoded WAV size of finalized audio chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		DispatchRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_dispatch_requests_total",
			Help: "Total number of chunk transcription requests started",
		}),
		DispatchSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_dispatch_successes_total",
			Help: "Total number of chunk transcription requests acknowledged",
		}),
		DispatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_dispatch_failures_total",
			Help: "Total number of chunk transcription requests that failed",
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "capture_overflow_queue_depth",
			Help: "Current number of chunks in the overflow queue",
		}),
		QueueDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_overflow_queue_drops_total",
			Help: "Total number of chunks evicted from the overflow queue at capacity",
		}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capture_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_session_duration_seconds",
			Help:    "Duration of completed recording sessions",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600},
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_http_requests_total",
			Help: "Total number of status API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capture_http_request_duration_seconds",
			Help:    "Status API request duration by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}
