package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ricardorosenberg/tikun/internal/api"
)

// Metrics contains all Prometheus metrics for the tikun listener
type Metrics struct {
	// Capture and windowing metrics
	ChunksIngested   prometheus.Counter
	WindowsEmitted   prometheus.Counter
	SamplesDiscarded prometheus.Counter
	ClipSize         prometheus.Histogram
	AmbientLevel     prometheus.Gauge

	// Session metrics
	Listening       prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram

	// API metrics
	APIRequests        *prometheus.CounterVec
	APIFailures        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Detection metrics
	Predictions      *prometheus.CounterVec
	AlertsFired      prometheus.Counter
	AlertsSuppressed *prometheus.CounterVec
	TrainingSamples  *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChunksIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tikun_audio_chunks_ingested_total",
			Help: "Total number of capture chunks ingested into the window buffer",
		}),
		WindowsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tikun_audio_windows_emitted_total",
			Help: "Total number of fixed-length windows emitted for inference",
		}),
		SamplesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "tikun_audio_samples_discarded_total",
			Help: "Samples past the window boundary dropped at emission",
		}),
		ClipSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tikun_clip_size_bytes",
			Help:    "Size of encoded WAV clips in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10), // 1KB to ~512KB
		}),
		AmbientLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tikun_ambient_level",
			Help: "RMS level of the most recent capture chunk",
		}),

		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tikun_listening",
			Help: "1 while a listening session is capturing, 0 otherwise",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tikun_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tikun_session_duration_seconds",
			Help:    "Duration of listening sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),

		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tikun_api_requests_total",
			Help: "Total number of inference/training API operations",
		}, []string{"operation"}),
		APIFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tikun_api_failures_total",
			Help: "Total number of failed API operations after retries",
		}, []string{"operation", "status_code"}),
		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tikun_api_request_duration_seconds",
			Help:    "Duration of API operations including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"operation"}),

		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tikun_predictions_total",
			Help: "Predictions received, by label",
		}, []string{"label"}),
		AlertsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tikun_alerts_fired_total",
			Help: "Total number of alerts surfaced to the user",
		}),
		AlertsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tikun_alerts_suppressed_total",
			Help: "Hits that did not alert, by reason",
		}, []string{"reason"}),
		TrainingSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tikun_training_samples_total",
			Help: "Training clips uploaded, by label",
		}, []string{"label"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tikun_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tikun_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tikun_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunk records an ingested chunk and its level
func (m *Metrics) RecordChunk(level float64) {
	m.ChunksIngested.Inc()
	m.AmbientLevel.Set(level)
}

// RecordWindow records an emitted window, its encoded size and the samples dropped with it
func (m *Metrics) RecordWindow(clipBytes int, discarded uint64) {
	m.WindowsEmitted.Inc()
	m.ClipSize.Observe(float64(clipBytes))
	if discarded > 0 {
		m.SamplesDiscarded.Add(float64(discarded))
	}
}

// SetListening sets the listening state gauge
func (m *Metrics) SetListening(listening bool) {
	if listening {
		m.Listening.Set(1)
		return
	}
	m.Listening.Set(0)
	m.AmbientLevel.Set(0)
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionStopped records the duration of a finished session
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionDuration.Observe(durationSeconds)
}

// ObserveRequest records one API operation
func (m *Metrics) ObserveRequest(operation string, duration time.Duration, err error) {
	m.APIRequests.WithLabelValues(operation).Inc()
	m.APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if err == nil {
		return
	}

	status := "transport"
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		status = strconv.Itoa(apiErr.StatusCode)
	}
	m.APIFailures.WithLabelValues(operation, status).Inc()
}

// RecordPrediction counts a prediction by label
func (m *Metrics) RecordPrediction(label string) {
	m.Predictions.WithLabelValues(label).Inc()
}

// RecordAlertFired increments the alerts fired counter
func (m *Metrics) RecordAlertFired() {
	m.AlertsFired.Inc()
}

// RecordAlertSuppressed counts a prediction that did not alert
func (m *Metrics) RecordAlertSuppressed(reason string) {
	m.AlertsSuppressed.WithLabelValues(reason).Inc()
}

// RecordTrainingSample counts an uploaded training clip
func (m *Metrics) RecordTrainingSample(label string) {
	m.TrainingSamples.WithLabelValues(label).Inc()
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
