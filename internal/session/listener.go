package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricardorosenberg/tikun/internal/alert"
	"github.com/ricardorosenberg/tikun/internal/api"
	"github.com/ricardorosenberg/tikun/internal/audio"
	"github.com/ricardorosenberg/tikun/internal/capture"
	"github.com/ricardorosenberg/tikun/internal/metrics"
)

// ListenerConfig contains listening session parameters
type ListenerConfig struct {
	SampleRate    int
	WindowSeconds float64
	HitWindow     time.Duration
	MinHits       int
	UploadTimeout time.Duration
}

// Listener is a live listening session. Chunks are ingested synchronously on
// one consumer goroutine; each window is encoded and uploaded on its own
// goroutine. Results that arrive after Stop belong to an old generation and
// are dropped.
type Listener struct {
	id        string
	createdAt time.Time
	config    ListenerConfig

	source   capture.Source
	client   InferenceAPI
	settings *alert.SettingsStore
	notifier alert.Notifier
	detector *alert.Detector
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Capture state, guarded by mu
	state      State
	status     string
	generation uint64
	startedAt  time.Time
	cancel     context.CancelFunc
	consumed   chan struct{}

	lastPrediction *api.Prediction
	lastAlert      *alert.Alert
	level          float64
	history        []api.Detection
	window         audio.WindowStats

	// Statistics
	windowsSent     uint64
	predictions     uint64
	uploadsFailed   uint64
	alertsFired     uint64
	latePredictions uint64

	uploads sync.WaitGroup
	mu      sync.RWMutex
}

// ListenerInfo represents listening session information for monitoring and APIs
type ListenerInfo struct {
	ID             string            `json:"id"`
	State          State             `json:"state"`
	Status         string            `json:"status"`
	StartedAt      time.Time         `json:"started_at,omitempty"`
	Duration       time.Duration     `json:"duration"`
	AmbientLevel   float64           `json:"ambient_level"`
	LastPrediction *api.Prediction   `json:"last_prediction,omitempty"`
	LastAlert      *alert.Alert      `json:"last_alert,omitempty"`
	RecentHits     []alert.Hit       `json:"recent_hits"`
	Window         audio.WindowStats `json:"window"`

	WindowsSent     uint64 `json:"windows_sent"`
	Predictions     uint64 `json:"predictions"`
	UploadsFailed   uint64 `json:"uploads_failed"`
	AlertsFired     uint64 `json:"alerts_fired"`
	LatePredictions uint64 `json:"late_predictions"`
}

// NewListener creates an idle listening session
func NewListener(config ListenerConfig, source capture.Source, client InferenceAPI,
	settings *alert.SettingsStore, notifier alert.Notifier, m *metrics.Metrics, logger *slog.Logger) *Listener {

	if config.UploadTimeout <= 0 {
		config.UploadTimeout = 30 * time.Second
	}

	id := uuid.NewString()
	return &Listener{
		id:        id,
		createdAt: time.Now(),
		config:    config,
		source:    source,
		client:    client,
		settings:  settings,
		notifier:  notifier,
		detector:  alert.NewDetector(config.HitWindow, config.MinHits),
		metrics:   m,
		logger:    logger.With(slog.String("session_id", id)),
		state:     StateIdle,
		status:    StatusReady,
	}
}

// ID returns the session id
func (l *Listener) ID() string {
	return l.id
}

// Start acquires the capture source and begins listening. A refused
// microphone leaves the session idle with the permission status.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateCapturing {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	chunks, err := l.source.Start(runCtx)
	if err != nil {
		cancel()
		if capture.IsPermissionError(err) {
			l.status = StatusPermission
		} else {
			l.status = StatusNoDevice
		}
		l.logger.Error("Failed to acquire microphone", slog.String("error", err.Error()))
		return fmt.Errorf("failed to start capture: %w", err)
	}

	l.generation++
	l.state = StateCapturing
	l.status = StatusListening
	l.startedAt = time.Now()
	l.cancel = cancel
	l.consumed = make(chan struct{})
	l.level = 0
	l.detector.Reset()

	l.metrics.RecordSessionStarted()
	l.metrics.SetListening(true)

	go l.consume(l.generation, chunks, l.consumed)

	l.logger.Info("Listening started",
		slog.Int("sample_rate", l.config.SampleRate),
		slog.Float64("window_seconds", l.config.WindowSeconds))

	return nil
}

// consume is the only goroutine that touches the window buffer
func (l *Listener) consume(gen uint64, chunks <-chan []float32, done chan struct{}) {
	defer close(done)

	window := audio.NewWindowBuffer(l.config.SampleRate, l.config.WindowSeconds)
	var dropped uint64

	for chunk := range chunks {
		level := audio.RMS(chunk)
		l.metrics.RecordChunk(level)

		samples, ok := window.Ingest(chunk)
		stats := window.GetStats()

		l.mu.Lock()
		if l.generation == gen {
			l.level = level
			l.window = stats
		}
		l.mu.Unlock()

		if !ok {
			continue
		}

		clip := audio.EncodeClip(samples, l.config.SampleRate)
		l.metrics.RecordWindow(len(clip), stats.SamplesDropped-dropped)
		dropped = stats.SamplesDropped

		l.uploads.Add(1)
		go l.upload(gen, clip)
	}

	// the source ran dry on its own, as a replayed file does
	l.finish(gen, StatusPaused)
}

func (l *Listener) upload(gen uint64, clip []byte) {
	defer l.uploads.Done()

	l.mu.Lock()
	l.windowsSent++
	l.mu.Unlock()

	// uploads outlive Stop; their results are dropped by generation
	ctx, cancel := context.WithTimeout(context.Background(), l.config.UploadTimeout)
	defer cancel()

	prediction, err := l.client.Infer(ctx, clip)
	l.handlePrediction(gen, prediction, err, time.Now())
}

// handlePrediction applies an inference result that arrived at now
func (l *Listener) handlePrediction(gen uint64, prediction *api.Prediction, err error, now time.Time) {
	l.mu.Lock()

	if gen != l.generation || l.state != StateCapturing {
		l.latePredictions++
		l.mu.Unlock()
		l.logger.Debug("Ignoring prediction from stopped session")
		return
	}

	if err != nil {
		l.uploadsFailed++
		l.status = StatusConnection
		l.mu.Unlock()
		l.logger.Warn("Inference request failed", slog.String("error", err.Error()))
		return
	}

	l.predictions++
	l.lastPrediction = prediction
	l.mu.Unlock()

	l.metrics.RecordPrediction(prediction.Label)

	settings := l.settings.Get()

	// Stop may have run since the check above. The detector and the alert
	// bookkeeping are only touched while the run is still current.
	l.mu.Lock()
	if gen != l.generation || l.state != StateCapturing {
		l.latePredictions++
		l.mu.Unlock()
		l.logger.Debug("Ignoring prediction from stopped session")
		return
	}

	decision := l.detector.Observe(prediction.Label, now, settings.Cooldown())

	var a alert.Alert
	if decision.Alert {
		a = alert.NewAlert(decision, settings, now)
		a.SessionID = l.id
		a.SoundID = prediction.SoundID
		a.SoundName = prediction.SoundName
		if a.SoundName == "" {
			a.SoundName = prediction.Label
		}
		a.Confidence = prediction.Confidence

		l.alertsFired++
		fired := a
		l.lastAlert = &fired
	}
	l.mu.Unlock()

	l.logger.Debug("Prediction received",
		slog.String("label", prediction.Label),
		slog.Float64("confidence", prediction.Confidence),
		slog.Int("hits", decision.HitCount),
		slog.String("decision", decision.Reason))

	if !decision.Alert {
		if decision.Reason != alert.ReasonUnknown {
			l.metrics.RecordAlertSuppressed(decision.Reason)
		}
		return
	}

	l.metrics.RecordAlertFired()

	if err := l.notifier.Notify(context.Background(), a); err != nil {
		l.logger.Warn("Alert delivery failed", slog.String("error", err.Error()))
	}

	l.uploads.Add(1)
	go func() {
		defer l.uploads.Done()
		l.RefreshHistory(context.Background())
	}()
}

// RefreshHistory reloads detection history from the API. A failed load
// clears the cached history.
func (l *Listener) RefreshHistory(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, l.config.UploadTimeout)
	defer cancel()

	detections, err := l.client.ListDetections(ctx)
	if err != nil {
		l.logger.Warn("Failed to load detection history", slog.String("error", err.Error()))
		detections = nil
	}

	l.mu.Lock()
	l.history = detections
	l.mu.Unlock()
}

// History returns the cached detection history
func (l *Listener) History() []api.Detection {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := make([]api.Detection, len(l.history))
	copy(history, l.history)
	return history
}

// Stop releases the microphone and returns to idle. Uploads already in
// flight keep running; their results are ignored.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.state != StateCapturing {
		l.mu.Unlock()
		return ErrNotRunning
	}
	consumed := l.consumed
	l.mu.Unlock()

	l.finish(0, StatusPaused)

	if err := l.source.Stop(); err != nil {
		l.logger.Warn("Failed to release microphone", slog.String("error", err.Error()))
	}
	<-consumed

	return nil
}

// finish moves the session to idle. gen 0 finishes whatever run is current.
func (l *Listener) finish(gen uint64, status string) {
	l.mu.Lock()
	if l.state != StateCapturing || (gen != 0 && gen != l.generation) {
		l.mu.Unlock()
		return
	}

	l.generation++
	l.state = StateIdle
	l.status = status
	l.level = 0
	duration := time.Since(l.startedAt)
	cancel := l.cancel
	l.cancel = nil
	l.detector.Reset()
	l.mu.Unlock()

	cancel()
	l.metrics.SetListening(false)
	l.metrics.RecordSessionStopped(duration.Seconds())

	l.logger.Info("Listening stopped", slog.Duration("duration", duration))
}

// Wait blocks until in-flight uploads and history reloads finish
func (l *Listener) Wait(ctx context.Context) error {
	return waitGroup(ctx, l.uploads.Wait)
}

// Done returns a channel closed when the current capture run ends, or nil when idle
func (l *Listener) Done() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateCapturing {
		return nil
	}
	return l.consumed
}

// Info returns a snapshot of the session
func (l *Listener) Info() ListenerInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info := ListenerInfo{
		ID:              l.id,
		State:           l.state,
		Status:          l.status,
		AmbientLevel:    l.level,
		LastPrediction:  l.lastPrediction,
		LastAlert:       l.lastAlert,
		RecentHits:      l.detector.RecentHits(),
		Window:          l.window,
		WindowsSent:     l.windowsSent,
		Predictions:     l.predictions,
		UploadsFailed:   l.uploadsFailed,
		AlertsFired:     l.alertsFired,
		LatePredictions: l.latePredictions,
	}
	if l.state == StateCapturing {
		info.StartedAt = l.startedAt
		info.Duration = time.Since(l.startedAt)
	}
	return info
}

// Summary describes the session for listing
func (l *Listener) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Summary{
		ID:        l.id,
		Kind:      KindListener,
		State:     l.state,
		Status:    l.status,
		CreatedAt: l.createdAt,
	}
}

// IsCapturing reports whether the microphone is held
func (l *Listener) IsCapturing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateCapturing
}

var _ Session = (*Listener)(nil)
