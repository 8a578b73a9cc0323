package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricardorosenberg/tikun/internal/api"
	"github.com/ricardorosenberg/tikun/internal/audio"
	"github.com/ricardorosenberg/tikun/internal/capture"
	"github.com/ricardorosenberg/tikun/internal/metrics"
)

// TrainerConfig contains training session parameters
type TrainerConfig struct {
	SampleRate    int
	WindowSeconds float64
	UploadTimeout time.Duration
}

// Trainer records labeled clips for one sound. Each Record captures exactly
// one window and releases the microphone; the clip is held until it is
// submitted or discarded.
type Trainer struct {
	id        string
	soundID   string
	createdAt time.Time
	config    TrainerConfig

	source   capture.Source
	client   TrainingAPI
	recorder *audio.TrainingRecorder
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state   State
	status  string
	clip    []byte
	cancel  context.CancelFunc
	samples []api.TrainingSample
	rebuild *api.RebuildResult

	lastActivity time.Time

	background sync.WaitGroup
	mu         sync.RWMutex
}

// TrainerInfo represents training session information
type TrainerInfo struct {
	ID        string               `json:"id"`
	SoundID   string               `json:"sound_id"`
	State     State                `json:"state"`
	Status    string               `json:"status"`
	HasClip   bool                 `json:"has_clip"`
	ClipBytes int                  `json:"clip_bytes"`
	Samples   []api.TrainingSample `json:"samples"`
	Rebuild   *api.RebuildResult   `json:"rebuild,omitempty"`
}

// NewTrainer creates a training session for soundID
func NewTrainer(config TrainerConfig, soundID string, source capture.Source, client TrainingAPI,
	m *metrics.Metrics, logger *slog.Logger) *Trainer {

	if config.UploadTimeout <= 0 {
		config.UploadTimeout = 30 * time.Second
	}

	id := uuid.NewString()
	now := time.Now()
	return &Trainer{
		id:           id,
		soundID:      soundID,
		createdAt:    now,
		config:       config,
		source:       source,
		client:       client,
		recorder:     audio.NewTrainingRecorder(config.SampleRate, config.WindowSeconds),
		metrics:      m,
		logger:       logger.With(slog.String("session_id", id), slog.String("sound_id", soundID)),
		state:        StateIdle,
		status:       StatusTrainReady,
		lastActivity: now,
	}
}

// ID returns the session id
func (t *Trainer) ID() string {
	return t.id
}

// Open triggers a classifier rebuild in the background. Its outcome never
// blocks or fails the training session.
func (t *Trainer) Open() {
	t.background.Add(1)
	go func() {
		defer t.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.config.UploadTimeout)
		defer cancel()

		result, err := t.client.Rebuild(ctx)
		if err != nil {
			t.logger.Debug("Background rebuild failed", slog.String("error", err.Error()))
			return
		}

		t.mu.Lock()
		t.rebuild = result
		t.mu.Unlock()

		t.logger.Info("Classifier rebuilt",
			slog.Int("samples", result.Samples),
			slog.Int("sounds", result.Sounds))
	}()
}

// Record captures one clip, releases the microphone and holds the encoded
// clip for review. A previously held clip is replaced.
func (t *Trainer) Record(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if t.state == StateCapturing {
		t.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	chunks, err := t.source.Start(runCtx)
	if err != nil {
		cancel()
		if capture.IsPermissionError(err) {
			t.status = StatusPermission
		} else {
			t.status = StatusNoDevice
		}
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}

	t.state = StateCapturing
	t.status = StatusTrainRecording
	t.lastActivity = time.Now()
	t.cancel = cancel
	t.clip = nil
	t.recorder.Reset()
	t.mu.Unlock()

	t.logger.Info("Recording training clip")

	complete := false
	for chunk := range chunks {
		if t.recorder.Feed(chunk) {
			complete = true
			break
		}
	}

	// the clip is complete or capture ended: release the microphone either way
	cancel()
	if err := t.source.Stop(); err != nil {
		t.logger.Warn("Failed to release microphone", slog.String("error", err.Error()))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateIdle
	t.cancel = nil
	t.lastActivity = time.Now()

	if !complete {
		t.status = StatusTrainReady
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("capture ended after %s, before a full clip was recorded", t.recorder.Elapsed())
	}

	t.clip = audio.EncodeClip(t.recorder.Clip(), t.config.SampleRate)
	t.status = StatusTrainReview

	t.logger.Info("Training clip recorded",
		slog.Int("bytes", len(t.clip)),
		slog.Duration("elapsed", t.recorder.Elapsed()))

	return t.clip, nil
}

// Submit uploads the held clip with label and clears it on success
func (t *Trainer) Submit(ctx context.Context, label string) (*api.TrainingSample, error) {
	if err := api.ValidateLabel(label); err != nil {
		return nil, err
	}

	t.mu.RLock()
	clip := t.clip
	t.mu.RUnlock()

	if clip == nil {
		return nil, ErrNoClip
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.UploadTimeout)
	defer cancel()

	sample, err := t.client.UploadSample(ctx, clip, label, t.soundID)
	if err != nil {
		t.mu.Lock()
		t.status = StatusConnection
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to upload training clip: %w", err)
	}

	t.mu.Lock()
	t.clip = nil
	t.status = StatusTrainSaved
	t.samples = append(t.samples, *sample)
	t.lastActivity = time.Now()
	t.mu.Unlock()

	t.metrics.RecordTrainingSample(label)
	t.logger.Info("Training clip saved",
		slog.String("sample_id", sample.ID),
		slog.String("label", label))

	return sample, nil
}

// SubmitClip uploads an externally recorded clip, bypassing the microphone
func (t *Trainer) SubmitClip(ctx context.Context, clip []byte, label string) (*api.TrainingSample, error) {
	if err := audio.ValidateWAV(clip); err != nil {
		return nil, fmt.Errorf("invalid clip: %w", err)
	}

	t.mu.Lock()
	if t.state == StateCapturing {
		t.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	t.clip = clip
	t.status = StatusTrainReview
	t.mu.Unlock()

	return t.Submit(ctx, label)
}

// Discard drops the held clip
func (t *Trainer) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clip = nil
	t.recorder.Reset()
	t.lastActivity = time.Now()
	if t.state == StateIdle {
		t.status = StatusTrainReady
	}
}

// Clip returns the held clip, nil when there is none
func (t *Trainer) Clip() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clip
}

// LastActivity returns when the session last recorded, submitted or discarded
func (t *Trainer) LastActivity() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastActivity
}

// Stop aborts a recording in progress
func (t *Trainer) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	capturing := t.state == StateCapturing
	t.mu.Unlock()

	if !capturing {
		return ErrNotRunning
	}

	cancel()
	return t.source.Stop()
}

// Wait blocks until the background rebuild finishes
func (t *Trainer) Wait(ctx context.Context) error {
	return waitGroup(ctx, t.background.Wait)
}

// Info returns a snapshot of the session
func (t *Trainer) Info() TrainerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	samples := make([]api.TrainingSample, len(t.samples))
	copy(samples, t.samples)

	return TrainerInfo{
		ID:        t.id,
		SoundID:   t.soundID,
		State:     t.state,
		Status:    t.status,
		HasClip:   t.clip != nil,
		ClipBytes: len(t.clip),
		Samples:   samples,
		Rebuild:   t.rebuild,
	}
}

// Summary describes the session for listing
func (t *Trainer) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Summary{
		ID:        t.id,
		Kind:      KindTrainer,
		State:     t.state,
		Status:    t.status,
		CreatedAt: t.createdAt,
	}
}

var _ Session = (*Trainer)(nil)
