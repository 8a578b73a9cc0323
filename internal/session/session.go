package session

import (
	"context"
	"errors"
	"time"

	"github.com/ricardorosenberg/tikun/internal/api"
)

var (
	// ErrAlreadyRunning is returned when starting a session that is capturing
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned when stopping a session that is idle
	ErrNotRunning = errors.New("session not running")
	// ErrNoClip is returned when submitting before a clip was recorded
	ErrNoClip = errors.New("no recorded clip")
)

// State is the capture state of a session
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
)

// User-facing status lines
const (
	StatusReady      = "Ready to listen."
	StatusListening  = "Tikun is listening… You're covered."
	StatusPaused     = "Listening paused."
	StatusPermission = "Microphone permission required."
	StatusConnection = "Check your connection to the Tikun API."
	StatusNoDevice   = "No microphone available."

	StatusTrainReady     = "Ready to record."
	StatusTrainRecording = "Recording... keep the sound steady."
	StatusTrainReview    = "Review this clip and confirm."
	StatusTrainSaved     = "Clip saved. Record another example."
)

// Kinds of session tracked by the Manager
const (
	KindListener = "listener"
	KindTrainer  = "trainer"
)

// InferenceAPI is the part of the API client a listening session needs
type InferenceAPI interface {
	Infer(ctx context.Context, clip []byte) (*api.Prediction, error)
	ListDetections(ctx context.Context) ([]api.Detection, error)
}

// TrainingAPI is the part of the API client a training session needs
type TrainingAPI interface {
	UploadSample(ctx context.Context, clip []byte, label, soundID string) (*api.TrainingSample, error)
	Rebuild(ctx context.Context) (*api.RebuildResult, error)
}

// Summary describes any session for listing
type Summary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	State     State     `json:"state"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is implemented by listening and training sessions
type Session interface {
	ID() string
	Summary() Summary
	Stop() error
	// Wait blocks until background uploads finish or ctx is done
	Wait(ctx context.Context) error
}

func waitGroup(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
