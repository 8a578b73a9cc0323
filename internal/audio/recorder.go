package audio

import (
	"sync"
	"time"
)

// RecorderState represents where a training recording currently is
type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderDone
)

func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderRecording:
		return "recording"
	case RecorderDone:
		return "done"
	default:
		return "unknown"
	}
}

// TrainingRecorder captures exactly one window for a training sample. Once the
// first window completes, further chunks are ignored until Reset.
type TrainingRecorder struct {
	window *WindowBuffer
	state  RecorderState
	clip   []float32

	startedAt  time.Time
	finishedAt time.Time

	mu sync.RWMutex
}

// NewTrainingRecorder creates a recorder for one clip of windowSeconds at sampleRate
func NewTrainingRecorder(sampleRate int, windowSeconds float64) *TrainingRecorder {
	return &TrainingRecorder{
		window: NewWindowBuffer(sampleRate, windowSeconds),
		state:  RecorderIdle,
	}
}

// Feed ingests a chunk and reports whether the clip is complete
func (r *TrainingRecorder) Feed(chunk []float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case RecorderDone:
		return true
	case RecorderIdle:
		r.state = RecorderRecording
		r.startedAt = time.Now()
	}

	samples, ok := r.window.Ingest(chunk)
	if !ok {
		return false
	}

	r.clip = samples
	r.state = RecorderDone
	r.finishedAt = time.Now()
	return true
}

// Clip returns the recorded samples, or nil while recording
func (r *TrainingRecorder) Clip() []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clip
}

// State returns the recorder state
func (r *TrainingRecorder) State() RecorderState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Elapsed returns how long the recording took, or has taken so far
func (r *TrainingRecorder) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch r.state {
	case RecorderRecording:
		return time.Since(r.startedAt)
	case RecorderDone:
		return r.finishedAt.Sub(r.startedAt)
	default:
		return 0
	}
}

// Reset discards the clip and any partial recording
func (r *TrainingRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.window.Reset()
	r.clip = nil
	r.state = RecorderIdle
	r.startedAt = time.Time{}
	r.finishedAt = time.Time{}
}
