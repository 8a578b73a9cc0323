package capture

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrPermissionDenied means the platform refused access to the microphone
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnavailable means no capture device could be opened
	ErrUnavailable = errors.New("audio capture unavailable")
)

// Source delivers captured audio chunks. Stop releases the underlying
// resource, is safe to call more than once and closes the chunk channel.
// Start may be called again after Stop.
type Source interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop() error
}

// Config describes the capture format
type Config struct {
	SampleRate int
	ChunkSize  int    // frames per chunk
	Device     string // device name, "default" for the system default
	Buffer     int    // chunks queued before new ones are dropped
}

// DefaultConfig returns 16kHz mono capture in 4096-frame chunks
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		ChunkSize:  4096,
		Device:     "default",
		Buffer:     8,
	}
}

// IsPermissionError reports whether err is a microphone permission refusal
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return errors.Join(ErrPermissionDenied, err)
	}
	return errors.Join(ErrUnavailable, err)
}
