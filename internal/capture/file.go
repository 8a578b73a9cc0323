package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ricardorosenberg/tikun/internal/audio"
)

// FileSource replays a mono 16-bit WAV file as capture chunks
type FileSource struct {
	path     string
	config   Config
	realtime bool
	loop     bool
	logger   *slog.Logger

	samples []float32

	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
}

// FileOption configures a FileSource
type FileOption func(*FileSource)

// WithRealtime paces chunks at the recording's sample rate
func WithRealtime(realtime bool) FileOption {
	return func(f *FileSource) { f.realtime = realtime }
}

// WithLoop restarts the file when it ends instead of closing the channel
func WithLoop(loop bool) FileOption {
	return func(f *FileSource) { f.loop = loop }
}

// NewFileSource loads path and checks that it matches the capture sample rate
func NewFileSource(path string, config Config, logger *slog.Logger, opts ...FileOption) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	samples, sampleRate, err := audio.DecodeFloat(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if sampleRate != config.SampleRate {
		return nil, fmt.Errorf("%s is %d Hz, capture expects %d Hz", path, sampleRate, config.SampleRate)
	}

	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}

	f := &FileSource{
		path:     path,
		config:   config,
		realtime: true,
		logger:   logger,
		samples:  samples,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Start begins replaying from the start of the file
func (f *FileSource) Start(ctx context.Context) (<-chan []float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil {
		select {
		case <-f.done:
			// previous replay reached the end of the file
			f.cancel()
		default:
			return nil, fmt.Errorf("file source already started")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	out := make(chan []float32)
	done := make(chan struct{})

	f.cancel = cancel
	f.done = done

	f.logger.Info("Replaying audio file",
		slog.String("path", f.path),
		slog.Int("samples", len(f.samples)),
		slog.Bool("realtime", f.realtime),
		slog.Bool("loop", f.loop))

	go f.run(runCtx, out, done)

	return out, nil
}

func (f *FileSource) run(ctx context.Context, out chan<- []float32, done chan<- struct{}) {
	// done closes first so a reader that saw out close can restart immediately
	defer close(out)
	defer close(done)

	interval := time.Duration(float64(f.config.ChunkSize) / float64(f.config.SampleRate) * float64(time.Second))
	var ticker *time.Ticker
	if f.realtime {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for {
		for offset := 0; offset < len(f.samples); offset += f.config.ChunkSize {
			end := min(offset+f.config.ChunkSize, len(f.samples))
			chunk := make([]float32, end-offset)
			copy(chunk, f.samples[offset:end])

			if ticker != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}

			select {
			case <-ctx.Done():
				return
			case out <- chunk:
			}
		}

		if !f.loop || len(f.samples) == 0 {
			return
		}
	}
}

// Stop halts the replay and waits for the chunk channel to close
func (f *FileSource) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if done == nil {
		return nil
	}

	cancel()
	<-done
	return nil
}

// Duration returns the length of the loaded recording
func (f *FileSource) Duration() time.Duration {
	return time.Duration(float64(len(f.samples)) / float64(f.config.SampleRate) * float64(time.Second))
}
