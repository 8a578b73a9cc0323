//go:build cgo

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// Device captures from a microphone through miniaudio
type Device struct {
	config Config
	logger *slog.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device
	out    chan []float32
	done   chan struct{}

	dropped atomic.Uint64

	mu sync.Mutex
}

// NewDevice creates an idle microphone source
func NewDevice(config Config, logger *slog.Logger) (*Device, error) {
	if config.SampleRate <= 0 || config.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid capture config: sample rate %d, chunk size %d",
			config.SampleRate, config.ChunkSize)
	}
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	return &Device{
		config: config,
		logger: logger,
	}, nil
}

// Start opens the device and begins delivering chunks. The device stays open
// until Stop is called or ctx is cancelled.
func (d *Device) Start(ctx context.Context) (<-chan []float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return nil, fmt.Errorf("capture device already started")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		d.logger.Debug("miniaudio", slog.String("message", message))
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to init audio context: %w", err))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(d.config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(d.config.ChunkSize)

	if d.config.Device != "" && d.config.Device != "default" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(mctx)
			return nil, classify(fmt.Errorf("failed to list capture devices: %w", err))
		}
		found := false
		for _, info := range infos {
			if info.Name() == d.config.Device {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			freeContext(mctx)
			return nil, fmt.Errorf("%w: no capture device named %q", ErrUnavailable, d.config.Device)
		}
	}

	out := make(chan []float32, d.config.Buffer)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frames uint32) {
			chunk := make([]float32, frames)
			for i := range chunk {
				chunk[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
			}
			// never block the audio thread
			select {
			case out <- chunk:
			default:
				d.dropped.Add(1)
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, classify(fmt.Errorf("failed to open capture device: %w", err))
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, classify(fmt.Errorf("failed to start capture: %w", err))
	}

	d.mctx = mctx
	d.device = device
	d.out = out
	d.done = make(chan struct{})

	d.logger.Info("Microphone opened",
		slog.String("device", d.config.Device),
		slog.Int("sample_rate", d.config.SampleRate),
		slog.Int("chunk_size", d.config.ChunkSize))

	go func(done chan struct{}) {
		select {
		case <-ctx.Done():
			d.stop(done)
		case <-done:
		}
	}(d.done)

	return out, nil
}

// Stop closes the device and the chunk channel
func (d *Device) Stop() error {
	return d.stop(nil)
}

// stop releases the device; a non-nil done limits it to the capture run that owns done
func (d *Device) stop(done chan struct{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil || (done != nil && done != d.done) {
		return nil
	}

	// Uninit waits for the data callback to return, so closing out afterwards is safe
	d.device.Uninit()
	freeContext(d.mctx)
	close(d.out)
	close(d.done)

	d.device = nil
	d.mctx = nil
	d.out = nil
	d.done = nil

	d.logger.Info("Microphone released", slog.Uint64("dropped_chunks", d.dropped.Load()))
	return nil
}

// Dropped returns how many chunks were discarded because the consumer lagged
func (d *Device) Dropped() uint64 {
	return d.dropped.Load()
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}
