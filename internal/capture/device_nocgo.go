//go:build !cgo

package capture

import (
	"context"
	"fmt"
	"log/slog"
)

// Device is unavailable when built without cgo
type Device struct{}

// NewDevice always fails without cgo
func NewDevice(config Config, logger *slog.Logger) (*Device, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrUnavailable)
}

// Start always fails without cgo
func (d *Device) Start(ctx context.Context) (<-chan []float32, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrUnavailable)
}

// Stop is a no-op without cgo
func (d *Device) Stop() error {
	return nil
}

// Dropped is always zero without cgo
func (d *Device) Dropped() uint64 {
	return 0
}
