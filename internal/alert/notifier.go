package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Presentation constants carried to UI clients
const (
	FlashDuration = 1400 * time.Millisecond
	BeepFrequency = 880
	BeepDuration  = 200 * time.Millisecond
)

// VibrationPattern is the on/off/on pattern in milliseconds
var VibrationPattern = []int{200, 100, 200}

// FlashCue describes the screen flash for an alert
type FlashCue struct {
	Intensity  float64 `json:"intensity"`
	DurationMS int64   `json:"duration_ms"`
}

// BeepCue describes the audible tone for an alert
type BeepCue struct {
	FrequencyHz int   `json:"frequency_hz"`
	DurationMS  int64 `json:"duration_ms"`
}

// Alert is an accepted detection with the cues enabled at decision time
type Alert struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Label      string    `json:"label"`
	SoundID    string    `json:"sound_id,omitempty"`
	SoundName  string    `json:"sound_name,omitempty"`
	Confidence float64   `json:"confidence"`
	HitCount   int       `json:"hit_count"`
	FiredAt    time.Time `json:"fired_at"`
	Flash      *FlashCue `json:"flash,omitempty"`
	Vibration  []int     `json:"vibration,omitempty"`
	Beep       *BeepCue  `json:"beep,omitempty"`
}

// NewAlert builds an alert from a decision, taking cues from settings
func NewAlert(d Decision, settings Settings, now time.Time) Alert {
	a := Alert{
		ID:       uuid.NewString(),
		Label:    d.Label,
		HitCount: d.HitCount,
		FiredAt:  now,
	}
	if settings.Flash {
		a.Flash = &FlashCue{
			Intensity:  settings.FlashIntensity,
			DurationMS: FlashDuration.Milliseconds(),
		}
	}
	if settings.Vibration {
		a.Vibration = append([]int(nil), VibrationPattern...)
	}
	if settings.Beep {
		a.Beep = &BeepCue{
			FrequencyHz: BeepFrequency,
			DurationMS:  BeepDuration.Milliseconds(),
		}
	}
	return a
}

// Notifier delivers an alert to the user
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to a structured logger
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging at info level
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert
func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	n.logger.Info("Sound detected",
		slog.String("alert_id", a.ID),
		slog.String("label", a.Label),
		slog.String("sound_name", a.SoundName),
		slog.Float64("confidence", a.Confidence),
		slog.Int("hits", a.HitCount),
		slog.Bool("flash", a.Flash != nil),
		slog.Bool("vibration", a.Vibration != nil),
		slog.Bool("beep", a.Beep != nil))
	return nil
}

// BellNotifier rings the terminal bell for alerts with a beep cue
type BellNotifier struct {
	w  io.Writer
	mu sync.Mutex
}

// NewBellNotifier creates a notifier writing BEL to w
func NewBellNotifier(w io.Writer) *BellNotifier {
	return &BellNotifier{w: w}
}

// Notify writes a BEL character when the alert carries a beep
func (n *BellNotifier) Notify(_ context.Context, a Alert) error {
	if a.Beep == nil {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := io.WriteString(n.w, "\a"); err != nil {
		return fmt.Errorf("failed to ring bell: %w", err)
	}
	return nil
}

// MultiNotifier fans an alert out to every notifier, collecting failures
type MultiNotifier []Notifier

// Notify calls every notifier even if earlier ones fail
func (m MultiNotifier) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
