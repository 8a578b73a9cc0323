package alert

import (
	"fmt"
	"sync"
	"time"
)

// Settings are the user-adjustable alert preferences. They are read at
// decision time, so a change applies from the next prediction onward.
type Settings struct {
	CooldownSeconds float64 `json:"cooldown_seconds"`
	Flash           bool    `json:"flash"`
	FlashIntensity  float64 `json:"flash_intensity"`
	Vibration       bool    `json:"vibration"`
	Beep            bool    `json:"beep"`
}

// Limits enforced on settings changes
const (
	MinCooldownSeconds = 2
	MaxCooldownSeconds = 10
	MinFlashIntensity  = 0.2
	MaxFlashIntensity  = 1.0
)

// DefaultSettings returns a 4 second cooldown with every alert channel on
func DefaultSettings() Settings {
	return Settings{
		CooldownSeconds: 4,
		Flash:           true,
		FlashIntensity:  0.9,
		Vibration:       true,
		Beep:            true,
	}
}

// Cooldown returns the cooldown as a time.Duration
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds * float64(time.Second))
}

// Validate checks a settings change against the UI limits
func (s Settings) Validate() error {
	if s.CooldownSeconds < MinCooldownSeconds || s.CooldownSeconds > MaxCooldownSeconds {
		return fmt.Errorf("cooldown_seconds must be between %d and %d, got %g",
			MinCooldownSeconds, MaxCooldownSeconds, s.CooldownSeconds)
	}

	if s.FlashIntensity < MinFlashIntensity || s.FlashIntensity > MaxFlashIntensity {
		return fmt.Errorf("flash_intensity must be between %.1f and %.1f, got %g",
			MinFlashIntensity, MaxFlashIntensity, s.FlashIntensity)
	}

	return nil
}

// SettingsPatch is a partial settings update; nil fields are left unchanged
type SettingsPatch struct {
	CooldownSeconds *float64 `json:"cooldown_seconds,omitempty"`
	Flash           *bool    `json:"flash,omitempty"`
	FlashIntensity  *float64 `json:"flash_intensity,omitempty"`
	Vibration       *bool    `json:"vibration,omitempty"`
	Beep            *bool    `json:"beep,omitempty"`
}

// Apply returns s with the patch applied
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.CooldownSeconds != nil {
		s.CooldownSeconds = *p.CooldownSeconds
	}
	if p.Flash != nil {
		s.Flash = *p.Flash
	}
	if p.FlashIntensity != nil {
		s.FlashIntensity = *p.FlashIntensity
	}
	if p.Vibration != nil {
		s.Vibration = *p.Vibration
	}
	if p.Beep != nil {
		s.Beep = *p.Beep
	}
	return s
}

// SettingsStore guards the live settings shared by the listener and the
// control API.
type SettingsStore struct {
	current Settings
	mu      sync.RWMutex
}

// NewSettingsStore creates a store holding initial
func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{current: initial}
}

// Get returns the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies a patch, rejecting it whole if the result is invalid
func (s *SettingsStore) Update(patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.Apply(s.current)
	if err := next.Validate(); err != nil {
		return s.current, err
	}
	s.current = next
	return next, nil
}
