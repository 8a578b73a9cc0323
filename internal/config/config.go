package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ricardorosenberg/tikun/internal/alert"
)

// Config represents the complete listener configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Audio   AudioConfig   `yaml:"audio"`
	Alert   AlertConfig   `yaml:"alert"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig contains inference/training API client configuration
type APIConfig struct {
	BaseURL       string `yaml:"base_url"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// AuthConfig contains authentication provider configuration
type AuthConfig struct {
	TokenFile string `yaml:"token_file"`
}

// AudioConfig contains capture and windowing parameters
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	ChunkSize     int     `yaml:"chunk_size"`     // frames per capture callback
	WindowSeconds float64 `yaml:"window_seconds"` // seconds per inference window
	Device        string  `yaml:"device"`         // "default" or a WAV file path to replay
}

// AlertConfig contains the detection cooldown policy and alert toggles
type AlertConfig struct {
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
	HitWindowMS     int     `yaml:"hit_window_ms"`
	MinHits         int     `yaml:"min_hits"`
	Flash           bool    `yaml:"flash"`
	FlashIntensity  float64 `yaml:"flash_intensity"`
	Vibration       bool    `yaml:"vibration"`
	Beep            bool    `yaml:"beep"`
}

// HTTPConfig contains the local control/monitor API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that works against a local API on port 8000
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "http://localhost:8000",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 4,
		},
		Auth: AuthConfig{
			TokenFile: defaultTokenFile(),
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			ChunkSize:     4096,
			WindowSeconds: 0.96,
			Device:        "default",
		},
		Alert: AlertConfig{
			CooldownSeconds: 4,
			HitWindowMS:     3000,
			MinHits:         2,
			Flash:           true,
			FlashIntensity:  0.9,
			Vibration:       true,
			Beep:            true,
		},
		HTTP: HTTPConfig{
			Port:    8088,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tikun_token"
	}
	return filepath.Join(home, ".tikun", "token")
}

// Load reads the optional .env file, the YAML configuration file and the
// TIKUN_* environment overrides, in that order. An empty path skips the
// YAML file and starts from Default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TIKUN_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("TIKUN_TOKEN_FILE"); v != "" {
		c.Auth.TokenFile = v
	}
	if v := os.Getenv("TIKUN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TIKUN_HTTP_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}
	if v := os.Getenv("TIKUN_AUDIO_DEVICE"); v != "" {
		c.Audio.Device = v
	}
	if v := os.Getenv("TIKUN_COOLDOWN_SECONDS"); v != "" {
		seconds, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TIKUN_COOLDOWN_SECONDS must be a number, got %q", v)
		}
		c.Alert.CooldownSeconds = seconds
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Alert.Validate(); err != nil {
		return fmt.Errorf("alert config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates API client configuration
func (a *APIConfig) Validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	return nil
}

// Validate validates authentication configuration
func (a *AuthConfig) Validate() error {
	if a.TokenFile == "" {
		return fmt.Errorf("token_file cannot be empty")
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.ChunkSize < 256 || a.ChunkSize > 16384 {
		return fmt.Errorf("chunk_size must be between 256 and 16384 frames, got %d", a.ChunkSize)
	}

	if a.WindowSeconds <= 0 || a.WindowSeconds > 10 {
		return fmt.Errorf("window_seconds must be in (0, 10], got %f", a.WindowSeconds)
	}

	if a.WindowSamples() < 1 {
		return fmt.Errorf("window_seconds %f is shorter than one sample at %d Hz", a.WindowSeconds, a.SampleRate)
	}

	if a.Device == "" {
		return fmt.Errorf("device cannot be empty")
	}

	return nil
}

// Validate validates the alert policy. Cooldown and flash intensity must
// fall inside the same limits the live settings API enforces.
func (a *AlertConfig) Validate() error {
	if a.HitWindowMS < 1 {
		return fmt.Errorf("hit_window_ms must be positive, got %d", a.HitWindowMS)
	}

	if a.MinHits < 1 {
		return fmt.Errorf("min_hits must be at least 1, got %d", a.MinHits)
	}

	return a.Settings().Validate()
}

// Settings returns the initial live alert settings
func (a *AlertConfig) Settings() alert.Settings {
	return alert.Settings{
		CooldownSeconds: a.CooldownSeconds,
		Flash:           a.Flash,
		FlashIntensity:  a.FlashIntensity,
		Vibration:       a.Vibration,
		Beep:            a.Beep,
	}
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// WindowSamples returns the number of samples in one inference window
func (a *AudioConfig) WindowSamples() int {
	return int(a.WindowSeconds * float64(a.SampleRate))
}

// GetTimeoutDuration returns the API timeout as a time.Duration
func (a *APIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetCooldown returns the alert cooldown as a time.Duration
func (a *AlertConfig) GetCooldown() time.Duration {
	return time.Duration(a.CooldownSeconds * float64(time.Second))
}

// GetHitWindow returns the repeated-hit window as a time.Duration
func (a *AlertConfig) GetHitWindow() time.Duration {
	return time.Duration(a.HitWindowMS) * time.Millisecond
}
