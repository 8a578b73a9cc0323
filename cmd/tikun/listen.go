package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ricardorosenberg/tikun/internal/alert"
	"github.com/ricardorosenberg/tikun/internal/capture"
	"github.com/ricardorosenberg/tikun/internal/server"
	"github.com/ricardorosenberg/tikun/internal/session"
)

const shutdownTimeout = 10 * time.Second

// errCaptureEnded stops the run group when a replayed file runs out
var errCaptureEnded = errors.New("capture ended")

func runListen(a *app, args []string) error {
	fs := newFlagSet("listen", "[-device name|file.wav] [-loop] [-no-http]")
	device := fs.String("device", a.cfg.Audio.Device, `Capture device name, "default", or a WAV file to replay`)
	loop := fs.Bool("loop", false, "Replay a WAV file device forever")
	noHTTP := fs.Bool("no-http", false, "Disable the local HTTP API")
	if err := parse(fs, args); err != nil {
		return err
	}

	a.logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", a.configPath),
	)

	// Log configuration summary (without sensitive data)
	a.logger.Info("Configuration loaded",
		slog.String("api_url", a.cfg.API.BaseURL),
		slog.Int("sample_rate", a.cfg.Audio.SampleRate),
		slog.Int("chunk_size", a.cfg.Audio.ChunkSize),
		slog.Float64("window_seconds", a.cfg.Audio.WindowSeconds),
		slog.String("device", *device),
		slog.Duration("cooldown", a.cfg.Alert.GetCooldown()),
		slog.Int("min_hits", a.cfg.Alert.MinHits),
		slog.String("log_level", a.cfg.Logging.Level),
	)

	if a.auth.AccessToken() == "" {
		a.logger.Warn("Not signed in; inference requests will be rejected until you run 'tikun login'")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := a.newSource(*device, *loop)
	if err != nil {
		return err
	}

	settings := alert.NewSettingsStore(a.cfg.Alert.Settings())

	hub := alert.NewHub(a.logger)
	notifier := alert.MultiNotifier{
		alert.NewLogNotifier(a.logger),
		alert.NewBellNotifier(os.Stdout),
		hub,
	}

	listener := session.NewListener(session.ListenerConfig{
		SampleRate:    a.cfg.Audio.SampleRate,
		WindowSeconds: a.cfg.Audio.WindowSeconds,
		HitWindow:     a.cfg.Alert.GetHitWindow(),
		MinHits:       a.cfg.Alert.MinHits,
		UploadTimeout: a.cfg.API.GetTimeoutDuration(),
	}, source, a.client, settings, notifier, a.metrics, a.logger)

	sessions := session.NewManager(a.logger, session.DefaultIdleTimeout)
	sessions.Add(listener)

	if err := listener.Start(ctx); err != nil {
		shutdownSessions(a, sessions)
		return err
	}
	listener.RefreshHistory(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.HTTP.Enabled && !*noHTTP {
		httpServer := server.NewHTTPServer(a.cfg.HTTP, a.logger, server.Dependencies{
			Config:   a.cfg,
			Listener: listener,
			Sessions: sessions,
			Settings: settings,
			Hub:      hub,
			Metrics:  a.metrics,
			Gatherer: a.registry,
			Checks: map[string]server.ReadinessCheck{
				"api": func(ctx context.Context) error {
					_, err := a.client.Health(ctx)
					return err
				},
				"auth": func(ctx context.Context) error {
					_, err := a.auth.Token()
					return err
				},
			},
		})
		g.Go(func() error {
			return httpServer.Run(gctx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-listener.Done():
		}

		if !isFile(*device) {
			// stopped through the API: keep serving until a signal arrives
			<-gctx.Done()
			return nil
		}
		a.logger.Info("Replay finished")
		return errCaptureEnded
	})

	a.logger.Info("Service started successfully, waiting for signals...")

	err = g.Wait()
	if ctx.Err() != nil {
		a.logger.Info("Received shutdown signal")
	}

	a.logger.Info("Starting graceful shutdown...")
	shutdownSessions(a, sessions)

	info := listener.Info()
	stats := a.client.GetStats()
	a.logger.Info("Final listener statistics",
		slog.Uint64("windows_sent", info.WindowsSent),
		slog.Uint64("predictions", info.Predictions),
		slog.Uint64("uploads_failed", info.UploadsFailed),
		slog.Uint64("alerts_fired", info.AlertsFired),
		slog.Uint64("api_requests", stats.TotalRequests),
		slog.Float64("api_success_rate", stats.SuccessRate),
	)

	a.logger.Info("Service stopped")

	if errors.Is(err, errCaptureEnded) {
		return nil
	}
	return err
}

func shutdownSessions(a *app, sessions *session.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sessions.Shutdown(ctx); err != nil {
		a.logger.Error("Error stopping sessions", slog.String("error", err.Error()))
	}
}

// newSource opens the capture device, or replays device as a WAV file when
// it names one
func (a *app) newSource(device string, loop bool) (capture.Source, error) {
	cfg := capture.DefaultConfig()
	cfg.SampleRate = a.cfg.Audio.SampleRate
	cfg.ChunkSize = a.cfg.Audio.ChunkSize
	cfg.Device = device

	if isFile(device) {
		source, err := capture.NewFileSource(device, cfg, a.logger, capture.WithLoop(loop))
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		a.logger.Info("Replaying audio file",
			slog.String("path", device),
			slog.Duration("duration", source.Duration()),
			slog.Bool("loop", loop),
		)
		return source, nil
	}

	source, err := capture.NewDevice(cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	return source, nil
}

func isFile(device string) bool {
	return strings.HasSuffix(strings.ToLower(device), ".wav")
}
