package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ricardorosenberg/tikun/internal/alert"
	"github.com/ricardorosenberg/tikun/internal/capture"
	"github.com/ricardorosenberg/tikun/internal/config"
	"github.com/ricardorosenberg/tikun/internal/metrics"
	"github.com/ricardorosenberg/tikun/internal/session"
)

const (
	serviceName    = "tikun"
	serviceVersion = "1.0.0"

	readinessTimeout = 5 * time.Second
)

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Dependencies are the components exposed through the HTTP API
type Dependencies struct {
	Config   *config.Config
	Listener *session.Listener
	Sessions *session.Manager
	Settings *alert.SettingsStore
	Hub      *alert.Hub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Checks   map[string]ReadinessCheck
}

// HTTPServer provides the local control and monitoring API
type HTTPServer struct {
	server *http.Server
	logger *slog.Logger

	config   *config.Config
	listener *session.Listener
	sessions *session.Manager
	settings *alert.SettingsStore
	hub      *alert.Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	checks   map[string]ReadinessCheck

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Dependencies) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    deps.Config,
		listener:  deps.Listener,
		sessions:  deps.Sessions,
		settings:  deps.Settings,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		checks:    deps.Checks,
		startTime: time.Now(),
	}

	// Alert streams are long-lived, so only header reads are bounded
	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Liveness and readiness
	mux.HandleFunc("/healthz", h.withMetrics("/healthz", h.handleHealth))
	mux.HandleFunc("/readyz", h.withMetrics("/readyz", h.handleReady))

	// Listening session control
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleSessionStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleSessionStop))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))

	mux.HandleFunc("/settings", h.withMetrics("/settings", h.handleSettings))
	mux.HandleFunc("/detections", h.withMetrics("/detections", h.handleDetections))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// The WebSocket upgrade hijacks the connection, so it bypasses withMetrics
	mux.Handle("/ws/alerts", h.hub)

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Run serves until ctx is done, then shuts down gracefully
func (h *HTTPServer) Run(ctx context.Context) error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /healthz endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.listener.Info()
	hubStats := h.hub.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"listener": map[string]interface{}{
				"state":          info.State,
				"status":         info.Status,
				"windows_sent":   info.WindowsSent,
				"uploads_failed": info.UploadsFailed,
				"alerts_fired":   info.AlertsFired,
			},
			"alert_hub": map[string]interface{}{
				"clients":    hubStats.Clients,
				"broadcasts": hubStats.Broadcasts,
				"dropped":    hubStats.Dropped,
			},
			"sessions": map[string]interface{}{
				"active": h.sessions.Count(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleReady implements the /readyz endpoint. Every check runs concurrently;
// the first failure cancels the rest.
func (h *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]string, len(h.checks))

	g, gctx := errgroup.WithContext(ctx)
	for name, check := range h.checks {
		name, check := name, check
		g.Go(func() error {
			err := check(gctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = err.Error()
				return fmt.Errorf("%s: %w", name, err)
			}
			results[name] = "ok"
			return nil
		})
	}

	status, code := "ready", http.StatusOK
	if err := g.Wait(); err != nil {
		status, code = "not_ready", http.StatusServiceUnavailable
		h.logger.Warn("Readiness check failed", slog.String("error", err.Error()))
	}

	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": results,
	})
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.listener.Info())
}

// handleSessionStart implements the /session/start endpoint
func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// capture outlives the request that started it
	err := h.listener.Start(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.listener.Info())
	case errors.Is(err, session.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case capture.IsPermissionError(err):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

// handleSessionStop implements the /session/stop endpoint
func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.listener.Stop(); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, h.listener.Info())
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summaries := h.sessions.Sessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(summaries),
		"timestamp":      time.Now().UTC(),
		"sessions":       summaries,
	})
}

// handleSettings implements GET and PATCH /settings
func (h *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.settings.Get())

	case http.MethodPatch:
		var patch alert.SettingsPatch
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid settings body: %w", err))
			return
		}

		settings, err := h.settings.Update(patch)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		h.logger.Info("Alert settings updated",
			slog.Float64("cooldown_seconds", settings.CooldownSeconds),
			slog.Bool("flash", settings.Flash),
			slog.Bool("vibration", settings.Vibration),
			slog.Bool("beep", settings.Beep),
		)
		writeJSON(w, http.StatusOK, settings)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDetections implements the /detections endpoint. ?refresh=1 reloads
// the history from the API first.
func (h *HTTPServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("refresh") == "1" {
		h.listener.RefreshHistory(r.Context())
	}

	detections := h.listener.History()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_detections": len(detections),
		"detections":       detections,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The token file location is omitted
	sanitizedConfig := map[string]interface{}{
		"api": map[string]interface{}{
			"base_url":       h.config.API.BaseURL,
			"timeout":        h.config.API.Timeout,
			"max_retries":    h.config.API.MaxRetries,
			"max_concurrent": h.config.API.MaxConcurrent,
		},
		"audio": map[string]interface{}{
			"sample_rate":    h.config.Audio.SampleRate,
			"chunk_size":     h.config.Audio.ChunkSize,
			"window_seconds": h.config.Audio.WindowSeconds,
			"window_samples": h.config.Audio.WindowSamples(),
			"device":         h.config.Audio.Device,
		},
		"alert": map[string]interface{}{
			"hit_window_ms": h.config.Alert.HitWindowMS,
			"min_hits":      h.config.Alert.MinHits,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Tikun sound alert listener",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":               "API documentation",
			"GET /healthz":        "Liveness check",
			"GET /readyz":         "Readiness check (API reachability)",
			"GET /session":        "Listening session state",
			"POST /session/start": "Start listening",
			"POST /session/stop":  "Stop listening and release the microphone",
			"GET /sessions":       "List all sessions",
			"GET /settings":       "Alert settings",
			"PATCH /settings":     "Update alert settings",
			"GET /detections":     "Detection history",
			"GET /config":         "Listener configuration",
			"GET /metrics":        "Prometheus metrics",
			"GET /ws/alerts":      "WebSocket alert stream",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
