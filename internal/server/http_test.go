package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardorosenberg/tikun/internal/alert"
	"github.com/ricardorosenberg/tikun/internal/api"
	"github.com/ricardorosenberg/tikun/internal/capture"
	"github.com/ricardorosenberg/tikun/internal/config"
	"github.com/ricardorosenberg/tikun/internal/metrics"
	"github.com/ricardorosenberg/tikun/internal/session"
)

type stubSource struct {
	mu       sync.Mutex
	ch       chan []float32
	startErr error
}

func (s *stubSource) Start(ctx context.Context) (<-chan []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.ch = make(chan []float32)
	return s.ch, nil
}

func (s *stubSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	return nil
}

type stubAPI struct {
	detections []api.Detection
}

func (s *stubAPI) Infer(ctx context.Context, clip []byte) (*api.Prediction, error) {
	return &api.Prediction{Label: alert.UnknownLabel}, nil
}

func (s *stubAPI) ListDetections(ctx context.Context) ([]api.Detection, error) {
	return s.detections, nil
}

type testServer struct {
	*httptest.Server
	hub      *alert.Hub
	listener *session.Listener
}

func newTestServer(t *testing.T, source capture.Source, checks map[string]ReadinessCheck) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	settings := alert.NewSettingsStore(alert.DefaultSettings())
	hub := alert.NewHub(logger)
	client := &stubAPI{detections: []api.Detection{{ID: "d1", SoundID: "doorbell", Confidence: 0.9}}}

	listener := session.NewListener(session.ListenerConfig{
		SampleRate:    16000,
		WindowSeconds: 0.96,
		HitWindow:     3 * time.Second,
		MinHits:       2,
	}, source, client, settings, hub, m, logger)

	mgr := session.NewManager(logger, time.Minute)
	mgr.Add(listener)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	cfg := config.Default()
	h := NewHTTPServer(cfg.HTTP, logger, Dependencies{
		Config:   cfg,
		Listener: listener,
		Sessions: mgr,
		Settings: settings,
		Hub:      hub,
		Metrics:  m,
		Gatherer: reg,
		Checks:   checks,
	})

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, hub: hub, listener: listener}
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return resp, decoded
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["endpoints"], "GET /ws/alerts")

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, _ = doRequest(t, http.MethodPost, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]ReadinessCheck
		expected int
		status   string
	}{
		{
			name:     "no checks",
			expected: http.StatusOK,
			status:   "ready",
		},
		{
			name: "all passing",
			checks: map[string]ReadinessCheck{
				"api": func(ctx context.Context) error { return nil },
			},
			expected: http.StatusOK,
			status:   "ready",
		},
		{
			name: "api unreachable",
			checks: map[string]ReadinessCheck{
				"api":   func(ctx context.Context) error { return errors.New("connection refused") },
				"token": func(ctx context.Context) error { return nil },
			},
			expected: http.StatusServiceUnavailable,
			status:   "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubSource{}, tt.checks)

			resp, body := doRequest(t, http.MethodGet, ts.URL+"/readyz", "")
			assert.Equal(t, tt.expected, resp.StatusCode)
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestSessionStartStop(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/session/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "capturing", body["state"])
	assert.Equal(t, session.StatusListening, body["status"])

	resp, _ = doRequest(t, http.MethodPost, ts.URL+"/session/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/session", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "capturing", body["state"])

	resp, body = doRequest(t, http.MethodPost, ts.URL+"/session/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, session.StatusPaused, body["status"])

	resp, _ = doRequest(t, http.MethodPost, ts.URL+"/session/stop", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/session/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSessionStartPermissionDenied(t *testing.T) {
	ts := newTestServer(t, &stubSource{startErr: capture.ErrPermissionDenied}, nil)

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/session/start", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body["error"], "permission")

	_, body = doRequest(t, http.MethodGet, ts.URL+"/session", "")
	assert.Equal(t, session.StatusPermission, body["status"])
}

func TestSessionsListing(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/sessions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total_sessions"])
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/settings", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["cooldown_seconds"])

	resp, body = doRequest(t, http.MethodPatch, ts.URL+"/settings", `{"cooldown_seconds": 6, "beep": false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(6), body["cooldown_seconds"])
	assert.Equal(t, false, body["beep"])

	tests := []struct {
		name string
		body string
	}{
		{name: "cooldown too long", body: `{"cooldown_seconds": 20}`},
		{name: "intensity too low", body: `{"flash_intensity": 0.1}`},
		{name: "unknown field", body: `{"volume": 3}`},
		{name: "malformed", body: `{"cooldown_seconds":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, http.MethodPatch, ts.URL+"/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}

	// rejected patches leave the previous settings in place
	_, body = doRequest(t, http.MethodGet, ts.URL+"/settings", "")
	assert.Equal(t, float64(6), body["cooldown_seconds"])

	resp, _ = doRequest(t, http.MethodPut, ts.URL+"/settings", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDetections(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	_, body := doRequest(t, http.MethodGet, ts.URL+"/detections", "")
	assert.Equal(t, float64(0), body["total_detections"])

	_, body = doRequest(t, http.MethodGet, ts.URL+"/detections?refresh=1", "")
	assert.Equal(t, float64(1), body["total_detections"])
}

func TestConfigIsSanitized(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/config", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "auth")

	audioSection, ok := body["audio"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(15360), audioSection["window_samples"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	doRequest(t, http.MethodGet, ts.URL+"/healthz", "")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tikun_http_requests_total")
}

func TestAlertStream(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return ts.hub.GetStats().Clients == 1
	}, time.Second, 5*time.Millisecond)

	a := alert.NewAlert(alert.Decision{Label: "Doorbell", HitCount: 2, Alert: true}, alert.DefaultSettings(), time.Now())
	require.NoError(t, ts.hub.Notify(ctx, a))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var got alert.Alert
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "Doorbell", got.Label)
}
