package session

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricardorosenberg/tikun/internal/alert"
	"github.com/ricardorosenberg/tikun/internal/api"
	"github.com/ricardorosenberg/tikun/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func chunk(n int, value float32) []float32 {
	c := make([]float32, n)
	for i := range c {
		c[i] = value
	}
	return c
}

// fakeSource hands out a buffered channel preloaded with chunks
type fakeSource struct {
	mu       sync.Mutex
	ch       chan []float32
	closed   bool
	preload  [][]float32
	drain    bool // close the channel once the preload is queued
	startErr error
	starts   int
	stops    int
}

func (f *fakeSource) Start(ctx context.Context) (<-chan []float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}

	f.starts++
	f.ch = make(chan []float32, 64)
	f.closed = false
	for _, c := range f.preload {
		f.ch <- c
	}
	if f.drain {
		close(f.ch)
		f.closed = true
	}
	return f.ch, nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	if f.ch != nil && !f.closed {
		close(f.ch)
		f.closed = true
	}
	return nil
}

func (f *fakeSource) push(c []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.ch <- c
	}
}

// end closes the channel as if the source ran dry
func (f *fakeSource) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.ch)
		f.closed = true
	}
}

func (f *fakeSource) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakeAPI records requests and returns canned responses
type fakeAPI struct {
	mu         sync.Mutex
	clips      [][]byte
	started    int
	prediction api.Prediction
	inferErr   error
	block      chan struct{}

	detections   []api.Detection
	historyCalls int

	uploads   []string // label/soundID pairs
	uploadErr error
	rebuilds  int
}

func (f *fakeAPI) Infer(ctx context.Context, clip []byte) (*api.Prediction, error) {
	f.mu.Lock()
	f.started++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.clips = append(f.clips, clip)
	if f.inferErr != nil {
		return nil, f.inferErr
	}
	p := f.prediction
	return &p, nil
}

func (f *fakeAPI) ListDetections(ctx context.Context) ([]api.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	return f.detections, nil
}

func (f *fakeAPI) UploadSample(ctx context.Context, clip []byte, label, soundID string) (*api.TrainingSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, label+"/"+soundID)
	return &api.TrainingSample{ID: "sample-1", SoundID: soundID, Type: label}, nil
}

func (f *fakeAPI) Rebuild(ctx context.Context) (*api.RebuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds++
	return &api.RebuildResult{Samples: 3, Sounds: 1, Status: "ok"}, nil
}

func (f *fakeAPI) inferCalls() (started, finished int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, len(f.clips)
}

// recordingNotifier keeps every delivered alert
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}
