package audio

import (
	"math"
)

// WindowBuffer accumulates capture chunks until a fixed-duration window is
// available. Windows never overlap: when a window is emitted the whole buffer
// is cleared and any samples past the window length are dropped.
//
// A WindowBuffer is owned by a single consumer goroutine and is not safe for
// concurrent use.
type WindowBuffer struct {
	sampleRate    int
	windowSeconds float64
	threshold     float64 // windowSeconds * sampleRate
	windowLen     int     // floor(threshold)

	chunks [][]float32
	total  int

	// Statistics
	chunksIngested uint64
	windowsEmitted uint64
	samplesDropped uint64
}

// WindowStats represents window buffer statistics
type WindowStats struct {
	SampleRate      int     `json:"sample_rate"`
	WindowSeconds   float64 `json:"window_seconds"`
	WindowSamples   int     `json:"window_samples"`
	BufferedSamples int     `json:"buffered_samples"`
	BufferedChunks  int     `json:"buffered_chunks"`
	ChunksIngested  uint64  `json:"chunks_ingested"`
	WindowsEmitted  uint64  `json:"windows_emitted"`
	SamplesDropped  uint64  `json:"samples_dropped"`
}

// NewWindowBuffer creates a buffer that emits windows of windowSeconds at sampleRate
func NewWindowBuffer(sampleRate int, windowSeconds float64) *WindowBuffer {
	threshold := windowSeconds * float64(sampleRate)
	return &WindowBuffer{
		sampleRate:    sampleRate,
		windowSeconds: windowSeconds,
		threshold:     threshold,
		windowLen:     int(math.Floor(threshold)),
	}
}

// Ingest appends a chunk and, once at least windowSeconds of audio is
// buffered, returns the first windowLen samples and clears the buffer.
// The chunk is retained by reference until the next emission, so callers
// must hand over a slice they no longer write to.
func (w *WindowBuffer) Ingest(chunk []float32) ([]float32, bool) {
	if len(chunk) == 0 {
		return nil, false
	}

	w.chunks = append(w.chunks, chunk)
	w.total += len(chunk)
	w.chunksIngested++

	if float64(w.total) < w.threshold {
		return nil, false
	}

	window := make([]float32, w.windowLen)
	offset := 0
	for _, c := range w.chunks {
		if offset >= w.windowLen {
			break
		}
		offset += copy(window[offset:], c)
	}

	w.samplesDropped += uint64(w.total - w.windowLen)
	w.windowsEmitted++
	w.Reset()

	return window, true
}

// Reset drops every buffered chunk
func (w *WindowBuffer) Reset() {
	for i := range w.chunks {
		w.chunks[i] = nil
	}
	w.chunks = w.chunks[:0]
	w.total = 0
}

// Buffered returns the number of samples waiting for the next window
func (w *WindowBuffer) Buffered() int {
	return w.total
}

// WindowSamples returns the length of every emitted window
func (w *WindowBuffer) WindowSamples() int {
	return w.windowLen
}

// SampleRate returns the session sample rate
func (w *WindowBuffer) SampleRate() int {
	return w.sampleRate
}

// GetStats returns current buffer statistics
func (w *WindowBuffer) GetStats() WindowStats {
	return WindowStats{
		SampleRate:      w.sampleRate,
		WindowSeconds:   w.windowSeconds,
		WindowSamples:   w.windowLen,
		BufferedSamples: w.total,
		BufferedChunks:  len(w.chunks),
		ChunksIngested:  w.chunksIngested,
		WindowsEmitted:  w.windowsEmitted,
		SamplesDropped:  w.samplesDropped,
	}
}

// RMS returns the root-mean-square level of a chunk, used as the ambient
// level meter. An empty chunk has level 0.
func RMS(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}

	var energy float64
	for _, s := range chunk {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(chunk)))
}
