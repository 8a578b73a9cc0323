package alert

import (
	"sync"
	"time"
)

// UnknownLabel is the label the inference API returns when nothing matched
const UnknownLabel = "unknown"

const (
	DefaultHitWindow = 3000 * time.Millisecond
	DefaultMinHits   = 2
)

// Hit is a non-unknown prediction and the wall-clock time it arrived
type Hit struct {
	Label string    `json:"label"`
	At    time.Time `json:"at"`
}

// Decision is the outcome of observing one prediction
type Decision struct {
	Label    string `json:"label"`
	HitCount int    `json:"hit_count"`
	Alert    bool   `json:"alert"`
	Reason   string `json:"reason"`
}

// Decision reasons
const (
	ReasonUnknown  = "unknown"
	ReasonTooFew   = "too_few_hits"
	ReasonCooldown = "cooldown"
	ReasonFired    = "fired"
)

// Detector holds the recent hits and last alert time of one listening
// session. Predictions arrive from concurrent uploads, so the decision and
// the commit of lastAlert happen under one lock.
type Detector struct {
	hitWindow time.Duration
	minHits   int

	hits      []Hit
	lastAlert time.Time

	mu sync.Mutex
}

// NewDetector creates a detector. Non-positive arguments fall back to the
// defaults of 3000ms and two hits.
func NewDetector(hitWindow time.Duration, minHits int) *Detector {
	if hitWindow <= 0 {
		hitWindow = DefaultHitWindow
	}
	if minHits < 1 {
		minHits = DefaultMinHits
	}
	return &Detector{
		hitWindow: hitWindow,
		minHits:   minHits,
	}
}

// RecordHit appends (label, now), prunes hits that are hitWindow or more older
// than now and returns how many remaining hits share the label, including
// this one.
func (d *Detector) RecordHit(label string, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recordHit(label, now)
}

func (d *Detector) recordHit(label string, now time.Time) int {
	d.hits = append(d.hits, Hit{Label: label, At: now})

	kept := d.hits[:0]
	for _, h := range d.hits {
		if now.Sub(h.At) < d.hitWindow {
			kept = append(kept, h)
		}
	}
	for i := len(kept); i < len(d.hits); i++ {
		d.hits[i] = Hit{}
	}
	d.hits = kept

	count := 0
	for _, h := range d.hits {
		if h.Label == label {
			count++
		}
	}
	return count
}

// ShouldAlert reports whether hitCount hits warrant an alert at now given the
// cooldown. A true result records now as the last alert time.
func (d *Detector) ShouldAlert(hitCount int, now time.Time, cooldown time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shouldAlert(hitCount, now, cooldown)
}

func (d *Detector) shouldAlert(hitCount int, now time.Time, cooldown time.Duration) bool {
	if hitCount < d.minHits {
		return false
	}
	// zero lastAlert means no alert yet this session
	if !d.lastAlert.IsZero() && now.Sub(d.lastAlert) <= cooldown {
		return false
	}
	d.lastAlert = now
	return true
}

// Observe records a prediction label and decides on an alert in a single
// critical section.
func (d *Detector) Observe(label string, now time.Time, cooldown time.Duration) Decision {
	if label == UnknownLabel || label == "" {
		return Decision{Label: label, Reason: ReasonUnknown}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	count := d.recordHit(label, now)
	decision := Decision{Label: label, HitCount: count}

	switch {
	case count < d.minHits:
		decision.Reason = ReasonTooFew
	case !d.shouldAlert(count, now, cooldown):
		decision.Reason = ReasonCooldown
	default:
		decision.Alert = true
		decision.Reason = ReasonFired
	}
	return decision
}

// LastAlert returns the time of the last accepted alert, zero if none
func (d *Detector) LastAlert() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAlert
}

// RecentHits returns a copy of the hits currently inside the window
func (d *Detector) RecentHits() []Hit {
	d.mu.Lock()
	defer d.mu.Unlock()

	hits := make([]Hit, len(d.hits))
	copy(hits, d.hits)
	return hits
}

// Reset clears hits and cooldown state, as when a session stops
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hits = nil
	d.lastAlert = time.Time{}
}
