package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights the newest ETA estimate against the previous one.
const etaSmoothing = 0.3

// Tracker holds the state of the step being rendered. It is safe for
// concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	label     string
	step      string
	current   int
	total     int
	stepStart time.Time
	lastETA   time.Duration

	lastCurrent int
	lastSample  time.Time
	rate        float64
	peak        float64
	sparkline   *Sparkline
}

// TrackerStats is a snapshot of a Tracker.
type TrackerStats struct {
	Label    string
	Step     string
	Current  int
	Total    int
	Fraction float64
	ETA      time.Duration
	Rate     float64
	Peak     float64
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		stepStart:  now,
		lastSample: now,
		sparkline:  NewSparkline(60),
	}
}

// Begin sets the label shown above the current step.
func (t *Tracker) Begin(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.label = label
}

// Update records progress. A new step name resets counters and rate.
func (t *Tracker) Update(current, total int, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if step != t.step || current < t.current {
		t.step = step
		t.stepStart = now
		t.lastETA = 0
		t.lastCurrent = 0
		t.lastSample = now
		t.rate = 0
	}
	t.current = current
	t.total = total

	if elapsed := now.Sub(t.lastSample); elapsed >= 200*time.Millisecond {
		t.rate = float64(current-t.lastCurrent) / elapsed.Seconds()
		t.peak = max(t.peak, t.rate)
		t.sparkline.Add(t.rate)
		t.lastCurrent = current
		t.lastSample = now
	}
}

// Done marks the current step complete.
func (t *Tracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.total
}

// Stats returns a snapshot of the tracker.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TrackerStats{
		Label:   t.label,
		Step:    t.step,
		Current: t.current,
		Total:   t.total,
		Rate:    t.rate,
		Peak:    t.peak,
	}
	if t.total > 0 {
		s.Fraction = min(float64(t.current)/float64(t.total), 1)
	}
	s.ETA = t.eta()
	return s
}

// RenderSparkline renders the throughput history at width.
func (t *Tracker) RenderSparkline(width int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sparkline.RenderWidth(width)
}

// eta extrapolates the step's average rate, smoothed against the last
// estimate. Callers hold t.mu.
func (t *Tracker) eta() time.Duration {
	if t.total == 0 || t.current == 0 || t.current >= t.total {
		return 0
	}
	elapsed := time.Since(t.stepStart)
	perItem := elapsed / time.Duration(t.current)
	raw := perItem * time.Duration(t.total-t.current)
	if t.lastETA == 0 {
		t.lastETA = raw
		return raw
	}
	t.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(t.lastETA))
	return t.lastETA
}
