// Package latency keeps rolling-window latency aggregates for outbound
// service calls.
package latency

import (
	"slices"
	"sync"
	"time"
)

type sample struct {
	at time.Time
	d  time.Duration
}

// Snapshot is a point-in-time aggregate of the samples in a Window.
type Snapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Window holds call durations no older than maxAge.
type Window struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
	now     func() time.Time
}

// NewWindow returns a Window. A non-positive maxAge means one hour.
func NewWindow(maxAge time.Duration) *Window {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Window{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record adds one duration. Negative durations count as zero.
func (w *Window) Record(d time.Duration) {
	d = max(d, 0)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	w.samples = append(w.samples, sample{at: now, d: d})
}

// Since records the time elapsed from start.
func (w *Window) Since(start time.Time) {
	w.Record(w.now().Sub(start))
}

func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.now())
	if len(w.samples) == 0 {
		return Snapshot{}
	}

	ms := make([]int64, len(w.samples))
	var sum int64
	for i, s := range w.samples {
		ms[i] = s.d.Milliseconds()
		sum += ms[i]
	}
	slices.Sort(ms)

	return Snapshot{
		Count: len(ms),
		MinMs: ms[0],
		MaxMs: ms[len(ms)-1],
		AvgMs: float64(sum) / float64(len(ms)),
		P50Ms: percentile(ms, 50),
		P95Ms: percentile(ms, 95),
		P99Ms: percentile(ms, 99),
	}
}

func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	w.samples = slices.DeleteFunc(w.samples, func(s sample) bool {
		return s.at.Before(cutoff)
	})
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}

	rank := float64(len(sorted)-1) * pct / 100
	lower := int(rank)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	lo, hi := float64(sorted[lower]), float64(sorted[lower+1])
	return lo + (hi-lo)*(rank-float64(lower))
}

// Set is a named collection of Windows, one per downstream service.
type Set struct {
	mu      sync.Mutex
	maxAge  time.Duration
	windows map[string]*Window
}

func NewSet(maxAge time.Duration) *Set {
	return &Set{maxAge: maxAge, windows: make(map[string]*Window)}
}

// Window returns the window for name, creating it on first use.
func (s *Set) Window(name string) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[name]
	if !ok {
		w = NewWindow(s.maxAge)
		s.windows[name] = w
	}
	return w
}

// Snapshots returns a snapshot for every window that has been used.
func (s *Set) Snapshots() map[string]Snapshot {
	s.mu.Lock()
	names := make([]string, 0, len(s.windows))
	ws := make([]*Window, 0, len(s.windows))
	for name, w := range s.windows {
		names = append(names, name)
		ws = append(ws, w)
	}
	s.mu.Unlock()

	out := make(map[string]Snapshot, len(names))
	for i, name := range names {
		out[name] = ws[i].Snapshot()
	}
	return out
}
