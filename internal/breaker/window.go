// Package breaker implements the live-apply attempt breaker: a shared,
// synchronized sliding window of attempt timestamps. "Tripped" is derived
// from the count still inside the window, never stored, so the breaker
// self-heals as the window slides.
package breaker

import (
	"sync"
	"time"
)

// Telemetry is the breaker block included in apply responses.
type Telemetry struct {
	WindowSec     int  `json:"windowSec"`
	MaxPerWindow  int  `json:"maxPerWindow"`
	CountInWindow int  `json:"countInWindow"`
	Tripped       bool `json:"tripped"`
}

// Window is a time-bucketed attempt counter.
type Window struct {
	windowSec    int
	maxPerWindow int

	mu     sync.Mutex
	stamps []time.Time
	now    func() time.Time
}

// New creates a window breaker.
func New(windowSec, maxPerWindow int) *Window {
	return &Window{
		windowSec:    windowSec,
		maxPerWindow: maxPerWindow,
		now:          time.Now,
	}
}

// NewWithClock is for tests that need to slide the window deterministically.
func NewWithClock(windowSec, maxPerWindow int, now func() time.Time) *Window {
	w := New(windowSec, maxPerWindow)
	w.now = now
	return w
}

// Register records one apply attempt.
func (w *Window) Register() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	w.stamps = append(w.stamps, now)
}

// Tripped reports whether attempts inside the window exceed the limit.
func (w *Window) Tripped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.stamps) > w.maxPerWindow
}

// Telemetry snapshots the current window state.
func (w *Window) Telemetry() Telemetry {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return Telemetry{
		WindowSec:     w.windowSec,
		MaxPerWindow:  w.maxPerWindow,
		CountInWindow: len(w.stamps),
		Tripped:       len(w.stamps) > w.maxPerWindow,
	}
}

// caller holds w.mu
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-time.Duration(w.windowSec) * time.Second)
	kept := w.stamps[:0]
	for _, t := range w.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.stamps = kept
}
