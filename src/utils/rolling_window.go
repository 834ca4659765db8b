package utils

import (
	"sync"
	"time"
)

const (
	WindowOneHour = "1h"
	WindowOneDay  = "1d"
	WindowOneWeek = "1w"
)

// TimedSample is one measurement tagged with the time it was taken.
type TimedSample struct {
	Timestamp time.Time
	Value     float64
}

// RollingWindow retains timestamped samples for a fixed look-back duration.
// Samples expire by age, not by count.
type RollingWindow struct {
	mu        sync.Mutex
	retention time.Duration
	samples   []TimedSample
}

func NewRollingWindow(retention time.Duration) *RollingWindow {
	return &RollingWindow{retention: retention}
}

func (w *RollingWindow) Add(timestamp time.Time, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, TimedSample{Timestamp: timestamp, Value: value})
	w.pruneLocked(timestamp)
}

// Values returns the retained sample values as of now, oldest first.
func (w *RollingWindow) Values(now time.Time) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)

	values := make([]float64, 0, len(w.samples))
	for _, s := range w.samples {
		values = append(values, s.Value)
	}

	return values
}

func (w *RollingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)

	return len(w.samples)
}

func (w *RollingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)

	i := 0
	for i < len(w.samples) && !w.samples[i].Timestamp.After(cutoff) {
		i++
	}

	if i > 0 {
		w.samples = append(w.samples[:0:0], w.samples[i:]...)
	}
}

// NewStandardWindows returns the 1h/1d/1w windows used by the monitors.
func NewStandardWindows() map[string]*RollingWindow {
	return map[string]*RollingWindow{
		WindowOneHour: NewRollingWindow(time.Hour),
		WindowOneDay:  NewRollingWindow(24 * time.Hour),
		WindowOneWeek: NewRollingWindow(7 * 24 * time.Hour),
	}
}
