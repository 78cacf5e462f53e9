// Package stats provides bounded sample windows for observability counters.
package stats

import "sync"

// Summary is a point-in-time view of a window
type Summary struct {
	Last    float64 `json:"last"`
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// RollingWindow keeps the most recent samples up to a fixed capacity.
// Older samples are overwritten once the window is full.
type RollingWindow struct {
	mu      sync.RWMutex
	samples []float64
	next    int
	full    bool
}

// NewRollingWindow creates a window holding at most capacity samples
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &RollingWindow{samples: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest one when full
func (w *RollingWindow) Push(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of stored samples
func (w *RollingWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lenLocked()
}

func (w *RollingWindow) lenLocked() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Capacity returns the maximum number of samples kept
func (w *RollingWindow) Capacity() int {
	return len(w.samples)
}

// Values returns the samples from oldest to newest
func (w *RollingWindow) Values() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := w.lenLocked()
	out := make([]float64, 0, n)
	if w.full {
		out = append(out, w.samples[w.next:]...)
	}
	out = append(out, w.samples[:w.next]...)
	return out
}

// Summary computes last/avg/min/max over the stored samples
func (w *RollingWindow) Summary() Summary {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := w.lenLocked()
	if n == 0 {
		return Summary{}
	}

	last := w.next - 1
	if last < 0 {
		last = len(w.samples) - 1
	}

	s := Summary{Last: w.samples[last], Min: w.samples[0], Max: w.samples[0], Samples: n}
	var sum float64
	for i := 0; i < n; i++ {
		v := w.samples[i]
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Avg = sum / float64(n)
	return s
}
