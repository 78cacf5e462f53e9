package tasks

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// manualClock only moves when Advance is called. Due callbacks run
// synchronously inside Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due, keep []*manualTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(now):
			t.fired = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// waitForTimers blocks until at least n timers are armed
func (c *manualClock) waitForTimers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timers = %d, want >= %d", c.Pending(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSleepWakesOnAdvance(t *testing.T) {
	clock := newManualClock()
	done := make(chan error, 1)
	go func() { done <- sleep(context.Background(), clock, time.Minute) }()

	clock.waitForTimers(t, 1)
	clock.Advance(59 * time.Second)
	select {
	case <-done:
		t.Fatal("sleep returned before its deadline")
	case <-time.After(10 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("sleep() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after Advance")
	}
}

func TestSleepHonoursContext(t *testing.T) {
	clock := newManualClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, clock, time.Hour); err != context.Canceled {
		t.Errorf("sleep() = %v, want %v", err, context.Canceled)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clock.Pending())
	}
}
