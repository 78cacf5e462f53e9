package tasks

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore that also reports how many callers hold
// a slot and how many are waiting for one.
type Semaphore struct {
	w        *semaphore.Weighted
	size     int64
	inFlight atomic.Int64
	waiters  atomic.Int64
}

// NewSemaphore creates a semaphore with n slots
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{w: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

// Acquire blocks until a slot is free or ctx ends
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.waiters.Add(1)
	err := s.w.Acquire(ctx, 1)
	s.waiters.Add(-1)
	if err != nil {
		return err
	}
	s.inFlight.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.inFlight.Add(1)
	return true
}

// Release hands a slot back
func (s *Semaphore) Release() {
	s.inFlight.Add(-1)
	s.w.Release(1)
}

// Drain waits until every slot is free, then hands them all back.
// New acquirers queue behind the drain while it waits.
func (s *Semaphore) Drain(ctx context.Context) error {
	if err := s.w.Acquire(ctx, s.size); err != nil {
		return err
	}
	s.w.Release(s.size)
	return nil
}

// InFlight returns the slots currently held
func (s *Semaphore) InFlight() int64 {
	return s.inFlight.Load()
}

// Waiters returns the callers blocked in Acquire
func (s *Semaphore) Waiters() int64 {
	return s.waiters.Load()
}

// Size returns the number of slots
func (s *Semaphore) Size() int64 {
	return s.size
}
