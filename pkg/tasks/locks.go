package tasks

import (
	"sync"
	"time"
)

type tagLock struct {
	timer   Timer
	until   time.Time
	forever bool
}

// TagLocks holds one lock per tag for one loop kind. A lock is taken before
// a fetch and handed back by a timer once the tag's cooldown has passed, so
// the poll goroutine never sleeps while holding it.
type TagLocks struct {
	clock Clock

	mu   sync.Mutex
	held map[string]*tagLock
}

// NewTagLocks creates an empty lock table
func NewTagLocks(clock Clock) *TagLocks {
	return &TagLocks{clock: clock, held: make(map[string]*tagLock)}
}

// TryAcquire takes the lock for tag. It returns false when the tag is
// already fetching, cooling down or retired.
func (l *TagLocks) TryAcquire(tag string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[tag]; ok {
		return false
	}
	l.held[tag] = &tagLock{}
	return true
}

// ReleaseAfter schedules the unlock of tag d from now
func (l *TagLocks) ReleaseAfter(tag string, d time.Duration) {
	if d <= 0 {
		l.Release(tag)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.held[tag]
	if !ok {
		lock = &tagLock{}
		l.held[tag] = lock
	}
	if lock.timer != nil {
		lock.timer.Stop()
	}
	lock.forever = false
	lock.until = l.clock.Now().Add(d)
	lock.timer = l.clock.AfterFunc(d, func() { l.releaseIf(tag, lock) })
}

// releaseIf drops the lock only if it is still the one the timer was armed for
func (l *TagLocks) releaseIf(tag string, lock *tagLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[tag] == lock && !lock.forever {
		delete(l.held, tag)
	}
}

// Borrow takes tag for work outside its poll slot. It fails while a fetch of
// tag runs or tag is retired. A tag that is cooling down can be borrowed; the
// returned func hands it back with whatever cooldown it had left.
func (l *TagLocks) Borrow(tag string) (giveBack func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var until time.Time
	if lock, held := l.held[tag]; held {
		if lock.forever || lock.timer == nil {
			return nil, false
		}
		lock.timer.Stop()
		until = lock.until
	}
	borrowed := &tagLock{}
	l.held[tag] = borrowed

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[tag] != borrowed {
			return
		}
		left := until.Sub(l.clock.Now())
		if left <= 0 {
			delete(l.held, tag)
			return
		}
		borrowed.until = until
		borrowed.timer = l.clock.AfterFunc(left, func() { l.releaseIf(tag, borrowed) })
	}, true
}

// Release unlocks tag immediately
func (l *TagLocks) Release(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.held[tag]; ok {
		if lock.timer != nil {
			lock.timer.Stop()
		}
		delete(l.held, tag)
	}
}

// Hold keeps tag locked until Release is called
func (l *TagLocks) Hold(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.held[tag]
	if !ok {
		lock = &tagLock{}
		l.held[tag] = lock
	}
	if lock.timer != nil {
		lock.timer.Stop()
		lock.timer = nil
	}
	lock.forever = true
	lock.until = time.Time{}
}

// Held reports whether tag is locked, when the lock expires and whether it is permanent
func (l *TagLocks) Held(tag string) (held bool, until time.Time, forever bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.held[tag]
	if !ok {
		return false, time.Time{}, false
	}
	return true, lock.until, lock.forever
}

// Len returns the number of held locks
func (l *TagLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
