// Package throttle limits outbound game API traffic and keeps rolling
// per-second request counters for the status report.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"github.com/PancyStudios/ClashBotGo/pkg/stats"
	"golang.org/x/time/rate"
)

// DefaultHistory keeps one hour of per-second samples
const DefaultHistory = 3600

// Config configures a Throttler
type Config struct {
	// Rate is the sustained number of requests per second
	Rate float64
	// Burst is the bucket size
	Burst int
	// History is the number of per-second samples kept for statistics
	History int
	// Now overrides the clock used for bucketing samples
	Now func() time.Time
}

// Stats summarises the throughput windows
type Stats struct {
	Sent          stats.Summary `json:"sent"`
	Received      stats.Summary `json:"received"`
	TotalSent     uint64        `json:"totalSent"`
	TotalReceived uint64        `json:"totalReceived"`
}

// Throttler is a token bucket in front of the game API
type Throttler struct {
	limiter *rate.Limiter
	now     func() time.Time

	mu            sync.Mutex
	second        int64
	curSent       float64
	curReceived   float64
	sent          *stats.RollingWindow
	received      *stats.RollingWindow
	totalSent     uint64
	totalReceived uint64
}

// New creates a Throttler
func New(cfg Config) *Throttler {
	if cfg.Rate <= 0 {
		cfg.Rate = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Throttler{
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		now:      cfg.Now,
		second:   cfg.Now().Unix(),
		sent:     stats.NewRollingWindow(cfg.History),
		received: stats.NewRollingWindow(cfg.History),
	}
}

// Acquire blocks until a token is available, then counts the request as sent.
// It only fails when ctx ends first.
func (t *Throttler) Acquire(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	t.rollLocked()
	t.curSent++
	t.totalSent++
	t.mu.Unlock()

	metrics.APIRequests.WithLabelValues("sent").Inc()
	return nil
}

// Release counts a response as received
func (t *Throttler) Release() {
	t.mu.Lock()
	t.rollLocked()
	t.curReceived++
	t.totalReceived++
	t.mu.Unlock()

	metrics.APIRequests.WithLabelValues("received").Inc()
}

// Do runs fn between Acquire and Release
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if err := t.Acquire(ctx); err != nil {
		return err
	}
	defer t.Release()
	return fn()
}

// Stats returns the rolling sent/received statistics
func (t *Throttler) Stats() Stats {
	t.mu.Lock()
	t.rollLocked()
	s := Stats{TotalSent: t.totalSent, TotalReceived: t.totalReceived}
	t.mu.Unlock()

	s.Sent = t.sent.Summary()
	s.Received = t.received.Summary()
	return s
}

// rollLocked closes every finished one-second bucket, pushing zeros for
// idle seconds. Gaps longer than the history only need one full window of zeros.
func (t *Throttler) rollLocked() {
	now := t.now().Unix()
	if now <= t.second {
		return
	}

	t.sent.Push(t.curSent)
	t.received.Push(t.curReceived)
	t.curSent, t.curReceived = 0, 0

	idle := now - t.second - 1
	if limit := int64(t.sent.Capacity()); idle > limit {
		idle = limit
	}
	for i := int64(0); i < idle; i++ {
		t.sent.Push(0)
		t.received.Push(0)
	}
	t.second = now
}
