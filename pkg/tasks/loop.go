package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	apperrors "github.com/PancyStudios/ClashBotGo/pkg/errors"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"github.com/PancyStudios/ClashBotGo/pkg/stats"
)

// ErrUnexpected marks a poll failure that does not fit the API error taxonomy
var ErrUnexpected = errors.New("unexpected poll failure")

// FetchQueue is the dedup queue of tags waiting for an out-of-band fetch
type FetchQueue interface {
	Enqueue(tag string) bool
	Dequeue() (string, bool)
	QueueLen() int
}

// Deferred is a batch of events built and dispatched after Delay. Build runs
// while the loop holds the tag, so it may touch the tag's cache entry.
type Deferred struct {
	Delay time.Duration
	Build func(ctx context.Context) []events.Event
}

const (
	// dispatchTimeout bounds the delivery of events whose snapshot is
	// already cached. Delivery outlives the poll context.
	dispatchTimeout = 2 * time.Minute
	// deferredRetry is how long deferred work waits for a fetch of its tag
	// to finish.
	deferredRetry = time.Second
)

// Outcome is the result of one successful poll
type Outcome struct {
	Events   []events.Event
	Deferred []Deferred
	// Priority selects the short reschedule range
	Priority bool
}

// Poller fetches one entity kind and diffs it against its cache
type Poller interface {
	Kind() events.Kind
	// Poll fetches tag, compares it with the cached snapshot, stores the
	// new snapshot and returns the detected events.
	Poll(ctx context.Context, tag string) (Outcome, error)
	// Forget drops cached state for tag
	Forget(tag string)
	// Retain drops cached state for every tag outside active
	Retain(active map[string]struct{})
	Queue() FetchQueue
	CacheLen() int
}

// TagStatus is the per-tag bookkeeping exposed to the status API
type TagStatus struct {
	Tag               string    `json:"tag"`
	Polls             int64     `json:"polls"`
	LastPoll          time.Time `json:"lastPoll"`
	LastResult        string    `json:"lastResult"`
	LastError         string    `json:"lastError,omitempty"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	LockedUntil       time.Time `json:"lockedUntil,omitempty"`
	Retired           bool      `json:"retired"`
}

// Erroring reports whether the last poll failed
func (s TagStatus) Erroring() bool {
	return s.ConsecutiveErrors > 0
}

// LoopStats is a snapshot of one loop
type LoopStats struct {
	Kind       events.Kind   `json:"kind"`
	Running    bool          `json:"running"`
	ActiveTags int           `json:"activeTags"`
	HeldLocks  int           `json:"heldLocks"`
	QueueDepth int           `json:"queueDepth"`
	CacheSize  int           `json:"cacheSize"`
	Polls      int64         `json:"polls"`
	Errors     int64         `json:"errors"`
	Restarts   int64         `json:"restarts"`
	Runtime    stats.Summary `json:"runtime"`
}

// Loop drives one Poller: every tick it starts a per-tag unit for each
// unlocked tag, queued tags first.
type Loop struct {
	kind   events.Kind
	poller Poller
	m      *Manager
	locks  *TagLocks
	prefix string

	mu       sync.RWMutex
	tags     map[string]struct{}
	status   map[string]*TagStatus
	polls    int64
	errCount int64
	restarts int64
	running  bool

	runtimes *stats.RollingWindow
	fatal    chan error
	wg       sync.WaitGroup
}

// NewLoop creates a loop for poller and registers it with m
func NewLoop(m *Manager, poller Poller) *Loop {
	kind := poller.Kind()
	l := &Loop{
		kind:     kind,
		poller:   poller,
		m:        m,
		locks:    m.Locks(kind),
		prefix:   loopPrefix(kind),
		tags:     make(map[string]struct{}),
		status:   make(map[string]*TagStatus),
		runtimes: stats.NewRollingWindow(3600),
		fatal:    make(chan error, 1),
	}
	m.addLoop(l)
	return l
}

func loopPrefix(kind events.Kind) string {
	switch kind {
	case events.KindClan:
		return "ClanLoop"
	case events.KindPlayer:
		return "PlayerLoop"
	case events.KindWar:
		return "WarLoop"
	case events.KindRaid:
		return "RaidLoop"
	case events.KindGuild:
		return "GuildLoop"
	}
	return "Loop"
}

// Kind returns the loop's entity kind
func (l *Loop) Kind() events.Kind {
	return l.kind
}

// Poller returns the loop's poller
func (l *Loop) Poller() Poller {
	return l.poller
}

// SetTags replaces the active set and evicts cached state of removed tags
func (l *Loop) SetTags(tags map[string]struct{}) {
	active := make(map[string]struct{}, len(tags))
	for tag := range tags {
		active[tag] = struct{}{}
	}

	l.mu.Lock()
	l.tags = active
	for tag := range l.status {
		if _, ok := active[tag]; ok {
			continue
		}
		if held, _, forever := l.locks.Held(tag); held && forever {
			continue
		}
		delete(l.status, tag)
	}
	l.mu.Unlock()

	l.poller.Retain(active)
	metrics.ActiveTags.WithLabelValues(string(l.kind)).Set(float64(len(active)))
	metrics.CacheEntries.WithLabelValues(string(l.kind)).Set(float64(l.poller.CacheLen()))
}

// Tags returns the active set sorted
func (l *Loop) Tags() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.tags))
	for tag := range l.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Tracked reports whether tag is in the active set
func (l *Loop) Tracked(tag string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tags[tag]
	return ok
}

// Enqueue asks for an out-of-band fetch of tag on the next tick
func (l *Loop) Enqueue(tag string) bool {
	ok := l.poller.Queue().Enqueue(tag)
	metrics.QueueDepth.WithLabelValues(string(l.kind)).Set(float64(l.poller.Queue().QueueLen()))
	return ok
}

// Tick starts a per-tag unit for every queued tag and every unlocked active
// tag. It blocks while the work semaphore is full.
func (l *Loop) Tick(ctx context.Context) {
	if l.m.Suspended() {
		return
	}

	queue := l.poller.Queue()
	for {
		tag, ok := queue.Dequeue()
		if !ok {
			break
		}
		l.start(ctx, tag)
	}
	metrics.QueueDepth.WithLabelValues(string(l.kind)).Set(float64(queue.QueueLen()))

	for _, tag := range l.activeTags() {
		if ctx.Err() != nil || l.m.Suspended() {
			return
		}
		l.start(ctx, tag)
	}
	metrics.HeldLocks.WithLabelValues(string(l.kind)).Set(float64(l.locks.Len()))
}

func (l *Loop) activeTags() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.tags))
	for tag := range l.tags {
		out = append(out, tag)
	}
	return out
}

// start launches the per-tag unit for tag if its lock is free
func (l *Loop) start(ctx context.Context, tag string) bool {
	if l.m.Suspended() || !l.locks.TryAcquire(tag) {
		return false
	}
	if err := l.m.Work.Acquire(ctx); err != nil {
		l.locks.Release(tag)
		return false
	}
	if l.m.Suspended() {
		l.m.Work.Release()
		l.locks.Release(tag)
		return false
	}

	metrics.WorkInFlight.Inc()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			metrics.WorkInFlight.Dec()
			l.m.Work.Release()
		}()
		l.runTag(ctx, tag)
	}()
	return true
}

// Wait blocks until every per-tag unit started by this loop has returned
func (l *Loop) Wait() {
	l.wg.Wait()
}

// runTag is one per-tag unit: fetch, diff, dispatch, then hand the lock to a
// timer for the next slot.
func (l *Loop) runTag(ctx context.Context, tag string) {
	started := l.m.Clock.Now()
	outcome, err := l.safePoll(ctx, tag)
	elapsed := l.m.Clock.Now().Sub(started)
	l.runtimes.Push(elapsed.Seconds())

	if err == nil {
		l.record(tag, "ok", nil)
		metrics.RecordPoll(string(l.kind), "ok", elapsed)
		// the cache already holds the new snapshot, so a restart must not
		// cut delivery short
		if len(outcome.Events) > 0 {
			l.dispatch(ctx, outcome.Events)
		}
		for _, d := range outcome.Deferred {
			l.schedule(ctx, tag, d)
		}
		l.locks.ReleaseAfter(tag, l.m.Policy.Next(l.kind, outcome.Priority))
		return
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		metrics.RecordPoll(string(l.kind), "cancelled", elapsed)
		l.locks.Release(tag)
		return
	}

	kind := coc.Kind(err)
	l.record(tag, kind, err)
	metrics.RecordPoll(string(l.kind), kind, elapsed)

	switch {
	case errors.Is(err, coc.ErrInvalidTag):
		logger.Warn(fmt.Sprintf("Tag inválido %s, retirado hasta reinicio", tag), l.prefix)
		l.poller.Forget(tag)
		l.locks.Hold(tag)
	case errors.Is(err, coc.ErrNotFound):
		logger.Warn(fmt.Sprintf("%s no existe, eliminando vínculos", tag), l.prefix)
		l.poller.Forget(tag)
		l.purge(ctx, tag)
		l.locks.ReleaseAfter(tag, l.m.Policy.InvalidCooldown)
	case errors.Is(err, coc.ErrAccessDenied):
		logger.Debug(fmt.Sprintf("Acceso denegado a %s, reintento en %s", tag, l.m.Policy.InvalidCooldown), l.prefix)
		l.locks.ReleaseAfter(tag, l.m.Policy.InvalidCooldown)
	case errors.Is(err, coc.ErrMaintenance):
		l.locks.ReleaseAfter(tag, l.m.Policy.ErrorBackoff)
		l.m.signalMaintenance()
	case errors.Is(err, coc.ErrTransient):
		logger.Debug(fmt.Sprintf("Error transitorio en %s: %v", tag, err), l.prefix)
		l.locks.ReleaseAfter(tag, l.m.Policy.ErrorBackoff)
	default:
		l.locks.ReleaseAfter(tag, l.m.Policy.ErrorBackoff)
		l.fail(fmt.Errorf("%w: %s: %v", ErrUnexpected, tag, err))
	}
}

func (l *Loop) safePoll(ctx context.Context, tag string) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			apperrors.HandleRecovered(r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.poller.Poll(ctx, tag)
}

func (l *Loop) dispatch(ctx context.Context, evs []events.Event) DispatchResult {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	return l.m.Dispatcher.Dispatch(dctx, evs)
}

// schedule runs d once its delay has passed and no fetch of tag is running.
// Loop restarts do not drop it; removing tag from the loop does.
func (l *Loop) schedule(ctx context.Context, tag string, d Deferred) {
	ctx = context.WithoutCancel(ctx)
	var run func()
	run = func() {
		if !l.Tracked(tag) {
			logger.Debug(fmt.Sprintf("%s ya no se sigue, trabajo diferido descartado", tag), l.prefix)
			return
		}
		giveBack, ok := l.locks.Borrow(tag)
		if !ok {
			if _, _, retired := l.locks.Held(tag); retired {
				return
			}
			l.m.Clock.AfterFunc(deferredRetry, run)
			return
		}
		evs := d.Build(ctx)
		giveBack()
		if len(evs) > 0 {
			l.dispatch(ctx, evs)
		}
	}
	l.m.Clock.AfterFunc(d.Delay, run)
}

func (l *Loop) purge(ctx context.Context, tag string) {
	if l.m.Purger == nil {
		return
	}
	if err := l.m.Purger.Purge(ctx, l.kind, tag); err != nil {
		logger.Error(fmt.Sprintf("No se pudieron eliminar los vínculos de %s: %v", tag, err), l.prefix)
	}
}

// fail hands an unexpected error to Run. Only the first one is kept.
func (l *Loop) fail(err error) {
	select {
	case l.fatal <- err:
	default:
	}
}

func (l *Loop) record(tag, result string, err error) {
	now := l.m.Clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.status[tag]
	if !ok {
		s = &TagStatus{Tag: tag}
		l.status[tag] = s
	}
	s.Polls++
	s.LastPoll = now
	s.LastResult = result
	l.polls++
	if err != nil {
		s.LastError = err.Error()
		s.ConsecutiveErrors++
		l.errCount++
		return
	}
	s.LastError = ""
	s.ConsecutiveErrors = 0
}

// Status returns the bookkeeping of tag
func (l *Loop) Status(tag string) (TagStatus, bool) {
	l.mu.RLock()
	s, ok := l.status[tag]
	var out TagStatus
	if ok {
		out = *s
	}
	_, active := l.tags[tag]
	l.mu.RUnlock()

	held, until, forever := l.locks.Held(tag)
	if !ok && !active && !held {
		return TagStatus{}, false
	}
	out.Tag = tag
	if held {
		out.LockedUntil = until
		out.Retired = forever
	}
	return out, true
}

// Stats returns a snapshot of the loop
func (l *Loop) Stats() LoopStats {
	l.mu.RLock()
	s := LoopStats{
		Kind:       l.kind,
		Running:    l.running,
		ActiveTags: len(l.tags),
		Polls:      l.polls,
		Errors:     l.errCount,
		Restarts:   l.restarts,
	}
	l.mu.RUnlock()
	s.HeldLocks = l.locks.Len()
	s.QueueDepth = l.poller.Queue().QueueLen()
	s.CacheSize = l.poller.CacheLen()
	s.Runtime = l.runtimes.Summary()
	return s
}

// Run ticks until ctx ends or a per-tag unit fails unexpectedly, in which
// case the error is returned after every in-flight unit has been cancelled.
func (l *Loop) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	l.setRunning(true)
	defer func() {
		cancel()
		l.wg.Wait()
		l.setRunning(false)
	}()

	// drop a failure left over from the previous run
	select {
	case <-l.fatal:
	default:
	}

	logger.Info(fmt.Sprintf("Loop %s iniciado", l.kind), l.prefix)
	ticker := time.NewTicker(l.m.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-l.fatal:
			return err
		case <-ticker.C:
			l.Tick(loopCtx)
		}
	}
}

func (l *Loop) setRunning(running bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = running
}

func (l *Loop) countRestart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restarts++
}
