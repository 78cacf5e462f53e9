package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/PancyStudios/ClashBotGo/pkg/errors"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// TagSource lists the tags each loop kind should poll
type TagSource interface {
	ListTagsFor(ctx context.Context, kind events.Kind) (map[string]struct{}, error)
}

// Prober checks whether the game API is back from maintenance
type Prober interface {
	Ping(ctx context.Context, probeTag string) error
}

// ControllerConfig holds the controller timings
type ControllerConfig struct {
	ReconcileInterval        time.Duration
	RestartDelay             time.Duration
	MaintenanceProbeInterval time.Duration
	MaintenanceProbeTag      string
}

// Status is the aggregated state returned by the status API
type Status struct {
	Maintenance   bool                      `json:"maintenance"`
	ManualLock    bool                      `json:"manualLock"`
	LastReconcile time.Time                 `json:"lastReconcile"`
	WorkInFlight  int64                     `json:"workInFlight"`
	Handlers      int64                     `json:"handlersInFlight"`
	Loops         map[events.Kind]LoopStats `json:"loops"`
	AlertsSent    int64                     `json:"alertsSent"`
	AlertsDropped int64                     `json:"alertsSuppressed"`
}

// Controller starts the loops, keeps their tag sets in sync with storage,
// restarts loops that fail and holds the maintenance lock.
type Controller struct {
	m        *Manager
	source   TagSource
	prober   Prober
	reporter *apperrors.Reporter
	cfg      ControllerConfig
	loops    []*Loop

	control       sync.Mutex
	lastReconcile atomic.Int64

	lockMu  sync.Mutex
	manual  bool
	probing atomic.Bool
}

// NewController creates a controller for loops
func NewController(m *Manager, source TagSource, prober Prober, reporter *apperrors.Reporter, cfg ControllerConfig, loops ...*Loop) *Controller {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 300 * time.Second
	}
	if cfg.MaintenanceProbeInterval <= 0 {
		cfg.MaintenanceProbeInterval = 30 * time.Second
	}
	if reporter == nil {
		reporter = apperrors.NewReporter(time.Minute, m.Clock.Now)
	}
	return &Controller{
		m:        m,
		source:   source,
		prober:   prober,
		reporter: reporter,
		cfg:      cfg,
		loops:    loops,
	}
}

// Manager returns the shared polling state
func (c *Controller) Manager() *Manager {
	return c.m
}

// String names the controller for the supervisor
func (c *Controller) String() string {
	return "PollingController"
}

// Serve runs every loop until ctx ends. It implements suture.Service.
func (c *Controller) Serve(ctx context.Context) error {
	logger.System(fmt.Sprintf("Iniciando %d loops de sondeo", len(c.loops)), "Controller")
	c.Reconcile(ctx)

	var wg sync.WaitGroup
	for _, l := range c.loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			c.runLoop(ctx, l)
		}(l)
	}

	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			logger.System("Loops de sondeo detenidos", "Controller")
			return ctx.Err()
		case <-ticker.C:
			c.Reconcile(ctx)
		case <-c.m.Maintenance():
			go c.probeMaintenance(ctx)
		}
	}
}

// runLoop keeps l running, restarting it RestartDelay after each failure
func (c *Controller) runLoop(ctx context.Context, l *Loop) {
	for {
		err := l.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		c.loopFailed(l, err)
		if sleep(ctx, c.m.Clock, c.cfg.RestartDelay) != nil {
			return
		}
		l.countRestart()
		metrics.LoopRestarts.WithLabelValues(string(l.Kind())).Inc()
		logger.Warn(fmt.Sprintf("Reiniciando loop %s", l.Kind()), "Controller")
	}
}

// loopFailed logs a loop failure and raises a throttled alert
func (c *Controller) loopFailed(l *Loop, err error) {
	logger.Error(fmt.Sprintf("Loop %s detenido: %v. Reinicio en %s", l.Kind(), err, c.cfg.RestartDelay), "Controller")
	title := fmt.Sprintf("Loop %s detenido", l.Kind())
	if c.reporter.Report(title, err.Error()) {
		metrics.Alerts.WithLabelValues("sent").Inc()
		return
	}
	metrics.Alerts.WithLabelValues("suppressed").Inc()
}

// Reconcile reloads every kind's tag set from storage. A kind whose query
// fails keeps its previous set. It returns false when another reconcile is
// already running.
func (c *Controller) Reconcile(ctx context.Context) bool {
	if !c.control.TryLock() {
		logger.Debug("Reconciliación en curso, se omite", "Controller")
		return false
	}
	defer c.control.Unlock()

	started := time.Now()
	var (
		mu   sync.Mutex
		sets = make(map[events.Kind]map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range c.loops {
		kind := l.Kind()
		g.Go(func() error {
			set, err := c.source.ListTagsFor(gctx, kind)
			if err != nil {
				metrics.ReconcileErrors.WithLabelValues(string(kind)).Inc()
				logger.Warn(fmt.Sprintf("No se pudieron cargar los tags de %s: %v", kind, err), "Controller")
				return nil
			}
			mu.Lock()
			sets[kind] = set
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if players, ok := sets[events.KindPlayer]; ok {
		if players == nil {
			players = make(map[string]struct{})
			sets[events.KindPlayer] = players
		}
		c.addClanMembers(players, sets[events.KindClan])
	}

	for _, l := range c.loops {
		if set, ok := sets[l.Kind()]; ok {
			l.SetTags(set)
		}
	}

	c.lastReconcile.Store(c.m.Clock.Now().UnixNano())
	metrics.ReconcileDuration.Observe(time.Since(started).Seconds())
	return true
}

// addClanMembers adds the cached roster of every tracked clan to players
func (c *Controller) addClanMembers(players, clans map[string]struct{}) {
	if clans == nil {
		if l, ok := c.m.Loop(events.KindClan); ok {
			clans = make(map[string]struct{})
			for _, tag := range l.Tags() {
				clans[tag] = struct{}{}
			}
		}
	}
	for clanTag := range clans {
		clan, ok := c.m.Clans.Peek(clanTag)
		if !ok {
			continue
		}
		for _, member := range clan.MemberList {
			players[member.Tag] = struct{}{}
		}
	}
}

// Lock sets the maintenance lock and waits for in-flight per-tag work to
// drain. A manual lock is only cleared by Unlock.
func (c *Controller) Lock(ctx context.Context) error {
	c.lockMu.Lock()
	c.manual = true
	c.lockMu.Unlock()
	return c.suspend(ctx)
}

// Unlock clears the maintenance lock
func (c *Controller) Unlock() {
	c.lockMu.Lock()
	c.manual = false
	c.lockMu.Unlock()
	if c.m.Resume() {
		logger.Success("Loops de sondeo reanudados", "Controller")
	}
}

func (c *Controller) suspend(ctx context.Context) error {
	if c.m.Suspend() {
		logger.Warn("Loops de sondeo en pausa", "Controller")
	}
	return c.m.Work.Drain(ctx)
}

// probeMaintenance pauses the loops and pings the API until it answers.
// Only one probe runs at a time.
func (c *Controller) probeMaintenance(ctx context.Context) {
	if !c.probing.CompareAndSwap(false, true) {
		return
	}
	defer c.probing.Store(false)

	logger.Warn("La API está en mantenimiento", "Controller")
	if err := c.suspend(ctx); err != nil {
		return
	}

	for {
		if sleep(ctx, c.m.Clock, c.cfg.MaintenanceProbeInterval) != nil {
			return
		}
		if c.prober == nil {
			break
		}
		err := c.prober.Ping(ctx, c.cfg.MaintenanceProbeTag)
		if err == nil {
			break
		}
		logger.Debug(fmt.Sprintf("La API sigue sin responder: %v", err), "Controller")
	}

	c.lockMu.Lock()
	manual := c.manual
	c.lockMu.Unlock()
	if manual {
		logger.Info("La API volvió, pero el bloqueo manual sigue activo", "Controller")
		return
	}
	if c.m.Resume() {
		logger.Success("La API volvió del mantenimiento", "Controller")
	}
}

// Enqueue asks kind's loop for an out-of-band fetch of tag
func (c *Controller) Enqueue(kind events.Kind, tag string) bool {
	l, ok := c.m.Loop(kind)
	if !ok {
		return false
	}
	return l.Enqueue(tag)
}

// TagStatus returns the bookkeeping of tag in kind's loop
func (c *Controller) TagStatus(kind events.Kind, tag string) (TagStatus, bool) {
	l, ok := c.m.Loop(kind)
	if !ok {
		return TagStatus{}, false
	}
	return l.Status(tag)
}

// Status aggregates the state of every loop
func (c *Controller) Status() Status {
	c.lockMu.Lock()
	manual := c.manual
	c.lockMu.Unlock()

	s := Status{
		Maintenance:  c.m.Suspended(),
		ManualLock:   manual,
		WorkInFlight: c.m.Work.InFlight(),
		Handlers:     c.m.Dispatcher.Semaphore().InFlight(),
		Loops:        make(map[events.Kind]LoopStats, len(c.loops)),
	}
	if ns := c.lastReconcile.Load(); ns > 0 {
		s.LastReconcile = time.Unix(0, ns)
	}
	for _, l := range c.loops {
		s.Loops[l.Kind()] = l.Stats()
	}
	s.AlertsSent, s.AlertsDropped = c.reporter.Counts()
	return s
}
