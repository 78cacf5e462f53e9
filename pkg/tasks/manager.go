// Package tasks is the polling core: one loop per entity kind, each
// re-fetching its tags on a jittered schedule, diffing the result against
// the cache and dispatching the detected transitions.
package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/cache"
	"github.com/PancyStudios/ClashBotGo/pkg/config"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

// Purger deletes every stored link to a tag the API reports as gone
type Purger interface {
	Purge(ctx context.Context, kind events.Kind, tag string) error
}

// Options configures a Manager
type Options struct {
	Clock    Clock
	Registry *events.Registry
	Policy   DelayPolicy
	Purger   Purger

	Tick                  time.Duration
	MaxConcurrentPolls    int
	MaxConcurrentHandlers int
	WorkerPoolSize        int
	CacheSize             int
	RaidSettleDelay       time.Duration
	WarOngoingInterval    time.Duration
	GuildRefreshInterval  time.Duration
}

// OptionsFromConfig maps the loop configuration onto Options
func OptionsFromConfig(cfg config.LoopConfig) Options {
	policy := DefaultDelayPolicy()
	policy.ErrorBackoff = cfg.ErrorBackoff
	policy.InvalidCooldown = cfg.InvalidCooldown
	return Options{
		Policy:                policy,
		Tick:                  cfg.Tick,
		MaxConcurrentPolls:    cfg.MaxConcurrentPolls,
		MaxConcurrentHandlers: cfg.MaxConcurrentHandlers,
		WorkerPoolSize:        cfg.WorkerPoolSize,
		CacheSize:             cfg.CacheSize,
		RaidSettleDelay:       cfg.RaidSettleDelay,
		WarOngoingInterval:    cfg.WarOngoingInterval,
		GuildRefreshInterval:  cfg.GuildRefreshInterval,
	}
}

// Manager owns the state shared by every loop: caches, tag locks, the work
// and handler semaphores and the maintenance flag.
type Manager struct {
	Clock      Clock
	Registry   *events.Registry
	Dispatcher *Dispatcher
	Policy     DelayPolicy
	Work       *Semaphore
	Pool       *Pool
	Purger     Purger
	opts       Options

	Clans      *cache.EntityCache[models.Clan]
	Players    *cache.EntityCache[models.Player]
	Wars       *cache.EntityCache[models.War]
	LeagueWars *cache.EntityCache[models.War]
	Raids      *cache.EntityCache[models.RaidSeason]
	Guilds     *cache.EntityCache[models.GuildSnapshot]

	locksMu sync.Mutex
	locks   map[events.Kind]*TagLocks

	loopsMu sync.RWMutex
	loops   map[events.Kind]*Loop

	suspended   atomic.Bool
	maintenance chan struct{}
}

// NewManager creates a Manager, filling unset options with defaults
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Registry == nil {
		opts.Registry = events.NewRegistry()
	}
	if opts.Policy.Kinds == nil {
		opts.Policy = DefaultDelayPolicy()
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 50000
	}
	if opts.RaidSettleDelay <= 0 {
		opts.RaidSettleDelay = 120 * time.Second
	}
	if opts.WarOngoingInterval <= 0 {
		opts.WarOngoingInterval = 30 * time.Minute
	}
	if opts.GuildRefreshInterval <= 0 {
		opts.GuildRefreshInterval = 6 * time.Hour
	}

	return &Manager{
		Clock:       opts.Clock,
		Registry:    opts.Registry,
		Dispatcher:  NewDispatcher(opts.Registry, opts.MaxConcurrentHandlers),
		Policy:      opts.Policy,
		Work:        NewSemaphore(opts.MaxConcurrentPolls),
		Pool:        NewPool(opts.WorkerPoolSize),
		Purger:      opts.Purger,
		opts:        opts,
		Clans:       cache.New[models.Clan]("clans", opts.CacheSize),
		Players:     cache.New[models.Player]("players", opts.CacheSize),
		Wars:        cache.New[models.War]("wars", opts.CacheSize),
		LeagueWars:  cache.New[models.War]("league_wars", opts.CacheSize),
		Raids:       cache.New[models.RaidSeason]("raids", opts.CacheSize),
		Guilds:      cache.New[models.GuildSnapshot]("guilds", opts.CacheSize),
		locks:       make(map[events.Kind]*TagLocks),
		loops:       make(map[events.Kind]*Loop),
		maintenance: make(chan struct{}, 1),
	}
}

// Options returns the options the manager was built with
func (m *Manager) Options() Options {
	return m.opts
}

// Locks returns the tag lock table of kind
func (m *Manager) Locks(kind events.Kind) *TagLocks {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[kind]
	if !ok {
		l = NewTagLocks(m.Clock)
		m.locks[kind] = l
	}
	return l
}

func (m *Manager) addLoop(l *Loop) {
	m.loopsMu.Lock()
	defer m.loopsMu.Unlock()
	m.loops[l.Kind()] = l
}

// Loop returns the loop registered for kind
func (m *Manager) Loop(kind events.Kind) (*Loop, bool) {
	m.loopsMu.RLock()
	defer m.loopsMu.RUnlock()
	l, ok := m.loops[kind]
	return l, ok
}

// Tracked reports whether tag is in the active set of kind's loop
func (m *Manager) Tracked(kind events.Kind, tag string) bool {
	l, ok := m.Loop(kind)
	return ok && l.Tracked(tag)
}

// Suspended reports whether the maintenance lock is set
func (m *Manager) Suspended() bool {
	return m.suspended.Load()
}

// Suspend sets the maintenance lock. No new per-tag work starts while it is set.
func (m *Manager) Suspend() bool {
	if !m.suspended.CompareAndSwap(false, true) {
		return false
	}
	metrics.SetMaintenance(true)
	return true
}

// Resume clears the maintenance lock
func (m *Manager) Resume() bool {
	if !m.suspended.CompareAndSwap(true, false) {
		return false
	}
	metrics.SetMaintenance(false)
	return true
}

// Maintenance is signalled when a poll sees the API in maintenance
func (m *Manager) Maintenance() <-chan struct{} {
	return m.maintenance
}

func (m *Manager) signalMaintenance() {
	select {
	case m.maintenance <- struct{}{}:
	default:
	}
}

// Close stops the worker pool
func (m *Manager) Close() {
	m.Pool.Close()
}
