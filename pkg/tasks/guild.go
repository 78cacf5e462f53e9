package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/cache"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

// GuildFetcher loads a Discord guild. Missing guilds surface as
// coc.ErrNotFound and gateway trouble as coc.ErrTransient.
type GuildFetcher interface {
	FetchGuild(ctx context.Context, guildID string) (*models.GuildSnapshot, error)
}

// GuildPoller polls the Discord guilds that have the bot configured
type GuildPoller struct {
	fetcher         GuildFetcher
	cache           *cache.EntityCache[models.GuildSnapshot]
	clock           Clock
	refreshInterval time.Duration

	mu          sync.Mutex
	lastRefresh map[string]time.Time
}

// NewGuildLoop creates the guild loop
func NewGuildLoop(m *Manager, fetcher GuildFetcher) *Loop {
	return NewLoop(m, &GuildPoller{
		fetcher:         fetcher,
		cache:           m.Guilds,
		clock:           m.Clock,
		refreshInterval: m.opts.GuildRefreshInterval,
		lastRefresh:     make(map[string]time.Time),
	})
}

func (p *GuildPoller) Kind() events.Kind { return events.KindGuild }
func (p *GuildPoller) Queue() FetchQueue { return p.cache }
func (p *GuildPoller) CacheLen() int     { return p.cache.Len() }

func (p *GuildPoller) Forget(guildID string) {
	p.cache.Delete(guildID)
	p.mu.Lock()
	delete(p.lastRefresh, guildID)
	p.mu.Unlock()
}

func (p *GuildPoller) Retain(active map[string]struct{}) {
	p.cache.Retain(active)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.lastRefresh {
		if _, ok := active[id]; !ok {
			delete(p.lastRefresh, id)
		}
	}
}

// Poll fetches the guild. GuildRefresh fires once per refresh interval so
// handlers can resync roles and channels.
func (p *GuildPoller) Poll(ctx context.Context, guildID string) (Outcome, error) {
	snap, err := p.fetcher.FetchGuild(ctx, guildID)
	if err != nil {
		return Outcome{}, err
	}
	now := p.clock.Now()

	var evs []events.Event
	prev, had := p.cache.Get(guildID)
	if had && guildChanged(prev, snap) {
		evs = append(evs, events.New(events.KindGuild, events.GuildUpdate, guildID, now, events.GuildChange{
			Before: prev,
			After:  snap,
		}))
	}
	p.cache.Put(guildID, snap)

	p.mu.Lock()
	last, ok := p.lastRefresh[guildID]
	due := ok && now.Sub(last) >= p.refreshInterval
	if !ok || due {
		p.lastRefresh[guildID] = now
	}
	p.mu.Unlock()
	if due {
		evs = append(evs, events.New(events.KindGuild, events.GuildRefresh, guildID, now, events.GuildChange{
			After: snap,
		}))
	}
	return Outcome{Events: evs}, nil
}

func guildChanged(a, b *models.GuildSnapshot) bool {
	return a.Name != b.Name ||
		a.Icon != b.Icon ||
		a.OwnerID != b.OwnerID ||
		a.MemberCount != b.MemberCount ||
		a.PremiumTier != b.PremiumTier
}
