package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/cache"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

// RaidPoller polls the latest capital raid weekend of each clan
type RaidPoller struct {
	api         ClashAPI
	cache       *cache.EntityCache[models.RaidSeason]
	clock       Clock
	settleDelay time.Duration
}

// NewRaidLoop creates the raid loop
func NewRaidLoop(m *Manager, api ClashAPI) *Loop {
	return NewLoop(m, &RaidPoller{
		api:         api,
		cache:       m.Raids,
		clock:       m.Clock,
		settleDelay: m.opts.RaidSettleDelay,
	})
}

func (p *RaidPoller) Kind() events.Kind                 { return events.KindRaid }
func (p *RaidPoller) Forget(tag string)                 { p.cache.Delete(tag) }
func (p *RaidPoller) Retain(active map[string]struct{}) { p.cache.Retain(active) }
func (p *RaidPoller) Queue() FetchQueue                 { return p.cache }
func (p *RaidPoller) CacheLen() int                     { return p.cache.Len() }

// Poll fetches the latest raid weekend. An ended weekend is dispatched after
// the settle delay with a fresh snapshot.
func (p *RaidPoller) Poll(ctx context.Context, clanTag string) (Outcome, error) {
	log, err := p.api.GetRaidLog(ctx, clanTag, 1)
	if err != nil {
		return Outcome{}, err
	}
	if len(log.Items) == 0 {
		return Outcome{}, nil
	}
	latest := &log.Items[0]

	prev, _ := p.cache.Get(clanTag)
	immediate, ended := DetectRaid(clanTag, prev, latest, p.clock.Now())
	p.cache.Put(clanTag, latest)

	out := Outcome{Events: immediate, Priority: latest.State == models.RaidStateOngoing}
	if ended {
		out.Deferred = append(out.Deferred, Deferred{
			Delay: p.settleDelay,
			Build: func(ctx context.Context) []events.Event {
				return []events.Event{p.settled(ctx, clanTag, prev, latest)}
			},
		})
	}
	return out, nil
}

// settled refetches the weekend that ended and builds its RaidEnded event.
// On failure the snapshot taken when the end was detected is used.
func (p *RaidPoller) settled(ctx context.Context, clanTag string, before, detected *models.RaidSeason) events.Event {
	final := detected
	log, err := p.api.GetRaidLog(ctx, clanTag, 1)
	switch {
	case err != nil:
		logger.Warn(fmt.Sprintf("No se pudo refrescar el asalto de %s: %v", clanTag, err), "RaidLoop")
	case len(log.Items) > 0 && log.Items[0].StartTime == detected.StartTime:
		final = &log.Items[0]
		p.cache.Put(clanTag, final)
	}
	return events.New(events.KindRaid, events.RaidEnded, clanTag, p.clock.Now(), events.RaidChange{
		ClanTag: clanTag,
		Before:  before,
		After:   final,
	})
}

// DetectRaid returns the immediate transitions between two snapshots of a
// clan's latest raid weekend and whether the weekend just ended.
// A nil before only seeds the cache.
func DetectRaid(clanTag string, before, after *models.RaidSeason, at time.Time) ([]events.Event, bool) {
	if before == nil {
		return nil, false
	}

	if before.StartTime != after.StartTime {
		if after.State != models.RaidStateOngoing {
			return nil, false
		}
		return []events.Event{events.New(events.KindRaid, events.RaidStarted, clanTag, at, events.RaidChange{
			ClanTag: clanTag,
			Before:  before,
			After:   after,
		})}, false
	}

	var evs []events.Event
	for i := range after.Members {
		m := &after.Members[i]
		prev, _ := before.Member(m.Tag)
		if m.Attacks <= prev.Attacks {
			continue
		}
		evs = append(evs, events.New(events.KindRaid, events.RaidMemberAttack, clanTag, at, events.RaidChange{
			ClanTag:     clanTag,
			Before:      before,
			After:       after,
			Member:      m,
			PrevAttacks: prev.Attacks,
		}))
	}

	ended := before.State == models.RaidStateOngoing && after.State == models.RaidStateEnded
	return evs, ended
}
