package tasks

import (
	"context"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/cache"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

// PlayerPoller polls player snapshots
type PlayerPoller struct {
	api   ClashAPI
	cache *cache.EntityCache[models.Player]
	m     *Manager
}

// NewPlayerLoop creates the player loop
func NewPlayerLoop(m *Manager, api ClashAPI) *Loop {
	return NewLoop(m, &PlayerPoller{api: api, cache: m.Players, m: m})
}

func (p *PlayerPoller) Kind() events.Kind                 { return events.KindPlayer }
func (p *PlayerPoller) Forget(tag string)                 { p.cache.Delete(tag) }
func (p *PlayerPoller) Retain(active map[string]struct{}) { p.cache.Retain(active) }
func (p *PlayerPoller) Queue() FetchQueue                 { return p.cache }
func (p *PlayerPoller) CacheLen() int                     { return p.cache.Len() }

// Poll fetches the player. Players in a tracked clan poll on the short range.
func (p *PlayerPoller) Poll(ctx context.Context, tag string) (Outcome, error) {
	player, err := p.api.GetPlayer(ctx, tag)
	if err != nil {
		return Outcome{}, err
	}

	var evs []events.Event
	if prev, ok := p.cache.Get(tag); ok {
		evs = DetectPlayer(tag, prev, player, p.m.Clock.Now())
	}
	p.cache.Put(tag, player)

	clanTag := player.ClanTag()
	priority := clanTag != "" && p.m.Tracked(events.KindClan, clanTag)
	return Outcome{Events: evs, Priority: priority}, nil
}

// DetectPlayer returns the transitions between two snapshots of the same player
func DetectPlayer(tag string, before, after *models.Player, at time.Time) []events.Event {
	var evs []events.Event
	emit := func(t events.Transition) {
		evs = append(evs, events.New(events.KindPlayer, t, tag, at, events.PlayerChange{
			Before: before,
			After:  after,
		}))
	}

	if before.Name != after.Name {
		emit(events.PlayerName)
	}
	if after.TownHallLevel > before.TownHallLevel {
		emit(events.PlayerTownHall)
	}
	switch {
	case after.Trophies > before.Trophies:
		emit(events.PlayerTrophiesUp)
	case after.Trophies < before.Trophies:
		emit(events.PlayerTrophiesDown)
	}
	if before.ClanTag() != after.ClanTag() {
		emit(events.PlayerClanChange)
	}
	if leagueID(before) != leagueID(after) {
		emit(events.PlayerLeague)
	}
	return evs
}

func leagueID(p *models.Player) int {
	if p.League == nil {
		return 0
	}
	return p.League.ID
}
