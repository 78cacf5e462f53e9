package tasks

import (
	"context"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/cache"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

// ClashAPI is the slice of the game API client the pollers use
type ClashAPI interface {
	GetClan(ctx context.Context, tag string) (*models.Clan, error)
	GetPlayer(ctx context.Context, tag string) (*models.Player, error)
	GetCurrentWar(ctx context.Context, clanTag string) (*models.War, error)
	GetLeagueGroup(ctx context.Context, clanTag string) (*models.LeagueGroup, error)
	GetLeagueWar(ctx context.Context, warTag string) (*models.War, error)
	GetRaidLog(ctx context.Context, clanTag string, limit int) (*models.RaidLog, error)
}

// ClanPoller polls clan snapshots
type ClanPoller struct {
	api   ClashAPI
	cache *cache.EntityCache[models.Clan]
	clock Clock
}

// NewClanLoop creates the clan loop
func NewClanLoop(m *Manager, api ClashAPI) *Loop {
	return NewLoop(m, &ClanPoller{api: api, cache: m.Clans, clock: m.Clock})
}

func (p *ClanPoller) Kind() events.Kind                 { return events.KindClan }
func (p *ClanPoller) Forget(tag string)                 { p.cache.Delete(tag) }
func (p *ClanPoller) Retain(active map[string]struct{}) { p.cache.Retain(active) }
func (p *ClanPoller) Queue() FetchQueue                 { return p.cache }
func (p *ClanPoller) CacheLen() int                     { return p.cache.Len() }

// Poll fetches the clan and diffs it against the cached roster
func (p *ClanPoller) Poll(ctx context.Context, tag string) (Outcome, error) {
	clan, err := p.api.GetClan(ctx, tag)
	if err != nil {
		return Outcome{}, err
	}

	var evs []events.Event
	if prev, ok := p.cache.Get(tag); ok {
		evs = DetectClan(tag, prev, clan, p.clock.Now())
	}
	p.cache.Put(tag, clan)

	return Outcome{Events: evs, Priority: clan.Members > 0}, nil
}

// DetectClan returns the transitions between two snapshots of the same clan.
// Leaves come before joins; both follow roster order.
func DetectClan(tag string, before, after *models.Clan, at time.Time) []events.Event {
	var evs []events.Event
	member := func(t events.Transition, b, a *models.ClanMember) {
		evs = append(evs, events.New(events.KindClan, t, tag, at, events.MemberChange{
			ClanTag:  tag,
			ClanName: after.Name,
			Before:   b,
			After:    a,
		}))
	}

	afterTags := after.MemberTags()
	for i := range before.MemberList {
		m := before.MemberList[i]
		if _, ok := afterTags[m.Tag]; !ok {
			member(events.ClanMemberLeave, &m, nil)
		}
	}

	beforeTags := before.MemberTags()
	for i := range after.MemberList {
		a := after.MemberList[i]
		if _, ok := beforeTags[a.Tag]; !ok {
			member(events.ClanMemberJoin, nil, &a)
			continue
		}
		b, _ := before.Member(a.Tag)
		if a.Donations > b.Donations {
			member(events.ClanMemberDonation, &b, &a)
		}
		if a.Role != b.Role {
			member(events.ClanMemberRole, &b, &a)
		}
	}

	if clanDetailsChanged(before, after) {
		evs = append(evs, events.New(events.KindClan, events.ClanUpdate, tag, at, events.ClanChange{
			Before: before,
			After:  after,
		}))
	}
	return evs
}

func clanDetailsChanged(a, b *models.Clan) bool {
	return a.Name != b.Name ||
		a.Description != b.Description ||
		a.Type != b.Type ||
		a.ClanLevel != b.ClanLevel ||
		a.IsWarLogPublic != b.IsWarLogPublic ||
		a.WarLeague.ID != b.WarLeague.ID
}
