package tasks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/cache"
	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

// leagueRoundsChecked is how many of the latest scheduled league rounds are
// polled. Three covers the round that just ended, the one in war and the one
// in preparation.
const leagueRoundsChecked = 3

const unscheduledWarTag = "#0"

// WarPoller polls the current war of each clan and, while the clan is out of
// a regular war, its war league rounds.
type WarPoller struct {
	api             ClashAPI
	wars            *cache.EntityCache[models.War]
	league          *cache.EntityCache[models.War]
	clock           Clock
	ongoingInterval time.Duration

	mu          sync.Mutex
	lastOngoing map[string]time.Time
	// leagueWars maps clanTag to the war tags known to belong to it, per season
	leagueWars map[string]*leagueSeason
}

type leagueSeason struct {
	season  string
	own     map[string]bool
	checked map[string]bool
}

// NewWarLoop creates the war loop
func NewWarLoop(m *Manager, api ClashAPI) *Loop {
	return NewLoop(m, &WarPoller{
		api:             api,
		wars:            m.Wars,
		league:          m.LeagueWars,
		clock:           m.Clock,
		ongoingInterval: m.opts.WarOngoingInterval,
		lastOngoing:     make(map[string]time.Time),
		leagueWars:      make(map[string]*leagueSeason),
	})
}

func (p *WarPoller) Kind() events.Kind { return events.KindWar }
func (p *WarPoller) Queue() FetchQueue { return p.wars }
func (p *WarPoller) CacheLen() int     { return p.wars.Len() + p.league.Len() }

// Forget drops the regular and league state of clanTag
func (p *WarPoller) Forget(clanTag string) {
	p.wars.Delete(clanTag)
	for _, key := range p.league.Keys() {
		if leagueOwner(key) == clanTag {
			p.league.Delete(key)
		}
	}
	p.mu.Lock()
	for key := range p.lastOngoing {
		if leagueOwner(key) == clanTag {
			delete(p.lastOngoing, key)
		}
	}
	delete(p.leagueWars, clanTag)
	p.mu.Unlock()
}

// Retain drops state of clans outside active
func (p *WarPoller) Retain(active map[string]struct{}) {
	p.wars.Retain(active)
	for _, key := range p.league.Keys() {
		if _, ok := active[leagueOwner(key)]; !ok {
			p.league.Delete(key)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.lastOngoing {
		if _, ok := active[leagueOwner(key)]; !ok {
			delete(p.lastOngoing, key)
		}
	}
	for clanTag := range p.leagueWars {
		if _, ok := active[clanTag]; !ok {
			delete(p.leagueWars, clanTag)
		}
	}
}

// LeagueKey is the key of a league round in the league war cache
func LeagueKey(clanTag, preparationStartTime string) string {
	return clanTag + "|" + preparationStartTime
}

func leagueOwner(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i]
	}
	return key
}

// Poll fetches the current war, and the league rounds when the clan is not in
// a regular war. Nothing is cached unless every fetch succeeded, so a failed
// poll is detected again in full on the retry.
func (p *WarPoller) Poll(ctx context.Context, clanTag string) (Outcome, error) {
	war, err := p.api.GetCurrentWar(ctx, clanTag)
	if err != nil {
		return Outcome{}, err
	}
	now := p.clock.Now()

	prev, _ := p.wars.Get(clanTag)
	evs := DetectWar(clanTag, prev, war, false, now)

	priority := warActive(war)
	var rounds []leagueRound
	if war.State == models.WarStateNotInWar {
		var leagueEvs []events.Event
		var active bool
		leagueEvs, rounds, active, err = p.pollLeague(ctx, clanTag, now)
		if err != nil {
			return Outcome{}, err
		}
		evs = append(evs, leagueEvs...)
		priority = priority || active
	}

	evs = append(evs, p.ongoing(clanTag, clanTag, war, evs, now)...)
	p.wars.Put(clanTag, war)
	for _, r := range rounds {
		evs = append(evs, p.ongoing(clanTag, r.key, r.war, r.detected, now)...)
		p.league.Put(r.key, r.war)
	}
	return Outcome{Events: evs, Priority: priority}, nil
}

// leagueRound is a league war snapshot waiting to be cached
type leagueRound struct {
	key      string
	war      *models.War
	detected []events.Event
}

// ongoing emits WarOngoing at most once per interval for a war in progress
// when nothing else was detected for it.
func (p *WarPoller) ongoing(clanTag, key string, war *models.War, detected []events.Event, now time.Time) []events.Event {
	if war.State != models.WarStateInWar {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.lastOngoing[key]
	if len(detected) > 0 || !ok {
		p.lastOngoing[key] = now
		return nil
	}
	if now.Sub(last) < p.ongoingInterval {
		return nil
	}
	p.lastOngoing[key] = now
	return []events.Event{events.New(events.KindWar, events.WarOngoing, clanTag, now, events.WarChange{
		ClanTag: clanTag,
		League:  key != clanTag,
		After:   war,
	})}
}

// pollLeague diffs the latest league rounds of clanTag and returns the
// snapshots for the caller to cache. A clan outside the league is not an error.
func (p *WarPoller) pollLeague(ctx context.Context, clanTag string, now time.Time) ([]events.Event, []leagueRound, bool, error) {
	group, err := p.api.GetLeagueGroup(ctx, clanTag)
	if errors.Is(err, coc.ErrNotFound) || errors.Is(err, coc.ErrAccessDenied) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	if group.State == "ended" || group.State == "notInWar" {
		return nil, nil, false, nil
	}

	season := p.season(clanTag, group.Season)
	var evs []events.Event
	var rounds []leagueRound
	checked := 0
	for i := len(group.Rounds) - 1; i >= 0 && checked < leagueRoundsChecked; i-- {
		round := group.Rounds[i]
		if !roundScheduled(round) {
			continue
		}
		checked++

		war, err := p.findLeagueWar(ctx, clanTag, round, season)
		if err != nil {
			return nil, nil, true, err
		}
		if war == nil {
			continue
		}

		key := LeagueKey(clanTag, war.PreparationStartTime)
		prev, _ := p.league.Get(key)
		roundEvs := DetectWar(clanTag, prev, war, true, now)
		evs = append(evs, roundEvs...)
		rounds = append(rounds, leagueRound{key: key, war: war, detected: roundEvs})
	}
	return evs, rounds, true, nil
}

func roundScheduled(r models.LeagueRound) bool {
	for _, tag := range r.WarTags {
		if tag != unscheduledWarTag {
			return true
		}
	}
	return false
}

func (p *WarPoller) season(clanTag, season string) *leagueSeason {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.leagueWars[clanTag]
	if !ok || s.season != season {
		s = &leagueSeason{season: season, own: make(map[string]bool), checked: make(map[string]bool)}
		p.leagueWars[clanTag] = s
	}
	return s
}

// findLeagueWar returns clanTag's war in round, oriented to its side.
// War tags already known to belong to other clans are skipped.
func (p *WarPoller) findLeagueWar(ctx context.Context, clanTag string, round models.LeagueRound, season *leagueSeason) (*models.War, error) {
	for _, warTag := range round.WarTags {
		if warTag == unscheduledWarTag {
			continue
		}
		p.mu.Lock()
		own, seen := season.own[warTag], season.checked[warTag]
		p.mu.Unlock()
		if seen && !own {
			continue
		}

		war, err := p.api.GetLeagueWar(ctx, warTag)
		if errors.Is(err, coc.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		mine := war.Clan.Tag == clanTag || war.Opponent.Tag == clanTag
		p.mu.Lock()
		season.checked[warTag] = true
		season.own[warTag] = mine
		p.mu.Unlock()
		if mine {
			return war.Oriented(clanTag), nil
		}
	}
	return nil, nil
}

func warActive(w *models.War) bool {
	return w.State == models.WarStatePreparation || w.State == models.WarStateInWar
}

func warRank(state string) int {
	switch state {
	case models.WarStatePreparation:
		return 1
	case models.WarStateInWar:
		return 2
	case models.WarStateEnded:
		return 3
	}
	return 0
}

var rankTransitions = map[int]events.Transition{
	1: events.WarPreparation,
	2: events.WarStarted,
	3: events.WarEnded,
}

// DetectWar returns the transitions between two snapshots of a clan's war.
// A different preparation start time means a new war: every state it has
// already crossed is emitted in order and all of its attacks count as new.
// A nil before only seeds the cache. A war that drops straight to notInWar
// ends with its last known snapshot.
func DetectWar(clanTag string, before, after *models.War, league bool, at time.Time) []events.Event {
	if before == nil {
		return nil
	}
	if after.State == models.WarStateNotInWar {
		if !warActive(before) {
			return nil
		}
		return []events.Event{events.New(events.KindWar, events.WarEnded, clanTag, at, events.WarChange{
			ClanTag: clanTag,
			League:  league,
			Before:  before,
			After:   before,
		})}
	}

	sameWar := before.PreparationStartTime == after.PreparationStartTime
	from := 0
	var prevAttacks []models.WarAttack
	var prev *models.War
	if sameWar {
		from = warRank(before.State)
		prevAttacks = before.Attacks()
		prev = before
	}

	var evs []events.Event
	emit := func(t events.Transition, attack *models.WarAttack) {
		evs = append(evs, events.New(events.KindWar, t, clanTag, at, events.WarChange{
			ClanTag: clanTag,
			League:  league,
			Before:  prev,
			After:   after,
			Attack:  attack,
		}))
	}

	to := warRank(after.State)
	for r := from + 1; r <= to; r++ {
		if r == 3 {
			// attacks land before the end
			break
		}
		emit(rankTransitions[r], nil)
	}

	seen := make(map[attackKey]struct{}, len(prevAttacks))
	for _, a := range prevAttacks {
		seen[keyOf(a)] = struct{}{}
	}
	attacks := after.Attacks()
	sort.SliceStable(attacks, func(i, j int) bool { return attacks[i].Order < attacks[j].Order })
	for i := range attacks {
		if _, ok := seen[keyOf(attacks[i])]; ok {
			continue
		}
		emit(events.WarAttack, &attacks[i])
	}

	if from < 3 && to == 3 {
		emit(events.WarEnded, nil)
	}
	return evs
}

type attackKey struct {
	attacker string
	defender string
	order    int
}

func keyOf(a models.WarAttack) attackKey {
	return attackKey{attacker: a.AttackerTag, defender: a.DefenderTag, order: a.Order}
}
