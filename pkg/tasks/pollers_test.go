package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

// fakeAPI serves canned snapshots keyed by tag
type fakeAPI struct {
	mu          sync.Mutex
	clans       map[string]*models.Clan
	players     map[string]*models.Player
	wars        map[string]*models.War
	groups      map[string]*models.LeagueGroup
	leagueWars  map[string]*models.War
	raids       map[string]*models.RaidLog
	leagueErrs  map[string]error
	leagueCalls int
}

func (f *fakeAPI) GetClan(ctx context.Context, tag string) (*models.Clan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clans[tag]; ok {
		return c, nil
	}
	return nil, &coc.APIError{Endpoint: "clans", Status: 404, Reason: "notFound"}
}

func (f *fakeAPI) GetPlayer(ctx context.Context, tag string) (*models.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.players[tag]; ok {
		return p, nil
	}
	return nil, &coc.APIError{Endpoint: "players", Status: 404, Reason: "notFound"}
}

func (f *fakeAPI) GetCurrentWar(ctx context.Context, clanTag string) (*models.War, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wars[clanTag]; ok {
		return w, nil
	}
	return &models.War{State: models.WarStateNotInWar}, nil
}

func (f *fakeAPI) GetLeagueGroup(ctx context.Context, clanTag string) (*models.LeagueGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[clanTag]; ok {
		return g, nil
	}
	return nil, &coc.APIError{Endpoint: "leaguegroup", Status: 404, Reason: "notFound"}
}

func (f *fakeAPI) GetLeagueWar(ctx context.Context, warTag string) (*models.War, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leagueCalls++
	if err, ok := f.leagueErrs[warTag]; ok {
		return nil, err
	}
	if w, ok := f.leagueWars[warTag]; ok {
		return w, nil
	}
	return nil, &coc.APIError{Endpoint: "leaguewars", Status: 404, Reason: "notFound"}
}

func (f *fakeAPI) GetRaidLog(ctx context.Context, clanTag string, limit int) (*models.RaidLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.raids[clanTag]; ok {
		return r, nil
	}
	return &models.RaidLog{}, nil
}

func (f *fakeAPI) setClan(c *models.Clan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clans == nil {
		f.clans = make(map[string]*models.Clan)
	}
	f.clans[c.Tag] = c
}

func (f *fakeAPI) setRaid(clanTag string, r *models.RaidSeason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raids == nil {
		f.raids = make(map[string]*models.RaidLog)
	}
	f.raids[clanTag] = &models.RaidLog{Items: []models.RaidSeason{*r}}
}

func (f *fakeAPI) setLeagueWar(warTag string, w *models.War) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leagueWars[warTag] = w
}

func TestClanPollerSeedsThenDiffs(t *testing.T) {
	clock := newManualClock()
	m := newTestManager(t, clock)
	api := &fakeAPI{}
	api.setClan(clanWith("#A", "#B", "#C"))
	p := &ClanPoller{api: api, cache: m.Clans, clock: clock}
	ctx := context.Background()

	out, err := p.Poll(ctx, "#CLAN")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(out.Events) != 0 {
		t.Errorf("first poll = %v, want no events", transitions(out.Events))
	}
	if !out.Priority {
		t.Error("clan with members polled as idle")
	}

	out, _ = p.Poll(ctx, "#CLAN")
	if len(out.Events) != 0 {
		t.Errorf("unchanged poll = %v, want no events", transitions(out.Events))
	}

	api.setClan(clanWith("#B", "#C", "#D"))
	out, _ = p.Poll(ctx, "#CLAN")
	got := transitions(out.Events)
	if len(got) != 2 || got[0] != events.ClanMemberLeave || got[1] != events.ClanMemberJoin {
		t.Errorf("Poll() = %v, want [leave join]", got)
	}
}

func TestPlayerPollerPriorityFollowsTrackedClan(t *testing.T) {
	clock := newManualClock()
	m := newTestManager(t, clock)
	api := &fakeAPI{players: map[string]*models.Player{
		"#P": {Tag: "#P", Clan: &models.PlayerClan{Tag: "#CLAN"}},
	}}
	clans := NewClanLoop(m, api)
	players := &PlayerPoller{api: api, cache: m.Players, m: m}
	ctx := context.Background()

	out, _ := players.Poll(ctx, "#P")
	if out.Priority {
		t.Error("player of an untracked clan polled on the short range")
	}
	clans.SetTags(tags("#CLAN"))
	out, _ = players.Poll(ctx, "#P")
	if !out.Priority {
		t.Error("player of a tracked clan polled on the long range")
	}
}

func (f *fakeAPI) setLeagueErr(warTag string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leagueErrs == nil {
		f.leagueErrs = make(map[string]error)
	}
	if err == nil {
		delete(f.leagueErrs, warTag)
		return
	}
	f.leagueErrs[warTag] = err
}

func leagueWar(prep, state string, clan, opponent string) *models.War {
	return &models.War{
		State:                state,
		PreparationStartTime: prep,
		Clan:                 models.WarClan{Tag: clan},
		Opponent:             models.WarClan{Tag: opponent},
	}
}

func TestWarPollerLeagueRounds(t *testing.T) {
	clock := newManualClock()
	m := newTestManager(t, clock)
	api := &fakeAPI{
		groups: map[string]*models.LeagueGroup{
			"#CLAN": {State: "inWar", Season: "2024-05", Rounds: []models.LeagueRound{
				{WarTags: []string{"#W1", "#W2"}},
				{WarTags: []string{"#0", "#0"}},
			}},
		},
		leagueWars: map[string]*models.War{
			"#W1": leagueWar("20240501T100000.000Z", models.WarStatePreparation, "#OTHER", "#THIRD"),
			"#W2": leagueWar("20240501T100000.000Z", models.WarStatePreparation, "#ENEMY", "#CLAN"),
		},
	}
	loop := NewWarLoop(m, api)
	p := loop.Poller().(*WarPoller)
	ctx := context.Background()

	out, err := p.Poll(ctx, "#CLAN")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(out.Events) != 0 || !out.Priority {
		t.Errorf("first league poll = %v, priority %v, want seed only", transitions(out.Events), out.Priority)
	}

	key := LeagueKey("#CLAN", "20240501T100000.000Z")
	cached, ok := m.LeagueWars.Peek(key)
	if !ok {
		t.Fatalf("league war not cached under %s", key)
	}
	if cached.Clan.Tag != "#CLAN" {
		t.Errorf("cached war side = %s, want #CLAN", cached.Clan.Tag)
	}

	api.setLeagueWar("#W2", leagueWar("20240501T100000.000Z", models.WarStateInWar, "#ENEMY", "#CLAN"))
	callsBefore := api.leagueCalls
	out, _ = p.Poll(ctx, "#CLAN")
	got := transitions(out.Events)
	if len(got) != 1 || got[0] != events.WarStarted {
		t.Errorf("Poll() = %v, want [%s]", got, events.WarStarted)
	}
	if !out.Events[0].Payload.(events.WarChange).League {
		t.Error("league round event not marked as league")
	}
	if calls := api.leagueCalls - callsBefore; calls != 1 {
		t.Errorf("league war fetches = %d, want 1 (foreign war skipped)", calls)
	}
}

func TestWarPollerLeagueRoundFailureKeepsCache(t *testing.T) {
	clock := newManualClock()
	m := newTestManager(t, clock)
	const round1, round2 = "20240501T100000.000Z", "20240502T100000.000Z"
	api := &fakeAPI{
		groups: map[string]*models.LeagueGroup{
			"#CLAN": {State: "inWar", Season: "2024-05", Rounds: []models.LeagueRound{
				{WarTags: []string{"#W1"}},
				{WarTags: []string{"#W2"}},
			}},
		},
		leagueWars: map[string]*models.War{
			"#W1": leagueWar(round1, models.WarStateInWar, "#CLAN", "#ENEMY"),
			"#W2": leagueWar(round2, models.WarStatePreparation, "#CLAN", "#OTHER"),
		},
	}
	loop := NewWarLoop(m, api)
	p := loop.Poller().(*WarPoller)
	ctx := context.Background()

	if _, err := p.Poll(ctx, "#CLAN"); err != nil {
		t.Fatalf("seed Poll() error = %v", err)
	}

	api.setLeagueWar("#W2", leagueWar(round2, models.WarStateInWar, "#CLAN", "#OTHER"))
	api.setLeagueErr("#W1", &coc.APIError{Endpoint: "leaguewars", Status: 502, Reason: "badGateway"})
	if _, err := p.Poll(ctx, "#CLAN"); !errors.Is(err, coc.ErrTransient) {
		t.Fatalf("Poll() error = %v, want a transient error", err)
	}
	if cached, ok := m.LeagueWars.Peek(LeagueKey("#CLAN", round2)); !ok || cached.State != models.WarStatePreparation {
		t.Errorf("round 2 cached as %+v after a failed poll, want %s", cached, models.WarStatePreparation)
	}

	api.setLeagueErr("#W1", nil)
	out, err := p.Poll(ctx, "#CLAN")
	if err != nil {
		t.Fatalf("retry Poll() error = %v", err)
	}
	if got := transitions(out.Events); len(got) != 1 || got[0] != events.WarStarted {
		t.Errorf("retry Poll() = %v, want [%s]", got, events.WarStarted)
	}
}

func TestWarPollerOngoingInterval(t *testing.T) {
	clock := newManualClock()
	m := newTestManager(t, clock)
	api := &fakeAPI{wars: map[string]*models.War{"#CLAN": warIn(models.WarStateInWar)}}
	loop := NewWarLoop(m, api)
	p := loop.Poller().(*WarPoller)
	ctx := context.Background()

	p.Poll(ctx, "#CLAN")
	clock.Advance(29 * time.Minute)
	if out, _ := p.Poll(ctx, "#CLAN"); len(out.Events) != 0 {
		t.Errorf("Poll() at 29m = %v, want none", transitions(out.Events))
	}
	clock.Advance(time.Minute)
	out, _ := p.Poll(ctx, "#CLAN")
	if got := transitions(out.Events); len(got) != 1 || got[0] != events.WarOngoing {
		t.Errorf("Poll() at 30m = %v, want [%s]", got, events.WarOngoing)
	}
}

type fakeGuilds struct {
	mu     sync.Mutex
	guilds map[string]*models.GuildSnapshot
}

func (f *fakeGuilds) FetchGuild(ctx context.Context, id string) (*models.GuildSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.guilds[id]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, coc.ErrNotFound
}

func TestGuildPoller(t *testing.T) {
	clock := newManualClock()
	m := newTestManager(t, clock)
	guilds := &fakeGuilds{guilds: map[string]*models.GuildSnapshot{
		"1": {ID: "1", Name: "Pancy", MemberCount: 10},
	}}
	loop := NewGuildLoop(m, guilds)
	p := loop.Poller()
	ctx := context.Background()

	if out, _ := p.Poll(ctx, "1"); len(out.Events) != 0 {
		t.Errorf("first poll = %v, want none", transitions(out.Events))
	}

	guilds.mu.Lock()
	guilds.guilds["1"].Name = "Pancy Studios"
	guilds.mu.Unlock()
	out, _ := p.Poll(ctx, "1")
	if got := transitions(out.Events); len(got) != 1 || got[0] != events.GuildUpdate {
		t.Errorf("Poll() = %v, want [%s]", got, events.GuildUpdate)
	}

	clock.Advance(6 * time.Hour)
	out, _ = p.Poll(ctx, "1")
	if got := transitions(out.Events); len(got) != 1 || got[0] != events.GuildRefresh {
		t.Errorf("Poll() after 6h = %v, want [%s]", got, events.GuildRefresh)
	}
}
