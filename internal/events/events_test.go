package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	core "github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"github.com/bwmarrin/discordgo"
)

type sentEmbed struct {
	channel string
	embed   *discordgo.MessageEmbed
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmbed
	fail map[string]error
}

func (s *fakeSender) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[channelID]; err != nil {
		return err
	}
	s.sent = append(s.sent, sentEmbed{channelID, embed})
	return nil
}

type fakeLinks map[string][]*models.ClanLink

func (f fakeLinks) ForClan(tag string) []*models.ClanLink { return f[tag] }

type fakeEnqueuer struct {
	queued []string
}

func (f *fakeEnqueuer) Enqueue(kind core.Kind, tag string) bool {
	f.queued = append(f.queued, string(kind)+":"+tag)
	return true
}

type inlinePool struct{ calls int }

func (p *inlinePool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

func testDeps() (Deps, *fakeSender, *fakeEnqueuer, *inlinePool) {
	sender := &fakeSender{fail: map[string]error{}}
	enq := &fakeEnqueuer{}
	pool := &inlinePool{}
	links := fakeLinks{
		"#2PP": {
			{GuildID: "g1", Tag: "#2PP", FeedChannelID: "feed1", WarChannelID: "war1", DonationChannel: "don1"},
			{GuildID: "g2", Tag: "#2PP", FeedChannelID: "feed2", RaidChannelID: "raid2"},
		},
	}
	return Deps{Sender: sender, Links: links, Enqueuer: enq, Pool: pool}, sender, enq, pool
}

func member(tag, name string, donations int, role string) *models.ClanMember {
	return &models.ClanMember{Tag: tag, Name: name, Donations: donations, Role: role, TownHallLevel: 14}
}

func TestRegisterAllAndUnregisterAll(t *testing.T) {
	deps, _, _, _ := testDeps()
	noop := func(ctx context.Context, ev core.Event) error { return nil }
	deps.Bridge = noop
	deps.Live = noop

	registry := core.NewRegistry()
	everywhere := 0
	for _, ts := range core.Transitions {
		everywhere += len(ts)
	}

	want := 4 + 1 + 2 + 2*everywhere
	if got := RegisterAll(registry, deps); got != want {
		t.Errorf("RegisterAll() = %d, want %d", got, want)
	}
	if got := registry.Count(core.KindClan, core.ClanMemberJoin); got != 4 {
		t.Errorf("handlers on clan_member_join = %d, want 4", got)
	}
	if got := RegisterAll(registry, deps); got != 0 {
		t.Errorf("second RegisterAll() = %d, want 0", got)
	}
	if got := UnregisterAll(registry); got != want {
		t.Errorf("UnregisterAll() = %d, want %d", got, want)
	}
	if registry.Listening(core.KindWar) {
		t.Error("registry still listening after UnregisterAll")
	}
}

func TestFeedRoutesByTransition(t *testing.T) {
	deps, sender, _, _ := testDeps()
	h := feedHandler(deps)
	ctx := context.Background()
	now := time.Now()

	join := core.New(core.KindClan, core.ClanMemberJoin, "#2PP", now, core.MemberChange{
		ClanTag: "#2PP", ClanName: "Clan", After: member("#P1", "Ana", 0, "member"),
	})
	donation := core.New(core.KindClan, core.ClanMemberDonation, "#2PP", now, core.MemberChange{
		ClanTag: "#2PP", ClanName: "Clan",
		Before: member("#P1", "Ana", 10, "member"), After: member("#P1", "Ana", 25, "member"),
	})
	for _, ev := range []core.Event{join, donation} {
		if err := h(ctx, ev); err != nil {
			t.Fatalf("feed(%s) error = %v", ev.Transition, err)
		}
	}

	var channels []string
	for _, s := range sender.sent {
		channels = append(channels, s.channel)
	}
	want := "feed1,feed2,don1,feed2"
	if got := strings.Join(channels, ","); got != want {
		t.Errorf("channels = %s, want %s", got, want)
	}
	if !strings.Contains(sender.sent[2].embed.Description, "donó 15") {
		t.Errorf("donation line = %q, want the 15 troop delta", sender.sent[2].embed.Description)
	}
}

func TestFeedJoinsSendErrors(t *testing.T) {
	deps, sender, _, _ := testDeps()
	sender.fail["feed1"] = errors.New("missing permissions")
	ev := core.New(core.KindClan, core.ClanMemberLeave, "#2PP", time.Now(), core.MemberChange{
		ClanTag: "#2PP", Before: member("#P1", "Ana", 0, "member"),
	})
	err := feedHandler(deps)(context.Background(), ev)
	if err == nil || !strings.Contains(err.Error(), "g1") {
		t.Errorf("feed error = %v, want the g1 failure", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent = %d, want the g2 post to go through", len(sender.sent))
	}
}

func TestPlayerRefreshEnqueuesJoins(t *testing.T) {
	deps, _, enq, _ := testDeps()
	registry := core.NewRegistry()
	RegisterPlayerRefresh(registry, deps)

	ev := core.New(core.KindClan, core.ClanMemberJoin, "#2PP", time.Now(), core.MemberChange{
		After: member("#NEW", "Leo", 0, "member"),
	})
	for _, h := range registry.Handlers(core.KindClan, core.ClanMemberJoin) {
		if err := h.Fn(context.Background(), ev); err != nil {
			t.Fatalf("handler error = %v", err)
		}
	}
	if len(enq.queued) != 1 || enq.queued[0] != "player:#NEW" {
		t.Errorf("queued = %v, want [player:#NEW]", enq.queued)
	}
}

func endedWar() *models.War {
	return &models.War{
		State:            models.WarStateEnded,
		TeamSize:         3,
		AttacksPerMember: 2,
		Clan: models.WarClan{
			Tag: "#2PP", Name: "Clan", Stars: 7, DestructionPercentage: 88.5, Attacks: 5,
			Members: []models.WarMember{
				{Tag: "#A", Name: "Ana", MapPosition: 1, Attacks: []models.WarAttack{{Stars: 3, DestructionPercentage: 100}, {Stars: 2, DestructionPercentage: 80}}},
				{Tag: "#B", Name: "Bea", MapPosition: 2, Attacks: []models.WarAttack{{Stars: 3, DestructionPercentage: 100}, {Stars: 2, DestructionPercentage: 90}}},
				{Tag: "#C", Name: "Cris", MapPosition: 3, Attacks: []models.WarAttack{{Stars: 1, DestructionPercentage: 40}}},
			},
		},
		Opponent: models.WarClan{Tag: "#OPP", Name: "Rival", Stars: 5, DestructionPercentage: 70},
	}
}

func TestWarSummary(t *testing.T) {
	embed := WarSummary(endedWar(), true, time.Now())
	if !strings.HasPrefix(embed.Title, "🏆 Victoria") || !strings.Contains(embed.Title, "Liga") {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color != resultColors["win"] {
		t.Errorf("Color = %x, want win", embed.Color)
	}

	var mvp, missed string
	for _, f := range embed.Fields {
		switch {
		case f.Name == "MVP":
			mvp = f.Value
		case strings.HasPrefix(f.Name, "Ataques sin usar"):
			missed = f.Value
		}
	}
	if !strings.Contains(mvp, "Bea") {
		t.Errorf("MVP = %q, want Bea on the destruction tie-break", mvp)
	}
	if missed != "3. Cris (1)" {
		t.Errorf("missed = %q, want 3. Cris (1)", missed)
	}
}

func TestWarResultsUsePoolAndWarChannel(t *testing.T) {
	deps, sender, _, pool := testDeps()
	ev := core.New(core.KindWar, core.WarEnded, "#2PP", time.Now(), core.WarChange{ClanTag: "#2PP", After: endedWar()})
	if err := warResultsHandler(deps)(context.Background(), ev); err != nil {
		t.Fatalf("warResults error = %v", err)
	}
	if pool.calls != 1 {
		t.Errorf("pool calls = %d, want 1", pool.calls)
	}
	if len(sender.sent) != 1 || sender.sent[0].channel != "war1" {
		t.Errorf("sent = %+v, want only war1", sender.sent)
	}
}

func TestRaidSummary(t *testing.T) {
	raid := &models.RaidSeason{
		State:            models.RaidStateEnded,
		CapitalTotalLoot: 50000,
		Members: []models.RaidMember{
			{Name: "Ana", CapitalResourcesLooted: 1000, Attacks: 5, AttackLimit: 5, BonusAttackLimit: 1},
			{Name: "Bea", CapitalResourcesLooted: 3000, Attacks: 6, AttackLimit: 5, BonusAttackLimit: 1},
		},
	}
	embed := RaidSummary("#2PP", raid, time.Now())
	last := embed.Fields[len(embed.Fields)-1]
	if !strings.HasPrefix(last.Value, "1. Bea") {
		t.Errorf("top looters = %q, want Bea first", last.Value)
	}
}

func TestTruncateList(t *testing.T) {
	lines := []string{"aaaa", "bbbb", "cccc"}
	if got := truncateList(lines, 10); got != "aaaa\nbbbb… y 1 más" {
		t.Errorf("truncateList() = %q", got)
	}
}
