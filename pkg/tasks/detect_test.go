package tasks

import (
	"testing"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
)

var detectTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func clanWith(tags ...string) *models.Clan {
	c := &models.Clan{Tag: "#CLAN", Name: "Los Pancitos", ClanLevel: 10, Members: len(tags)}
	for _, tag := range tags {
		c.MemberList = append(c.MemberList, models.ClanMember{Tag: tag, Name: "p" + tag, Role: "member"})
	}
	return c
}

func transitions(evs []events.Event) []events.Transition {
	out := make([]events.Transition, len(evs))
	for i, ev := range evs {
		out[i] = ev.Transition
	}
	return out
}

func TestDetectClanSelfDiff(t *testing.T) {
	c := clanWith("#A", "#B", "#C")
	if evs := DetectClan("#CLAN", c, c, detectTime); len(evs) != 0 {
		t.Errorf("DetectClan(c, c) = %v, want no events", transitions(evs))
	}
}

func TestDetectClanMembership(t *testing.T) {
	before := clanWith("#A", "#B", "#C")
	after := clanWith("#B", "#C", "#D")

	evs := DetectClan("#CLAN", before, after, detectTime)
	if len(evs) != 2 {
		t.Fatalf("DetectClan() = %v, want one leave and one join", transitions(evs))
	}

	leave, join := evs[0], evs[1]
	if leave.Transition != events.ClanMemberLeave {
		t.Errorf("evs[0] = %s, want %s", leave.Transition, events.ClanMemberLeave)
	}
	if got := leave.Payload.(events.MemberChange).Before.Tag; got != "#A" {
		t.Errorf("leave tag = %s, want #A", got)
	}
	if join.Transition != events.ClanMemberJoin {
		t.Errorf("evs[1] = %s, want %s", join.Transition, events.ClanMemberJoin)
	}
	if got := join.Payload.(events.MemberChange).After.Tag; got != "#D" {
		t.Errorf("join tag = %s, want #D", got)
	}
	if join.Tag != "#CLAN" || join.Kind != events.KindClan {
		t.Errorf("join = %s/%s, want clan/#CLAN", join.Kind, join.Tag)
	}
	if join.ID == "" || join.ID == leave.ID {
		t.Error("events must carry distinct ids")
	}
}

func TestDetectClanMemberAndDetails(t *testing.T) {
	before := clanWith("#A", "#B")
	after := clanWith("#A", "#B")
	after.MemberList[0].Donations = 50
	after.MemberList[1].Role = "elder"
	after.Description = "nueva"

	got := transitions(DetectClan("#CLAN", before, after, detectTime))
	want := []events.Transition{events.ClanMemberDonation, events.ClanMemberRole, events.ClanUpdate}
	if len(got) != len(want) {
		t.Fatalf("DetectClan() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("evs[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDetectPlayer(t *testing.T) {
	before := &models.Player{Tag: "#P", Name: "Pancy", TownHallLevel: 13, Trophies: 4000,
		Clan: &models.PlayerClan{Tag: "#CLAN"}, League: &models.League{ID: 29000020}}

	if evs := DetectPlayer("#P", before, before, detectTime); len(evs) != 0 {
		t.Errorf("DetectPlayer(p, p) = %v, want no events", transitions(evs))
	}

	after := *before
	after.TownHallLevel = 14
	after.Trophies = 3950
	after.Clan = nil
	got := transitions(DetectPlayer("#P", before, &after, detectTime))
	want := []events.Transition{events.PlayerTownHall, events.PlayerTrophiesDown, events.PlayerClanChange}
	if len(got) != len(want) {
		t.Fatalf("DetectPlayer() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("evs[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func warIn(state string, attacks ...models.WarAttack) *models.War {
	return &models.War{
		State:                state,
		PreparationStartTime: "20240501T100000.000Z",
		Clan: models.WarClan{Tag: "#CLAN", Members: []models.WarMember{
			{Tag: "#A", Attacks: attacks},
		}},
		Opponent: models.WarClan{Tag: "#ENEMY"},
	}
}

func TestDetectWar(t *testing.T) {
	first := models.WarAttack{AttackerTag: "#A", DefenderTag: "#E1", Stars: 3, Order: 1}
	second := models.WarAttack{AttackerTag: "#A", DefenderTag: "#E2", Stars: 2, Order: 4}

	tests := []struct {
		name   string
		before *models.War
		after  *models.War
		want   []events.Transition
	}{
		{"seed", nil, warIn(models.WarStateInWar), nil},
		{"self", warIn(models.WarStateInWar, first), warIn(models.WarStateInWar, first), nil},
		{"war dropped to not in war", warIn(models.WarStateInWar), warIn(models.WarStateNotInWar), []events.Transition{events.WarEnded}},
		{"preparation dropped to not in war", warIn(models.WarStatePreparation), warIn(models.WarStateNotInWar), []events.Transition{events.WarEnded}},
		{"ended then not in war", warIn(models.WarStateEnded), warIn(models.WarStateNotInWar), nil},
		{"prep to war", warIn(models.WarStatePreparation), warIn(models.WarStateInWar), []events.Transition{events.WarStarted}},
		{"new attack", warIn(models.WarStateInWar, first), warIn(models.WarStateInWar, first, second), []events.Transition{events.WarAttack}},
		{"attack then end", warIn(models.WarStateInWar, first), warIn(models.WarStateEnded, first, second),
			[]events.Transition{events.WarAttack, events.WarEnded}},
		{"new war", &models.War{State: models.WarStateEnded, PreparationStartTime: "20240420T100000.000Z"}, warIn(models.WarStatePreparation),
			[]events.Transition{events.WarPreparation}},
		{"missed preparation", &models.War{State: models.WarStateNotInWar}, warIn(models.WarStateInWar, first),
			[]events.Transition{events.WarPreparation, events.WarStarted, events.WarAttack}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transitions(DetectWar("#CLAN", tt.before, tt.after, false, detectTime))
			if len(got) != len(tt.want) {
				t.Fatalf("DetectWar() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("evs[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDetectWarEndedWithoutFinalSnapshot(t *testing.T) {
	last := warIn(models.WarStateInWar, models.WarAttack{AttackerTag: "#A", DefenderTag: "#E1", Stars: 3, Order: 1})
	evs := DetectWar("#CLAN", last, &models.War{State: models.WarStateNotInWar}, false, detectTime)
	if len(evs) != 1 || evs[0].Transition != events.WarEnded {
		t.Fatalf("DetectWar() = %v, want [%s]", transitions(evs), events.WarEnded)
	}
	change := evs[0].Payload.(events.WarChange)
	if change.After != last || change.Before != last {
		t.Errorf("WarEnded payload = %+v, want the last known snapshot on both sides", change)
	}
}

func TestDetectWarAttackPayload(t *testing.T) {
	attack := models.WarAttack{AttackerTag: "#A", DefenderTag: "#E1", Stars: 3, Order: 1}
	evs := DetectWar("#CLAN", warIn(models.WarStateInWar), warIn(models.WarStateInWar, attack), true, detectTime)
	if len(evs) != 1 {
		t.Fatalf("DetectWar() = %d events, want 1", len(evs))
	}
	change := evs[0].Payload.(events.WarChange)
	if !change.League {
		t.Error("League = false, want true")
	}
	if change.Attack == nil || *change.Attack != attack {
		t.Errorf("Attack = %+v, want %+v", change.Attack, attack)
	}
}

func raidWith(state string, attacks map[string]int) *models.RaidSeason {
	r := &models.RaidSeason{State: state, StartTime: "20240503T070000.000Z"}
	for _, tag := range []string{"#A", "#B"} {
		if n, ok := attacks[tag]; ok {
			r.Members = append(r.Members, models.RaidMember{Tag: tag, Attacks: n})
		}
	}
	return r
}

func TestDetectRaid(t *testing.T) {
	ongoing := raidWith(models.RaidStateOngoing, map[string]int{"#A": 2})

	if evs, ended := DetectRaid("#CLAN", ongoing, ongoing, detectTime); len(evs) != 0 || ended {
		t.Errorf("DetectRaid(r, r) = %v, %v, want no events", transitions(evs), ended)
	}
	if evs, _ := DetectRaid("#CLAN", nil, ongoing, detectTime); len(evs) != 0 {
		t.Errorf("DetectRaid(nil, r) = %v, want no events", transitions(evs))
	}

	more := raidWith(models.RaidStateOngoing, map[string]int{"#A": 3, "#B": 1})
	evs, ended := DetectRaid("#CLAN", ongoing, more, detectTime)
	if ended || len(evs) != 2 {
		t.Fatalf("DetectRaid() = %v, ended %v, want two attacks", transitions(evs), ended)
	}
	if got := evs[0].Payload.(events.RaidChange).PrevAttacks; got != 2 {
		t.Errorf("PrevAttacks = %d, want 2", got)
	}

	done := raidWith(models.RaidStateEnded, map[string]int{"#A": 3, "#B": 1})
	if evs, ended := DetectRaid("#CLAN", more, done, detectTime); len(evs) != 0 || !ended {
		t.Errorf("DetectRaid() = %v, ended %v, want only the end", transitions(evs), ended)
	}

	next := raidWith(models.RaidStateOngoing, nil)
	next.StartTime = "20240510T070000.000Z"
	evs, _ = DetectRaid("#CLAN", done, next, detectTime)
	if len(evs) != 1 || evs[0].Transition != events.RaidStarted {
		t.Errorf("DetectRaid() = %v, want [%s]", transitions(evs), events.RaidStarted)
	}
}
