// Package events defines the transitions detected by the polling loops and
// the registry through which other modules subscribe to them.
package events

import (
	"context"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"github.com/google/uuid"
)

// Kind is an entity kind polled by one loop
type Kind string

const (
	KindClan   Kind = "clan"
	KindPlayer Kind = "player"
	KindWar    Kind = "war"
	KindRaid   Kind = "raid"
	KindGuild  Kind = "guild"
)

// Kinds lists every loop kind in reconcile order. Clans come before players
// because the player set is derived from cached clan rosters.
var Kinds = []Kind{KindClan, KindPlayer, KindWar, KindRaid, KindGuild}

// Transition names a detected change
type Transition string

const (
	ClanMemberJoin     Transition = "clan_member_join"
	ClanMemberLeave    Transition = "clan_member_leave"
	ClanMemberDonation Transition = "clan_member_donation"
	ClanMemberRole     Transition = "clan_member_role"
	ClanUpdate         Transition = "clan_update"

	PlayerName         Transition = "player_name"
	PlayerTownHall     Transition = "player_townhall"
	PlayerTrophiesUp   Transition = "player_trophies_up"
	PlayerTrophiesDown Transition = "player_trophies_down"
	PlayerClanChange   Transition = "player_clan_change"
	PlayerLeague       Transition = "player_league"

	WarPreparation Transition = "war_preparation"
	WarStarted     Transition = "war_started"
	WarAttack      Transition = "war_attack"
	WarEnded       Transition = "war_ended"
	WarOngoing     Transition = "war_ongoing"

	RaidStarted      Transition = "raid_started"
	RaidMemberAttack Transition = "raid_member_attack"
	RaidEnded        Transition = "raid_ended"

	GuildUpdate  Transition = "guild_update"
	GuildRefresh Transition = "guild_refresh"
)

// Transitions lists the transitions each loop kind can emit
var Transitions = map[Kind][]Transition{
	KindClan:   {ClanMemberJoin, ClanMemberLeave, ClanMemberDonation, ClanMemberRole, ClanUpdate},
	KindPlayer: {PlayerName, PlayerTownHall, PlayerTrophiesUp, PlayerTrophiesDown, PlayerClanChange, PlayerLeague},
	KindWar:    {WarPreparation, WarStarted, WarAttack, WarEnded, WarOngoing},
	KindRaid:   {RaidStarted, RaidMemberAttack, RaidEnded},
	KindGuild:  {GuildUpdate, GuildRefresh},
}

// Event is one detected transition for one tag
type Event struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Transition Transition  `json:"transition"`
	Tag        string      `json:"tag"`
	Time       time.Time   `json:"time"`
	Payload    interface{} `json:"payload"`
}

// New builds an Event with a fresh id
func New(kind Kind, transition Transition, tag string, at time.Time, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Transition: transition,
		Tag:        tag,
		Time:       at,
		Payload:    payload,
	}
}

// HandlerFunc processes one event. Handlers run concurrently with each other
// and must do their own locking around shared state.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handler is a named handler. The name is its identity in the registry.
type Handler struct {
	Name string
	Fn   HandlerFunc
}

// Payloads

// ClanChange carries clan-level changes
type ClanChange struct {
	Before *models.Clan `json:"before"`
	After  *models.Clan `json:"after"`
}

// MemberChange carries one member's join, leave, donation or role change.
// Before is nil on joins and After is nil on leaves.
type MemberChange struct {
	ClanTag  string             `json:"clanTag"`
	ClanName string             `json:"clanName"`
	Before   *models.ClanMember `json:"before,omitempty"`
	After    *models.ClanMember `json:"after,omitempty"`
}

// PlayerChange carries player snapshot changes
type PlayerChange struct {
	Before *models.Player `json:"before"`
	After  *models.Player `json:"after"`
}

// WarChange carries war state changes. League is set for war league rounds.
type WarChange struct {
	ClanTag string            `json:"clanTag"`
	League  bool              `json:"league"`
	Before  *models.War       `json:"before,omitempty"`
	After   *models.War       `json:"after"`
	Attack  *models.WarAttack `json:"attack,omitempty"`
}

// RaidChange carries raid weekend changes
type RaidChange struct {
	ClanTag     string             `json:"clanTag"`
	Before      *models.RaidSeason `json:"before,omitempty"`
	After       *models.RaidSeason `json:"after"`
	Member      *models.RaidMember `json:"member,omitempty"`
	PrevAttacks int                `json:"prevAttacks,omitempty"`
}

// GuildChange carries Discord guild changes
type GuildChange struct {
	Before *models.GuildSnapshot `json:"before,omitempty"`
	After  *models.GuildSnapshot `json:"after"`
}
