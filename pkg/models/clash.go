package models

import "time"

// apiTimeLayout is the timestamp format used by the game API
const apiTimeLayout = "20060102T150405.000Z"

// ParseAPITime parses a game API timestamp, returning the zero time on bad input
func ParseAPITime(s string) time.Time {
	t, err := time.Parse(apiTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatAPITime renders t in the game API format
func FormatAPITime(t time.Time) string {
	return t.UTC().Format(apiTimeLayout)
}

// League es la liga de trofeos o de guerra
type League struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Clan is the clan snapshot returned by /clans/{tag}
type Clan struct {
	Tag            string       `json:"tag"`
	Name           string       `json:"name"`
	Type           string       `json:"type"`
	Description    string       `json:"description"`
	ClanLevel      int          `json:"clanLevel"`
	ClanPoints     int          `json:"clanPoints"`
	WarWins        int          `json:"warWins"`
	WarWinStreak   int          `json:"warWinStreak"`
	IsWarLogPublic bool         `json:"isWarLogPublic"`
	WarLeague      League       `json:"warLeague"`
	Members        int          `json:"members"`
	MemberList     []ClanMember `json:"memberList"`
}

// ClanMember es un miembro dentro del snapshot del clan
type ClanMember struct {
	Tag               string `json:"tag"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	ExpLevel          int    `json:"expLevel"`
	TownHallLevel     int    `json:"townHallLevel"`
	Trophies          int    `json:"trophies"`
	ClanRank          int    `json:"clanRank"`
	Donations         int    `json:"donations"`
	DonationsReceived int    `json:"donationsReceived"`
}

// MemberTags returns the set of member tags
func (c *Clan) MemberTags() map[string]struct{} {
	tags := make(map[string]struct{}, len(c.MemberList))
	for _, m := range c.MemberList {
		tags[m.Tag] = struct{}{}
	}
	return tags
}

// Member looks up a member by tag
func (c *Clan) Member(tag string) (ClanMember, bool) {
	for _, m := range c.MemberList {
		if m.Tag == tag {
			return m, true
		}
	}
	return ClanMember{}, false
}

// PlayerClan is the clan summary embedded in a player
type PlayerClan struct {
	Tag       string `json:"tag"`
	Name      string `json:"name"`
	ClanLevel int    `json:"clanLevel"`
}

// Player is the player snapshot returned by /players/{tag}
type Player struct {
	Tag               string      `json:"tag"`
	Name              string      `json:"name"`
	TownHallLevel     int         `json:"townHallLevel"`
	ExpLevel          int         `json:"expLevel"`
	Trophies          int         `json:"trophies"`
	BestTrophies      int         `json:"bestTrophies"`
	WarStars          int         `json:"warStars"`
	AttackWins        int         `json:"attackWins"`
	DefenseWins       int         `json:"defenseWins"`
	Donations         int         `json:"donations"`
	DonationsReceived int         `json:"donationsReceived"`
	Role              string      `json:"role"`
	WarPreference     string      `json:"warPreference"`
	Clan              *PlayerClan `json:"clan,omitempty"`
	League            *League     `json:"league,omitempty"`
}

// ClanTag returns the tag of the player's clan or ""
func (p *Player) ClanTag() string {
	if p.Clan == nil {
		return ""
	}
	return p.Clan.Tag
}

// War states
const (
	WarStateNotInWar    = "notInWar"
	WarStatePreparation = "preparation"
	WarStateInWar       = "inWar"
	WarStateEnded       = "warEnded"
)

// WarAttack es un ataque individual de guerra
type WarAttack struct {
	AttackerTag           string  `json:"attackerTag"`
	DefenderTag           string  `json:"defenderTag"`
	Stars                 int     `json:"stars"`
	DestructionPercentage float64 `json:"destructionPercentage"`
	Order                 int     `json:"order"`
	Duration              int     `json:"duration"`
}

// WarMember is one roster slot of a war
type WarMember struct {
	Tag           string      `json:"tag"`
	Name          string      `json:"name"`
	TownHallLevel int         `json:"townhallLevel"`
	MapPosition   int         `json:"mapPosition"`
	Attacks       []WarAttack `json:"attacks,omitempty"`
}

// WarClan is one side of a war
type WarClan struct {
	Tag                   string      `json:"tag"`
	Name                  string      `json:"name"`
	ClanLevel             int         `json:"clanLevel"`
	Attacks               int         `json:"attacks"`
	Stars                 int         `json:"stars"`
	DestructionPercentage float64     `json:"destructionPercentage"`
	Members               []WarMember `json:"members"`
}

// War is the snapshot returned by /clans/{tag}/currentwar and /clanwarleagues/wars/{warTag}
type War struct {
	State                string  `json:"state"`
	TeamSize             int     `json:"teamSize"`
	AttacksPerMember     int     `json:"attacksPerMember"`
	PreparationStartTime string  `json:"preparationStartTime"`
	StartTime            string  `json:"startTime"`
	EndTime              string  `json:"endTime"`
	Clan                 WarClan `json:"clan"`
	Opponent             WarClan `json:"opponent"`

	// WarTag is set for league wars only
	WarTag string `json:"warTag,omitempty"`
}

// Attacks returns every attack made by the clan side, ordered as returned
func (w *War) Attacks() []WarAttack {
	var out []WarAttack
	for _, m := range w.Clan.Members {
		out = append(out, m.Attacks...)
	}
	return out
}

// Oriented returns the war seen from clanTag's side. League war endpoints
// return sides in arbitrary order.
func (w *War) Oriented(clanTag string) *War {
	if w.Opponent.Tag != clanTag {
		return w
	}
	flipped := *w
	flipped.Clan, flipped.Opponent = w.Opponent, w.Clan
	return &flipped
}

// Result returns "win", "lose" or "tie" from the clan side
func (w *War) Result() string {
	switch {
	case w.Clan.Stars > w.Opponent.Stars:
		return "win"
	case w.Clan.Stars < w.Opponent.Stars:
		return "lose"
	case w.Clan.DestructionPercentage > w.Opponent.DestructionPercentage:
		return "win"
	case w.Clan.DestructionPercentage < w.Opponent.DestructionPercentage:
		return "lose"
	default:
		return "tie"
	}
}

// LeagueRound lists the war tags of one league round. "#0" marks a war not yet scheduled.
type LeagueRound struct {
	WarTags []string `json:"warTags"`
}

// LeagueGroup is the snapshot returned by /clans/{tag}/currentwar/leaguegroup
type LeagueGroup struct {
	State  string        `json:"state"`
	Season string        `json:"season"`
	Clans  []PlayerClan  `json:"clans"`
	Rounds []LeagueRound `json:"rounds"`
}

// Raid season states
const (
	RaidStateOngoing = "ongoing"
	RaidStateEnded   = "ended"
)

// RaidMember es la participación de un jugador en el fin de semana de asalto
type RaidMember struct {
	Tag                    string `json:"tag"`
	Name                   string `json:"name"`
	Attacks                int    `json:"attacks"`
	AttackLimit            int    `json:"attackLimit"`
	BonusAttackLimit       int    `json:"bonusAttackLimit"`
	CapitalResourcesLooted int    `json:"capitalResourcesLooted"`
}

// RaidSeason is one capital raid weekend
type RaidSeason struct {
	State                   string       `json:"state"`
	StartTime               string       `json:"startTime"`
	EndTime                 string       `json:"endTime"`
	CapitalTotalLoot        int          `json:"capitalTotalLoot"`
	RaidsCompleted          int          `json:"raidsCompleted"`
	TotalAttacks            int          `json:"totalAttacks"`
	EnemyDistrictsDestroyed int          `json:"enemyDistrictsDestroyed"`
	OffensiveReward         int          `json:"offensiveReward"`
	DefensiveReward         int          `json:"defensiveReward"`
	Members                 []RaidMember `json:"members,omitempty"`
}

// Member looks up a raid member by tag
func (r *RaidSeason) Member(tag string) (RaidMember, bool) {
	for _, m := range r.Members {
		if m.Tag == tag {
			return m, true
		}
	}
	return RaidMember{}, false
}

// RaidLog is the response of /clans/{tag}/capitalraidseasons, newest first
type RaidLog struct {
	Items []RaidSeason `json:"items"`
}

// GuildSnapshot is the slice of a Discord guild the guild loop diffs
type GuildSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	OwnerID     string `json:"ownerId"`
	MemberCount int    `json:"memberCount"`
	PremiumTier int    `json:"premiumTier"`
}
