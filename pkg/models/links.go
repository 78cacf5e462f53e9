package models

import "time"

// ClanLink vincula un clan a un servidor de Discord (colección "clans")
type ClanLink struct {
	GuildID         string    `bson:"guildId" json:"guildId"`
	Tag             string    `bson:"tag" json:"tag"`
	Name            string    `bson:"name" json:"name"`
	FeedChannelID   string    `bson:"feedChannel,omitempty" json:"feedChannel,omitempty"`
	WarChannelID    string    `bson:"warChannel,omitempty" json:"warChannel,omitempty"`
	RaidChannelID   string    `bson:"raidChannel,omitempty" json:"raidChannel,omitempty"`
	DonationChannel string    `bson:"donationChannel,omitempty" json:"donationChannel,omitempty"`
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
}

// PlayerLink vincula una cuenta del juego a un usuario (colección "player_links")
type PlayerLink struct {
	UserID    string    `bson:"userId" json:"userId"`
	Tag       string    `bson:"tag" json:"tag"`
	Verified  bool      `bson:"verified" json:"verified"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// ReminderType is the kind of event a reminder fires on
type ReminderType string

const (
	ReminderWar  ReminderType = "war"
	ReminderRaid ReminderType = "raid"
)

// Reminder is a scheduled ping for a clan (collection "reminders")
type Reminder struct {
	GuildID   string        `bson:"guildId" json:"guildId"`
	ClanTag   string        `bson:"clanTag" json:"clanTag"`
	ChannelID string        `bson:"channelId" json:"channelId"`
	Type      ReminderType  `bson:"type" json:"type"`
	Before    time.Duration `bson:"before" json:"before"`
}

// LeagueClan marks a clan signed up for the current war league (collection "league_clans")
type LeagueClan struct {
	ClanTag string `bson:"clanTag" json:"clanTag"`
	GuildID string `bson:"guildId" json:"guildId"`
	Season  string `bson:"season" json:"season"`
}

// GuildConfig is the per-server configuration (collection "guilds")
type GuildConfig struct {
	GuildID    string `bson:"guildId" json:"guildId"`
	LogChannel string `bson:"logChannel,omitempty" json:"logChannel,omitempty"`
	Language   string `bson:"language,omitempty" json:"language,omitempty"`
	AutoRoles  bool   `bson:"autoRoles" json:"autoRoles"`
}
