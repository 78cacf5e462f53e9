// Package events holds the handler sets the bot plugs into the polling core.
// Each set registers under its own name so it can be unloaded on its own.
package events

import (
	"context"
	"fmt"

	core "github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"github.com/bwmarrin/discordgo"
)

// Handler set names
const (
	FeedHandler          = "clan-feed"
	PlayerRefreshHandler = "player-refresh"
	WarResultsHandler    = "war-results"
	RaidResultsHandler   = "raid-results"
	BridgeHandler        = "mqtt-bridge"
	LiveFeedHandler      = "live-feed"
)

// Sender posts embeds to Discord channels
type Sender interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
}

// LinkLookup resolves the guild links of a clan
type LinkLookup interface {
	ForClan(tag string) []*models.ClanLink
}

// Enqueuer schedules an out-of-band fetch
type Enqueuer interface {
	Enqueue(kind core.Kind, tag string) bool
}

// Submitter runs a job on the shared worker pool
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps are the components the handler sets use. A nil Bridge or Live skips that set.
type Deps struct {
	Sender   Sender
	Links    LinkLookup
	Enqueuer Enqueuer
	Pool     Submitter
	Bridge   core.HandlerFunc
	Live     core.HandlerFunc
}

var handlerNames = []string{
	FeedHandler,
	PlayerRefreshHandler,
	WarResultsHandler,
	RaidResultsHandler,
	BridgeHandler,
	LiveFeedHandler,
}

// RegisterAll loads every handler set into registry and returns the number
// of (kind, transition) registrations added
func RegisterAll(registry *core.Registry, deps Deps) int {
	logger.System("📋 Registrando handlers de eventos...", "Events")

	added := 0
	if deps.Sender != nil && deps.Links != nil {
		added += RegisterFeed(registry, deps)
	}
	if deps.Enqueuer != nil {
		added += RegisterPlayerRefresh(registry, deps)
	}
	if deps.Sender != nil && deps.Links != nil && deps.Pool != nil {
		added += RegisterResults(registry, deps)
	}
	if deps.Bridge != nil {
		added += registry.RegisterEverywhere(core.Handler{Name: BridgeHandler, Fn: deps.Bridge})
	}
	if deps.Live != nil {
		added += registry.RegisterEverywhere(core.Handler{Name: LiveFeedHandler, Fn: deps.Live})
	}

	logger.Success(fmt.Sprintf("✅ %d handlers registrados", added), "Events")
	return added
}

// UnregisterAll unloads every handler set and returns the number removed
func UnregisterAll(registry *core.Registry) int {
	removed := 0
	for _, name := range handlerNames {
		removed += registry.UnregisterAll(name)
	}
	logger.System(fmt.Sprintf("%d handlers eliminados", removed), "Events")
	return removed
}
