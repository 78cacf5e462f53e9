package discord

import (
	"sync"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/bwmarrin/discordgo"
)

// EventHandler keeps the gateway handlers added to the session so they can
// be removed together
type EventHandler struct {
	client   *ExtendedClient
	removers []func()
	mu       sync.Mutex
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(client *ExtendedClient) *EventHandler {
	return &EventHandler{client: client}
}

// RegisterEvent adds an event handler to the Discord session
func (eh *EventHandler) RegisterEvent(handler interface{}) {
	remove := eh.client.Session.AddHandler(handler)
	eh.mu.Lock()
	eh.removers = append(eh.removers, remove)
	eh.mu.Unlock()
	logger.Debug("Evento registrado", "EventHandler")
}

// RemoveAll detaches every handler added through RegisterEvent
func (eh *EventHandler) RemoveAll() int {
	eh.mu.Lock()
	removers := eh.removers
	eh.removers = nil
	eh.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	return len(removers)
}

// ReadyHandler is called when the bot is ready
type ReadyHandler func(s *discordgo.Session, r *discordgo.Ready)

// GuildCreateHandler is called when the bot joins a guild
type GuildCreateHandler func(s *discordgo.Session, g *discordgo.GuildCreate)

// GuildUpdateHandler is called when a guild changes
type GuildUpdateHandler func(s *discordgo.Session, g *discordgo.GuildUpdate)

// GuildDeleteHandler is called when the bot leaves a guild
type GuildDeleteHandler func(s *discordgo.Session, g *discordgo.GuildDelete)

// OnReady registers a ready event handler
func (eh *EventHandler) OnReady(handler ReadyHandler) {
	eh.RegisterEvent(handler)
	logger.Debug("Evento 'Ready' registrado", "EventHandler")
}

// OnGuildCreate registers a guild create event handler
func (eh *EventHandler) OnGuildCreate(handler GuildCreateHandler) {
	eh.RegisterEvent(handler)
	logger.Debug("Evento 'GuildCreate' registrado", "EventHandler")
}

// OnGuildUpdate registers a guild update event handler
func (eh *EventHandler) OnGuildUpdate(handler GuildUpdateHandler) {
	eh.RegisterEvent(handler)
	logger.Debug("Evento 'GuildUpdate' registrado", "EventHandler")
}

// OnGuildDelete registers a guild delete event handler
func (eh *EventHandler) OnGuildDelete(handler GuildDeleteHandler) {
	eh.RegisterEvent(handler)
	logger.Debug("Evento 'GuildDelete' registrado", "EventHandler")
}
