package events

import (
	"context"
	"fmt"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/discord"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/bwmarrin/discordgo"
)

// GatewayHooks are the polling core entry points the gateway handlers call
type GatewayHooks struct {
	Reconcile func(ctx context.Context) bool
	Enqueuer  Enqueuer
}

// RegisterGateway wires the Discord gateway events into the polling core
func RegisterGateway(client *discord.ExtendedClient, hooks GatewayHooks) {
	client.EventHandler.OnReady(onReady(hooks))
	client.EventHandler.OnGuildCreate(onGuildCreate(hooks))
	client.EventHandler.OnGuildDelete(onGuildDelete(hooks))
	client.Session.AddHandler(onDebug)
}

// onReady reloads the tag sets once the session is up, so guilds joined
// while offline are polled without waiting for the next reconcile
func onReady(hooks GatewayHooks) discord.ReadyHandler {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Success(fmt.Sprintf("✅ Bot conectado: %s", r.User.Username), "Ready")
		logger.Info(fmt.Sprintf("📊 Conectado a %d servidores", len(r.Guilds)), "Ready")

		if err := s.UpdateWatchStatus(0, "los clanes ⚔️"); err != nil {
			logger.Error(fmt.Sprintf("Error estableciendo estado: %v", err), "Ready")
		}

		if hooks.Reconcile == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if hooks.Reconcile(ctx) {
				logger.Debug("Tags recargados tras READY", "Ready")
			}
		}()
	}
}

func onDebug(s *discordgo.Session, log string) {
	logger.Debug(log, "DiscordGO")
}
