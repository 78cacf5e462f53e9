package events

import (
	"fmt"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/discord"
	core "github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/bwmarrin/discordgo"
)

// onGuildCreate seeds the guild loop for servers the bot just joined.
// Gateway replays of known guilds on reconnect are ignored.
func onGuildCreate(hooks GatewayHooks) discord.GuildCreateHandler {
	return func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if g.JoinedAt.Before(time.Now().Add(-10 * time.Second)) {
			return
		}
		logger.Info(fmt.Sprintf("➕ Bot agregado a servidor: %s (ID: %s)", g.Name, g.ID), "Guild")
		if hooks.Enqueuer != nil {
			hooks.Enqueuer.Enqueue(core.KindGuild, g.ID)
		}
	}
}

// onGuildDelete asks the guild loop to refetch a guild the bot left. The
// fetch fails with not found and the loop purges the guild's links. Outages
// (Unavailable) are left alone.
func onGuildDelete(hooks GatewayHooks) discord.GuildDeleteHandler {
	return func(s *discordgo.Session, g *discordgo.GuildDelete) {
		if g.Unavailable {
			logger.Warn(fmt.Sprintf("Servidor %s no disponible temporalmente", g.ID), "Guild")
			return
		}
		logger.Info(fmt.Sprintf("➖ Bot removido del servidor ID: %s", g.ID), "Guild")
		if hooks.Enqueuer != nil {
			hooks.Enqueuer.Enqueue(core.KindGuild, g.ID)
		}
	}
}
