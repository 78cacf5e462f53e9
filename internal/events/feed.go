package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	core "github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"github.com/bwmarrin/discordgo"
)

const (
	colorJoin     = 0x2ecc71
	colorLeave    = 0xe74c3c
	colorDonation = 0x3498db
	colorRole     = 0xf1c40f
)

var roleNames = map[string]string{
	"member":   "Miembro",
	"admin":    "Veterano",
	"coLeader": "Colíder",
	"leader":   "Líder",
}

func roleName(role string) string {
	if name, ok := roleNames[role]; ok {
		return name
	}
	return role
}

// RegisterFeed posts roster changes to every guild that linked the clan
func RegisterFeed(registry *core.Registry, deps Deps) int {
	h := core.Handler{Name: FeedHandler, Fn: feedHandler(deps)}
	added := 0
	for _, t := range []core.Transition{core.ClanMemberJoin, core.ClanMemberLeave, core.ClanMemberDonation, core.ClanMemberRole} {
		if registry.Register(core.KindClan, t, h) {
			added++
		}
	}
	return added
}

func feedHandler(deps Deps) core.HandlerFunc {
	return func(ctx context.Context, ev core.Event) error {
		change, ok := ev.Payload.(core.MemberChange)
		if !ok {
			return fmt.Errorf("payload inesperado para %s: %T", ev.Transition, ev.Payload)
		}
		embed := feedEmbed(ev.Transition, change, ev.Time)
		if embed == nil {
			return nil
		}

		var errs []error
		for _, link := range deps.Links.ForClan(ev.Tag) {
			channel := feedChannel(link, ev.Transition)
			if channel == "" {
				continue
			}
			if err := deps.Sender.SendEmbed(channel, embed); err != nil {
				errs = append(errs, fmt.Errorf("guild %s: %w", link.GuildID, err))
			}
		}
		return errors.Join(errs...)
	}
}

// feedChannel picks the channel of link that receives transition. Donations
// go to the donation channel when one is set.
func feedChannel(link *models.ClanLink, transition core.Transition) string {
	if transition == core.ClanMemberDonation && link.DonationChannel != "" {
		return link.DonationChannel
	}
	return link.FeedChannelID
}

func feedEmbed(transition core.Transition, change core.MemberChange, at time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%s (%s)", change.ClanName, change.ClanTag)},
		Timestamp: at.Format(time.RFC3339),
	}

	switch transition {
	case core.ClanMemberJoin:
		if change.After == nil {
			return nil
		}
		embed.Color = colorJoin
		embed.Description = fmt.Sprintf("➕ **%s** (`%s`) se unió al clan · TH%d · %d 🏆",
			change.After.Name, change.After.Tag, change.After.TownHallLevel, change.After.Trophies)
	case core.ClanMemberLeave:
		if change.Before == nil {
			return nil
		}
		embed.Color = colorLeave
		embed.Description = fmt.Sprintf("➖ **%s** (`%s`) dejó el clan", change.Before.Name, change.Before.Tag)
	case core.ClanMemberDonation:
		if change.Before == nil || change.After == nil {
			return nil
		}
		embed.Color = colorDonation
		embed.Description = fmt.Sprintf("🎁 **%s** donó %d tropas (%d en la temporada)",
			change.After.Name, change.After.Donations-change.Before.Donations, change.After.Donations)
	case core.ClanMemberRole:
		if change.Before == nil || change.After == nil {
			return nil
		}
		embed.Color = colorRole
		embed.Description = fmt.Sprintf("⭐ **%s** pasó de %s a %s",
			change.After.Name, roleName(change.Before.Role), roleName(change.After.Role))
	default:
		return nil
	}
	return embed
}

// RegisterPlayerRefresh enqueues the player of every member join so its
// snapshot is seeded before the next reconcile
func RegisterPlayerRefresh(registry *core.Registry, deps Deps) int {
	h := core.Handler{
		Name: PlayerRefreshHandler,
		Fn: func(ctx context.Context, ev core.Event) error {
			change, ok := ev.Payload.(core.MemberChange)
			if !ok || change.After == nil {
				return nil
			}
			deps.Enqueuer.Enqueue(core.KindPlayer, change.After.Tag)
			return nil
		},
	}
	if registry.Register(core.KindClan, core.ClanMemberJoin, h) {
		return 1
	}
	return 0
}
