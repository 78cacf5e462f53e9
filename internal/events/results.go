package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	core "github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"github.com/bwmarrin/discordgo"
)

var resultColors = map[string]int{
	"win":  0x2ecc71,
	"lose": 0xe74c3c,
	"tie":  0x95a5a6,
}

var resultTitles = map[string]string{
	"win":  "🏆 Victoria",
	"lose": "💀 Derrota",
	"tie":  "🤝 Empate",
}

// RegisterResults posts war and raid weekend summaries. Summaries are built
// on the worker pool so large rosters do not hold a dispatch slot.
func RegisterResults(registry *core.Registry, deps Deps) int {
	added := 0
	if registry.Register(core.KindWar, core.WarEnded, core.Handler{Name: WarResultsHandler, Fn: warResultsHandler(deps)}) {
		added++
	}
	if registry.Register(core.KindRaid, core.RaidEnded, core.Handler{Name: RaidResultsHandler, Fn: raidResultsHandler(deps)}) {
		added++
	}
	return added
}

func warResultsHandler(deps Deps) core.HandlerFunc {
	return func(ctx context.Context, ev core.Event) error {
		change, ok := ev.Payload.(core.WarChange)
		if !ok || change.After == nil {
			return fmt.Errorf("payload inesperado para %s: %T", ev.Transition, ev.Payload)
		}
		var embed *discordgo.MessageEmbed
		if err := deps.Pool.Submit(ctx, func(ctx context.Context) error {
			embed = WarSummary(change.After, change.League, ev.Time)
			return nil
		}); err != nil {
			return err
		}
		return post(deps, ev.Tag, embed, func(l *models.ClanLink) string { return l.WarChannelID })
	}
}

func raidResultsHandler(deps Deps) core.HandlerFunc {
	return func(ctx context.Context, ev core.Event) error {
		change, ok := ev.Payload.(core.RaidChange)
		if !ok || change.After == nil {
			return fmt.Errorf("payload inesperado para %s: %T", ev.Transition, ev.Payload)
		}
		var embed *discordgo.MessageEmbed
		if err := deps.Pool.Submit(ctx, func(ctx context.Context) error {
			embed = RaidSummary(ev.Tag, change.After, ev.Time)
			return nil
		}); err != nil {
			return err
		}
		return post(deps, ev.Tag, embed, func(l *models.ClanLink) string { return l.RaidChannelID })
	}
}

func post(deps Deps, clanTag string, embed *discordgo.MessageEmbed, channel func(*models.ClanLink) string) error {
	var errs []error
	for _, link := range deps.Links.ForClan(clanTag) {
		id := channel(link)
		if id == "" {
			continue
		}
		if err := deps.Sender.SendEmbed(id, embed); err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", link.GuildID, err))
		}
	}
	return errors.Join(errs...)
}

// WarSummary renders the result of a finished war from the clan side
func WarSummary(war *models.War, league bool, at time.Time) *discordgo.MessageEmbed {
	result := war.Result()
	title := fmt.Sprintf("%s contra %s", resultTitles[result], war.Opponent.Name)
	if league {
		title += " (Liga de guerra)"
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   war.Clan.Name,
			Value:  fmt.Sprintf("⭐ %d · %.2f%% · ⚔️ %d", war.Clan.Stars, war.Clan.DestructionPercentage, war.Clan.Attacks),
			Inline: true,
		},
		{
			Name:   war.Opponent.Name,
			Value:  fmt.Sprintf("⭐ %d · %.2f%% · ⚔️ %d", war.Opponent.Stars, war.Opponent.DestructionPercentage, war.Opponent.Attacks),
			Inline: true,
		},
	}
	if mvp := warMVP(war); mvp != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "MVP", Value: mvp})
	}
	if missed := missedAttacks(war); len(missed) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Ataques sin usar (%d)", len(missed)),
			Value: truncateList(missed, 1000),
		})
	}

	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     resultColors[result],
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%dv%d · %s", war.TeamSize, war.TeamSize, war.Clan.Tag)},
		Timestamp: at.Format(time.RFC3339),
	}
}

// warMVP names the member with the most stars, breaking ties on destruction
func warMVP(war *models.War) string {
	var (
		best        *models.WarMember
		bestStars   int
		bestPercent float64
	)
	for i := range war.Clan.Members {
		m := &war.Clan.Members[i]
		if len(m.Attacks) == 0 {
			continue
		}
		stars, percent := 0, 0.0
		for _, a := range m.Attacks {
			stars += a.Stars
			percent += a.DestructionPercentage
		}
		if best == nil || stars > bestStars || (stars == bestStars && percent > bestPercent) {
			best, bestStars, bestPercent = m, stars, percent
		}
	}
	if best == nil {
		return ""
	}
	return fmt.Sprintf("**%s** · ⭐ %d en %d ataques", best.Name, bestStars, len(best.Attacks))
}

// missedAttacks lists members who did not use every attack, by map position
func missedAttacks(war *models.War) []string {
	perMember := war.AttacksPerMember
	if perMember == 0 {
		perMember = 2
	}
	members := append([]models.WarMember(nil), war.Clan.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i].MapPosition < members[j].MapPosition })

	var out []string
	for _, m := range members {
		if left := perMember - len(m.Attacks); left > 0 {
			out = append(out, fmt.Sprintf("%d. %s (%d)", m.MapPosition, m.Name, left))
		}
	}
	return out
}

// RaidSummary renders a finished raid weekend
func RaidSummary(clanTag string, raid *models.RaidSeason, at time.Time) *discordgo.MessageEmbed {
	members := append([]models.RaidMember(nil), raid.Members...)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].CapitalResourcesLooted > members[j].CapitalResourcesLooted
	})

	var top []string
	for i, m := range members {
		if i == 5 {
			break
		}
		top = append(top, fmt.Sprintf("%d. %s · %d 💰 (%d/%d)", i+1, m.Name, m.CapitalResourcesLooted, m.Attacks, m.AttackLimit+m.BonusAttackLimit))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Botín", Value: fmt.Sprintf("%d", raid.CapitalTotalLoot), Inline: true},
		{Name: "Ataques", Value: fmt.Sprintf("%d", raid.TotalAttacks), Inline: true},
		{Name: "Distritos", Value: fmt.Sprintf("%d", raid.EnemyDistrictsDestroyed), Inline: true},
		{Name: "Medallas", Value: fmt.Sprintf("%d", raid.OffensiveReward*6+raid.DefensiveReward), Inline: true},
	}
	if len(top) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Mejores saqueadores", Value: strings.Join(top, "\n")})
	}

	return &discordgo.MessageEmbed{
		Title:     "🏰 Fin de semana de asalto terminado",
		Color:     0x9b59b6,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: clanTag},
		Timestamp: at.Format(time.RFC3339),
	}
}

func truncateList(lines []string, limit int) string {
	var b strings.Builder
	for i, line := range lines {
		if b.Len()+len(line)+1 > limit {
			fmt.Fprintf(&b, "… y %d más", len(lines)-i)
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}
