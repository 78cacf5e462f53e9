package database

import (
	"context"
	"fmt"

	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

// Collection is the slice of a DataManager the tag store needs
type Collection interface {
	Name() string
	Distinct(ctx context.Context, field string, query bson.M) ([]string, error)
	DeleteMany(ctx context.Context, query bson.M) (int64, error)
}

// TagStore derives the tag set of each polling loop from the stored links
// and removes links to entities that no longer exist.
type TagStore struct {
	Clans       Collection
	PlayerLinks Collection
	Reminders   Collection
	LeagueClans Collection
	Guilds      Collection
}

// NewTagStore builds a TagStore over the global data managers
func NewTagStore() *TagStore {
	return &TagStore{
		Clans:       GlobalClanDM,
		PlayerLinks: GlobalPlayerLinkDM,
		Reminders:   GlobalReminderDM,
		LeagueClans: GlobalLeagueClanDM,
		Guilds:      GlobalGuildDM,
	}
}

type tagQuery struct {
	col   Collection
	field string
	query bson.M
}

func (s *TagStore) queries(kind events.Kind) []tagQuery {
	switch kind {
	case events.KindClan:
		return []tagQuery{
			{s.Clans, "tag", nil},
			{s.Reminders, "clanTag", nil},
			{s.LeagueClans, "clanTag", nil},
		}
	case events.KindWar:
		return []tagQuery{
			{s.Clans, "tag", nil},
			{s.Reminders, "clanTag", bson.M{"type": models.ReminderWar}},
			{s.LeagueClans, "clanTag", nil},
		}
	case events.KindRaid:
		return []tagQuery{
			{s.Clans, "tag", bson.M{"raidChannel": bson.M{"$nin": bson.A{nil, ""}}}},
			{s.Reminders, "clanTag", bson.M{"type": models.ReminderRaid}},
		}
	case events.KindPlayer:
		return []tagQuery{
			{s.PlayerLinks, "tag", nil},
		}
	case events.KindGuild:
		return []tagQuery{
			{s.Guilds, "guildId", nil},
			{s.Clans, "guildId", nil},
		}
	}
	return nil
}

// ListTagsFor returns the union of every stored reference to kind. Game tags
// are normalized and malformed ones are skipped.
func (s *TagStore) ListTagsFor(ctx context.Context, kind events.Kind) (map[string]struct{}, error) {
	queries := s.queries(kind)
	if len(queries) == 0 {
		return nil, fmt.Errorf("no hay colecciones para %s", kind)
	}

	set := make(map[string]struct{})
	skipped := 0
	for _, q := range queries {
		values, err := q.col.Distinct(ctx, q.field, q.query)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", q.col.Name(), q.field, err)
		}
		for _, v := range values {
			if kind == events.KindGuild {
				set[v] = struct{}{}
				continue
			}
			tag, err := coc.ValidateTag(v)
			if err != nil {
				skipped++
				continue
			}
			set[tag] = struct{}{}
		}
	}
	if skipped > 0 {
		logger.Debug(fmt.Sprintf("%d tags malformados ignorados para %s", skipped, kind), "TagStore")
	}
	return set, nil
}

// Purge deletes every link to tag. Clan-side kinds drop the clan's links,
// reminders and league sign-ups; guilds drop everything configured in them.
func (s *TagStore) Purge(ctx context.Context, kind events.Kind, tag string) error {
	var deletes []tagQuery
	switch kind {
	case events.KindClan, events.KindWar, events.KindRaid:
		deletes = []tagQuery{
			{col: s.Clans, query: bson.M{"tag": tag}},
			{col: s.Reminders, query: bson.M{"clanTag": tag}},
			{col: s.LeagueClans, query: bson.M{"clanTag": tag}},
		}
	case events.KindPlayer:
		deletes = []tagQuery{
			{col: s.PlayerLinks, query: bson.M{"tag": tag}},
		}
	case events.KindGuild:
		deletes = []tagQuery{
			{col: s.Clans, query: bson.M{"guildId": tag}},
			{col: s.Reminders, query: bson.M{"guildId": tag}},
			{col: s.LeagueClans, query: bson.M{"guildId": tag}},
			{col: s.Guilds, query: bson.M{"guildId": tag}},
		}
	default:
		return fmt.Errorf("no se puede purgar %s", kind)
	}

	var total int64
	for _, d := range deletes {
		n, err := d.col.DeleteMany(ctx, d.query)
		if err != nil {
			return fmt.Errorf("%s: %w", d.col.Name(), err)
		}
		total += n
	}
	logger.Info(fmt.Sprintf("Eliminados %d documentos vinculados a %s (%s)", total, tag, kind), "TagStore")
	return nil
}
