package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

// memCollection matches documents on top-level equality only
type memCollection struct {
	name    string
	docs    []bson.M
	err     error
	deletes []bson.M
}

func (c *memCollection) Name() string { return c.name }

func (c *memCollection) matches(doc, query bson.M) bool {
	for k, want := range query {
		got, ok := doc[k]
		if cond, isOp := want.(bson.M); isOp {
			if _, nin := cond["$nin"]; nin {
				if !ok || got == nil || got == "" {
					return false
				}
				continue
			}
		}
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (c *memCollection) Distinct(ctx context.Context, field string, query bson.M) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	seen := make(map[string]bool)
	var out []string
	for _, doc := range c.docs {
		if !c.matches(doc, query) {
			continue
		}
		v, _ := doc[field].(string)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

func (c *memCollection) DeleteMany(ctx context.Context, query bson.M) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.deletes = append(c.deletes, query)
	kept := c.docs[:0]
	var n int64
	for _, doc := range c.docs {
		if c.matches(doc, query) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return n, nil
}

func newMemStore() *TagStore {
	return &TagStore{
		Clans: &memCollection{name: ClansCollection, docs: []bson.M{
			{"guildId": "g1", "tag": "#2PP", "raidChannel": "c1"},
			{"guildId": "g2", "tag": "#8QU8J9LP", "raidChannel": ""},
			{"guildId": "g2", "tag": "bad!"},
		}},
		PlayerLinks: &memCollection{name: PlayerLinksCollection, docs: []bson.M{
			{"userId": "u1", "tag": "#9C0UGJ"},
			{"userId": "u2", "tag": "lq2g"},
		}},
		Reminders: &memCollection{name: RemindersCollection, docs: []bson.M{
			{"guildId": "g3", "clanTag": "#YL0V", "type": string(models.ReminderRaid)},
			{"guildId": "g1", "clanTag": "#2PP", "type": string(models.ReminderWar)},
		}},
		LeagueClans: &memCollection{name: LeagueClansCollection, docs: []bson.M{
			{"guildId": "g4", "clanTag": "#RGJ"},
		}},
		Guilds: &memCollection{name: GuildsCollection, docs: []bson.M{
			{"guildId": "g1"},
			{"guildId": "g5"},
		}},
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestListTagsFor(t *testing.T) {
	tests := []struct {
		kind events.Kind
		want []string
	}{
		{events.KindClan, []string{"#2PP", "#8QU8J9LP", "#RGJ", "#YL0V"}},
		{events.KindWar, []string{"#2PP", "#8QU8J9LP", "#RGJ"}},
		{events.KindRaid, []string{"#2PP", "#YL0V"}},
		{events.KindPlayer, []string{"#9C0UGJ", "#LQ2G"}},
		{events.KindGuild, []string{"g1", "g2", "g5"}},
	}

	s := newMemStore()
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			set, err := s.ListTagsFor(context.Background(), tt.kind)
			if err != nil {
				t.Fatalf("ListTagsFor() error = %v", err)
			}
			got := sortedKeys(set)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ListTagsFor(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestListTagsForError(t *testing.T) {
	s := newMemStore()
	s.Reminders.(*memCollection).err = errors.New("no reachable servers")
	if _, err := s.ListTagsFor(context.Background(), events.KindClan); err == nil {
		t.Error("ListTagsFor() error = nil, want the collection error")
	}
}

func TestPurgeClan(t *testing.T) {
	s := newMemStore()
	if err := s.Purge(context.Background(), events.KindClan, "#2PP"); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	set, _ := s.ListTagsFor(context.Background(), events.KindClan)
	if _, ok := set["#2PP"]; ok {
		t.Error("#2PP still listed after Purge")
	}
	if got := len(s.Reminders.(*memCollection).docs); got != 1 {
		t.Errorf("reminders left = %d, want 1", got)
	}
}

func TestPurgeGuild(t *testing.T) {
	s := newMemStore()
	if err := s.Purge(context.Background(), events.KindGuild, "g1"); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	for _, col := range []Collection{s.Clans, s.Reminders, s.Guilds} {
		for _, doc := range col.(*memCollection).docs {
			if doc["guildId"] == "g1" {
				t.Errorf("%s still holds a g1 document", col.Name())
			}
		}
	}
}

func TestPurgeUnknownKind(t *testing.T) {
	if err := newMemStore().Purge(context.Background(), events.Kind("league"), "#2PP"); err == nil {
		t.Error("Purge() of an unknown kind = nil, want error")
	}
}

type staticLinks []*models.ClanLink

func (s staticLinks) Find(ctx context.Context, query bson.M) ([]*models.ClanLink, error) {
	return s, nil
}

func TestClanLinkCache(t *testing.T) {
	c := NewClanLinkCache(staticLinks{
		{GuildID: "g1", Tag: "#2pp", FeedChannelID: "f1"},
		{GuildID: "g2", Tag: "2PP", FeedChannelID: "f2"},
		{GuildID: "g2", Tag: "#RGJ"},
	})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := len(c.ForClan("#2PP")); got != 2 {
		t.Errorf("ForClan(#2PP) = %d links, want 2", got)
	}

	c.Put(&models.ClanLink{GuildID: "g1", Tag: "#2PP", FeedChannelID: "f3"})
	links := c.ForClan("#2PP")
	if len(links) != 2 || links[0].FeedChannelID != "f3" {
		t.Errorf("Put() did not replace the g1 link: %+v", links[0])
	}

	c.RemoveGuild("g2")
	if c.Size() != 1 {
		t.Errorf("Size() after RemoveGuild = %d, want 1", c.Size())
	}
	c.RemoveClan("#2PP")
	if c.Size() != 0 {
		t.Errorf("Size() after RemoveClan = %d, want 0", c.Size())
	}
}
