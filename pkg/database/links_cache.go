package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

// ClanLinkFinder loads clan links
type ClanLinkFinder interface {
	Find(ctx context.Context, query bson.M) ([]*models.ClanLink, error)
}

// ClanLinkCache keeps every clan link in memory, indexed by clan tag, so
// event handlers can resolve their channels without a query per event.
type ClanLinkCache struct {
	finder      ClanLinkFinder
	byTag       map[string][]*models.ClanLink
	mu          sync.RWMutex
	stopRefresh chan struct{}
	refreshing  bool
}

// NewClanLinkCache creates an empty cache over finder
func NewClanLinkCache(finder ClanLinkFinder) *ClanLinkCache {
	return &ClanLinkCache{
		finder:      finder,
		byTag:       make(map[string][]*models.ClanLink),
		stopRefresh: make(chan struct{}),
	}
}

// Refresh reloads every link from the database
func (c *ClanLinkCache) Refresh(ctx context.Context) error {
	if c.finder == nil {
		logger.Warn("ClanLinkCache: DataManager no inicializado", "ClanLinkCache")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	links, err := c.finder.Find(ctx, bson.M{})
	if err != nil {
		logger.Error("ClanLinkCache: Error cargando vínculos: "+err.Error(), "ClanLinkCache")
		return err
	}

	byTag := make(map[string][]*models.ClanLink)
	for _, link := range links {
		tag := coc.NormalizeTag(link.Tag)
		byTag[tag] = append(byTag[tag], link)
	}

	c.mu.Lock()
	c.byTag = byTag
	c.mu.Unlock()

	logger.Debug(fmt.Sprintf("ClanLinkCache: %d vínculos para %d clanes", len(links), len(byTag)), "ClanLinkCache")
	return nil
}

// StartAutoRefresh reloads the cache every interval, replacing any running refresher
func (c *ClanLinkCache) StartAutoRefresh(interval time.Duration) {
	c.mu.Lock()
	if c.refreshing {
		close(c.stopRefresh)
	}
	c.refreshing = true
	c.stopRefresh = make(chan struct{})
	stopChan := c.stopRefresh
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("ClanLinkCache: Auto-refresco iniciado (intervalo: "+interval.String()+")", "ClanLinkCache")

		for {
			select {
			case <-ticker.C:
				if err := c.Refresh(context.Background()); err != nil {
					logger.Error("ClanLinkCache: Auto-refresco fallido: "+err.Error(), "ClanLinkCache")
				}
			case <-stopChan:
				logger.Info("ClanLinkCache: Auto-refresco detenido", "ClanLinkCache")
				return
			}
		}
	}()
}

// StopAutoRefresh stops the automatic refresh
func (c *ClanLinkCache) StopAutoRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshing {
		close(c.stopRefresh)
		c.refreshing = false
	}
}

// ForClan returns the links of the clan tag
func (c *ClanLinkCache) ForClan(tag string) []*models.ClanLink {
	c.mu.RLock()
	defer c.mu.RUnlock()

	links := c.byTag[coc.NormalizeTag(tag)]
	out := make([]*models.ClanLink, len(links))
	copy(out, links)
	return out
}

// Put adds or replaces the link of a clan in a guild
func (c *ClanLinkCache) Put(link *models.ClanLink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := coc.NormalizeTag(link.Tag)
	links := c.byTag[tag]
	for i, existing := range links {
		if existing.GuildID == link.GuildID {
			links[i] = link
			return
		}
	}
	c.byTag[tag] = append(links, link)
}

// RemoveClan drops every link of the clan tag
func (c *ClanLinkCache) RemoveClan(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byTag, coc.NormalizeTag(tag))
}

// RemoveGuild drops every link configured in guildID
func (c *ClanLinkCache) RemoveGuild(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for tag, links := range c.byTag {
		kept := links[:0]
		for _, link := range links {
			if link.GuildID != guildID {
				kept = append(kept, link)
			}
		}
		if len(kept) == 0 {
			delete(c.byTag, tag)
			continue
		}
		c.byTag[tag] = kept
	}
}

// Size returns the number of linked clans
func (c *ClanLinkCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byTag)
}
