// Package discord provides the Discord bot client and related structures.
// It wraps discordgo with the REST calls the polling core and its handlers use.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"github.com/bwmarrin/discordgo"
)

func init() {
	discordgo.Logger = func(msgL int, caller int, format string, a ...interface{}) {
		logger.Debug(fmt.Sprintf(format, a...), "DiscordGo")
	}
}

// ExtendedClient wraps discordgo.Session with additional functionality
type ExtendedClient struct {
	Session      *discordgo.Session
	EventHandler *EventHandler
	StartTime    time.Time
	ownerID      string
	mu           sync.RWMutex
	isReady      bool
}

var (
	client *ExtendedClient
	once   sync.Once
)

// Init initializes the global Discord client
func Init(token, ownerID string) (*ExtendedClient, error) {
	var err error
	once.Do(func() {
		client, err = NewClient(token, ownerID)
	})
	return client, err
}

// Get returns the global Discord client
func Get() *ExtendedClient {
	return client
}

// NewClient creates a new ExtendedClient
func NewClient(token, ownerID string) (*ExtendedClient, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers

	session.ShardCount = 1
	session.SyncEvents = false
	session.StateEnabled = true
	session.LogLevel = discordgo.LogWarning

	c := &ExtendedClient{
		Session: session,
		ownerID: ownerID,
	}
	c.EventHandler = NewEventHandler(c)
	return c, nil
}

// Start opens the gateway connection
func (c *ExtendedClient) Start() error {
	c.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		c.mu.Lock()
		c.isReady = true
		c.mu.Unlock()

		logger.Success("Bot conectado como: "+r.User.Username, "Client")
	})

	c.StartTime = time.Now()
	return c.Session.Open()
}

// Stop stops the bot and closes the session
func (c *ExtendedClient) Stop() error {
	c.mu.Lock()
	c.isReady = false
	c.mu.Unlock()

	if c.Session != nil {
		return c.Session.Close()
	}
	return nil
}

// IsReady returns true if the bot is ready
func (c *ExtendedClient) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isReady
}

// GuildCount returns the number of guilds the bot is in
func (c *ExtendedClient) GuildCount() int {
	if c.Session == nil || c.Session.State == nil {
		return 0
	}
	c.Session.State.RLock()
	defer c.Session.State.RUnlock()
	return len(c.Session.State.Guilds)
}

// FetchGuild loads the current state of a guild over REST. An unknown guild
// or a guild the bot left maps to coc.ErrNotFound and server errors to
// coc.ErrTransient so the guild loop applies the usual taxonomy.
func (c *ExtendedClient) FetchGuild(ctx context.Context, guildID string) (*models.GuildSnapshot, error) {
	g, err := c.Session.GuildWithCounts(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyRESTError(err)
	}
	return snapshotFromGuild(g), nil
}

// NotifyOwner sends a direct message to the configured owner. It has the
// shape of an errors.Notifier.
func (c *ExtendedClient) NotifyOwner(title, message string) error {
	if c.ownerID == "" {
		return errors.New("ownerId no configurado")
	}
	ch, err := c.Session.UserChannelCreate(c.ownerID)
	if err != nil {
		return fmt.Errorf("no se pudo abrir el DM del owner: %w", err)
	}
	return c.SendEmbed(ch.ID, &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(message, 4000),
		Color:       0xff0000,
		Timestamp:   time.Now().Format(time.RFC3339),
	})
}

// SendEmbed posts embed in channelID
func (c *ExtendedClient) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := c.Session.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// classifyRESTError maps a discordgo REST error onto the game API sentinels
func classifyRESTError(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		return fmt.Errorf("%w: %v", coc.ErrTransient, err)
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %v", coc.ErrNotFound, err)
		}
	}
	switch status := rest.Response.StatusCode; {
	case status == http.StatusNotFound, status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", coc.ErrNotFound, err)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: %v", coc.ErrTransient, err)
	}
	return err
}

func snapshotFromGuild(g *discordgo.Guild) *models.GuildSnapshot {
	members := g.MemberCount
	if g.ApproximateMemberCount > 0 {
		members = g.ApproximateMemberCount
	}
	return &models.GuildSnapshot{
		ID:          g.ID,
		Name:        g.Name,
		Icon:        g.Icon,
		OwnerID:     g.OwnerID,
		MemberCount: members,
		PremiumTier: int(g.PremiumTier),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
