// Package discord provides the Discord runtime: gateway session, readiness,
// notification embeds and the slash-command surface.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/pkg/logger"
)

// Options configures a Bot.
type Options struct {
	Token        string
	GuildID      string // register commands on one guild instead of globally
	SyncCommands bool
	// GuildReadyTimeout bounds the wait for the GUILD_CREATE events that
	// follow READY. Zero means DefaultGuildReadyTimeout.
	GuildReadyTimeout time.Duration
}

// DefaultGuildReadyTimeout is used when Options.GuildReadyTimeout is unset.
const DefaultGuildReadyTimeout = 5 * time.Second

// Bot represents the Discord bot.
type Bot struct {
	session  *discordgo.Session
	handlers *Handlers
	opts     Options

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	commands []*discordgo.ApplicationCommand
	pending  map[string]struct{}
	booting  bool
}

// NewBot creates a new Discord bot instance. The session is opened by Start.
func NewBot(opts Options, handlers *Handlers) (*Bot, error) {
	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	session.StateEnabled = true

	b := newBot(session, opts, handlers)
	session.AddHandler(b.onReady)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onGuildDelete)
	session.AddHandler(handlers.HandleInteraction)

	return b, nil
}

func newBot(session *discordgo.Session, opts Options, handlers *Handlers) *Bot {
	if opts.GuildReadyTimeout <= 0 {
		opts.GuildReadyTimeout = DefaultGuildReadyTimeout
	}
	return &Bot{
		session:  session,
		handlers: handlers,
		opts:     opts,
		ready:    make(chan struct{}),
		pending:  make(map[string]struct{}),
		booting:  true,
	}
}

// Start opens the gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	logger.Info().Msg("Discord session opened")
	return nil
}

// Stop removes guild-scoped commands and closes the session.
func (b *Bot) Stop() {
	logger.Info().Msg("Stopping Discord bot")

	b.mu.Lock()
	registered := b.commands
	b.mu.Unlock()

	if b.opts.GuildID != "" && b.session.State.User != nil {
		for _, cmd := range registered {
			if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.opts.GuildID, cmd.ID); err != nil {
				logger.Warn().Err(err).Str("command", cmd.Name).Msg("Failed to delete command")
			}
		}
	}

	if err := b.session.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close Discord session")
	}
}

// Ready is closed once every guild listed in the first READY event has
// arrived through GUILD_CREATE, or the guild ready timeout has passed.
func (b *Bot) Ready() <-chan struct{} {
	return b.ready
}

// State exposes the session's guild, channel and role cache.
func (b *Bot) State() *discordgo.State {
	return b.session.State
}

// SendEmbed posts an embed to a channel. Only the roles listed in
// mentionRoles are allowed to ping.
func (b *Bot) SendEmbed(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed, mentionRoles []string) error {
	msg := &discordgo.MessageSend{
		Content: content,
		Embeds:  []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Roles: mentionRoles,
		},
	}
	_, err := b.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return err
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	logger.Info().
		Str("username", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("Discord bot ready")

	b.mu.Lock()
	if !b.booting {
		b.mu.Unlock()
		return
	}
	b.booting = false
	for _, g := range r.Guilds {
		// GUILD_CREATE handlers run concurrently and may already have landed
		if known, err := s.State.Guild(g.ID); err == nil && !known.Unavailable {
			continue
		}
		b.pending[g.ID] = struct{}{}
	}
	waiting := len(b.pending)
	b.mu.Unlock()

	if b.opts.SyncCommands {
		b.registerCommands(s, r.User.ID)
	}

	if waiting == 0 {
		b.markReady(false)
		return
	}
	logger.Debug().Int("pending", waiting).Msg("Waiting for guild data")
	time.AfterFunc(b.opts.GuildReadyTimeout, func() { b.markReady(true) })
}

func (b *Bot) guildAvailable(guildID string) {
	b.mu.Lock()
	_, ok := b.pending[guildID]
	delete(b.pending, guildID)
	done := ok && !b.booting && len(b.pending) == 0
	b.mu.Unlock()

	if done {
		b.markReady(false)
	}
}

func (b *Bot) markReady(timedOut bool) {
	b.readyOnce.Do(func() {
		b.mu.Lock()
		missing := len(b.pending)
		b.pending = map[string]struct{}{}
		b.mu.Unlock()

		if timedOut && missing > 0 {
			logger.Warn().Int("missing", missing).Msg("Guild data incomplete, starting anyway")
		}
		close(b.ready)
	})
}

func (b *Bot) registerCommands(s *discordgo.Session, appID string) {
	cmds, err := s.ApplicationCommandBulkOverwrite(appID, b.opts.GuildID, Commands())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register slash commands")
		return
	}

	b.mu.Lock()
	b.commands = cmds
	b.mu.Unlock()

	logger.Info().
		Int("count", len(cmds)).
		Str("guild_id", b.opts.GuildID).
		Msg("Slash commands registered")
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	b.guildAvailable(g.ID)
	if err := b.handlers.store.EnsureGuild(context.Background(), g.ID, g.Name); err != nil {
		logger.Error().Err(err).Str("guild_id", g.ID).Msg("Failed to track guild")
	}
}

// onGuildDelete purges a guild the bot was removed from. An outage only
// marks the guild unavailable and keeps its data.
func (b *Bot) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	err := b.handlers.store.DeleteGuild(context.Background(), g.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("guild_id", g.ID).Msg("Failed to purge guild")
		return
	}
	logger.Info().Str("guild_id", g.ID).Msg("Guild data purged")
}
