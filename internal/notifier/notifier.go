// Package notifier delivers update notifications to Discord guilds.
package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/user/filmbot/internal/discord"
	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/updater"
	"github.com/user/filmbot/pkg/logger"
)

var (
	// ErrGuildUnavailable means the bot cannot currently see the guild.
	ErrGuildUnavailable = errors.New("guild unavailable")
	// ErrNoChannel means neither the configured nor the system channel resolved.
	ErrNoChannel = errors.New("no notification channel")
)

// DispatchError describes a notification that could not be delivered.
type DispatchError struct {
	GuildID string
	Reason  string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to guild %s: %s: %v", e.GuildID, e.Reason, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Guilds resolves guilds, channels and roles. *discordgo.State satisfies it.
type Guilds interface {
	Guild(guildID string) (*discordgo.Guild, error)
	Channel(channelID string) (*discordgo.Channel, error)
	Role(guildID, roleID string) (*discordgo.Role, error)
}

// Sender posts embeds. *discord.Bot satisfies it.
type Sender interface {
	SendEmbed(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed, mentionRoles []string) error
}

// Notifier sends update notifications to guild channels.
type Notifier struct {
	guilds     Guilds
	sender     Sender
	msgBuilder *discord.MessageBuilder
	pingRole   bool
}

// NewNotifier creates a new notifier instance. pingRole enables mentioning
// a guild's configured notification role.
func NewNotifier(guilds Guilds, sender Sender, msgBuilder *discord.MessageBuilder, pingRole bool) *Notifier {
	return &Notifier{
		guilds:     guilds,
		sender:     sender,
		msgBuilder: msgBuilder,
		pingRole:   pingRole,
	}
}

// Reachable reports whether the runtime holds the guild's full data. The
// stubs delivered with READY stay unavailable until their GUILD_CREATE.
func (n *Notifier) Reachable(guildID string) bool {
	_, err := n.guild(guildID)
	return err == nil
}

func (n *Notifier) guild(guildID string) (*discordgo.Guild, error) {
	g, err := n.guilds.Guild(guildID)
	if err != nil {
		return nil, err
	}
	if g.Unavailable {
		return nil, ErrGuildUnavailable
	}
	return g, nil
}

// Dispatch delivers out to the guild's notification channel. Failures are
// returned as *DispatchError and never retried.
func (n *Notifier) Dispatch(ctx context.Context, guild storage.Guild, sub storage.Subscription, out updater.Outcome) error {
	g, err := n.guild(guild.ID)
	if err != nil {
		return &DispatchError{GuildID: guild.ID, Reason: "resolve guild", Err: ErrGuildUnavailable}
	}

	channelID, ok := n.resolveChannel(g, guild)
	if !ok {
		return &DispatchError{GuildID: guild.ID, Reason: "resolve channel", Err: ErrNoChannel}
	}

	embed := n.msgBuilder.BuildNotification(sub, out)
	if embed == nil {
		return &DispatchError{GuildID: guild.ID, Reason: "build message", Err: fmt.Errorf("unknown outcome kind %q", out.Kind)}
	}

	content, roles := n.mention(guild)
	if err := n.sender.SendEmbed(ctx, channelID, content, embed, roles); err != nil {
		return &DispatchError{GuildID: guild.ID, Reason: "send", Err: err}
	}

	logger.Info().
		Str("guild_id", guild.ID).
		Str("channel_id", channelID).
		Int("tmdb_id", sub.TMDBID).
		Str("kind", string(out.Kind)).
		Msg("Sent notification")
	return nil
}

// resolveChannel prefers the configured channel when it still exists in the
// guild, then the guild's system channel.
func (n *Notifier) resolveChannel(g *discordgo.Guild, settings storage.Guild) (string, bool) {
	if id := settings.NotificationChannelID; id != "" {
		if ch, err := n.guilds.Channel(id); err == nil && ch.GuildID == g.ID {
			return ch.ID, true
		}
		logger.Debug().Str("guild_id", g.ID).Str("channel_id", id).Msg("Configured channel not found, using system channel")
	}
	if g.SystemChannelID != "" {
		return g.SystemChannelID, true
	}
	return "", false
}

// mention returns the message content and allowed role mentions.
func (n *Notifier) mention(settings storage.Guild) (string, []string) {
	roleID := settings.NotificationRoleID
	if roleID == "" || !n.pingRole {
		return "", []string{}
	}
	if _, err := n.guilds.Role(settings.ID, roleID); err != nil {
		return "", []string{}
	}
	return "<@&" + roleID + ">", []string{roleID}
}

var _ updater.Notifier = (*Notifier)(nil)
