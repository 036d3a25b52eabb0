package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/tmdb"
	"github.com/user/filmbot/pkg/logger"
)

// CommandStore is the persistence used by the slash commands.
type CommandStore interface {
	EnsureGuild(ctx context.Context, guildID, name string) error
	GetGuild(ctx context.Context, guildID string) (*storage.Guild, error)
	SetAutoUpdate(ctx context.Context, guildID string, enabled bool) error
	SetNotificationChannel(ctx context.Context, guildID, channelID string) error
	SetNotificationRole(ctx context.Context, guildID, roleID string) error
	DeleteGuild(ctx context.Context, guildID string) error
	Subscribe(ctx context.Context, sub storage.Subscription) (*storage.Subscription, error)
	Unsubscribe(ctx context.Context, guildID string, tmdbID int, mediaType storage.MediaType) error
	FindByTitle(ctx context.Context, guildID, query string) ([]storage.Subscription, error)
	ListSubscriptions(ctx context.Context, guildID string) ([]storage.Subscription, error)
}

// Searcher looks up TMDB titles.
type Searcher interface {
	SearchMulti(ctx context.Context, query string) (*tmdb.SearchResponse, error)
}

const commandTimeout = 15 * time.Second

// Commands returns the slash commands the bot registers.
func Commands() []*discordgo.ApplicationCommand {
	manageServer := int64(discordgo.PermissionManageServer)
	noDM := false

	return []*discordgo.ApplicationCommand{
		{
			Name:         "subscribe",
			Description:  "Get notified about a movie or TV show",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Title to search for",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Restrict the search to movies or TV shows",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Movie", Value: string(storage.MediaMovie)},
						{Name: "TV Show", Value: string(storage.MediaTV)},
					},
				},
			},
		},
		{
			Name:         "unsubscribe",
			Description:  "Stop notifications for a title",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Title of the subscription",
					Required:    true,
				},
			},
		},
		{
			Name:         "subscriptions",
			Description:  "List this server's subscriptions",
			DMPermission: &noDM,
		},
		{
			Name:                     "config",
			Description:              "Show or change auto-update settings",
			DMPermission:             &noDM,
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "auto_update",
					Description: "Enable or disable automatic update notifications",
				},
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Channel for notifications",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to mention with notifications",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "clear_role",
					Description: "Stop mentioning a role",
				},
			},
		},
	}
}

// Handlers manages slash-command handling for the bot.
type Handlers struct {
	store    CommandStore
	search   Searcher
	messages *MessageBuilder
}

// NewHandlers creates a new handlers instance.
func NewHandlers(store CommandStore, search Searcher, messages *MessageBuilder) *Handlers {
	return &Handlers{
		store:    store,
		search:   search,
		messages: messages,
	}
}

// HandleInteraction routes application commands to their handlers.
func (h *Handlers) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	logger.Debug().
		Str("command", data.Name).
		Str("guild_id", i.GuildID).
		Msg("Received command")

	if i.GuildID == "" {
		h.respond(s, i, h.messages.BuildError("Commands can only be used in a server."))
		return
	}

	// Searches can outlast the three second acknowledgement window.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		logger.Error().Err(err).Str("command", data.Name).Msg("Failed to acknowledge command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	name := i.GuildID
	if g, err := s.State.Guild(i.GuildID); err == nil {
		name = g.Name
	}
	if err := h.store.EnsureGuild(ctx, i.GuildID, name); err != nil {
		logger.Error().Err(err).Str("guild_id", i.GuildID).Msg("Failed to track guild")
	}

	opts := optionMap(data.Options)

	var embed *discordgo.MessageEmbed
	switch data.Name {
	case "subscribe":
		embed = h.subscribe(ctx, i.GuildID, stringOption(opts, "query"), stringOption(opts, "type"))
	case "unsubscribe":
		embed = h.unsubscribe(ctx, i.GuildID, stringOption(opts, "query"))
	case "subscriptions":
		embed = h.listSubscriptions(ctx, i.GuildID)
	case "config":
		embed = h.configure(ctx, i.GuildID, configFromOptions(opts))
	default:
		embed = h.messages.BuildError("Unknown command.")
	}

	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		logger.Error().Err(err).Str("command", data.Name).Msg("Failed to send command response")
	}
}

func (h *Handlers) respond(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to send reply")
	}
}

func (h *Handlers) subscribe(ctx context.Context, guildID, query, mediaType string) *discordgo.MessageEmbed {
	query = strings.TrimSpace(query)
	if query == "" {
		return h.messages.BuildError("Please provide a title to search for.")
	}

	resp, err := h.search.SearchMulti(ctx, query)
	if err != nil {
		logger.Error().Err(err).Str("query", query).Msg("Failed to search TMDB")
		return h.messages.BuildError("Search failed, please try again later.")
	}

	result, ok := pickResult(resp.Results, storage.MediaType(mediaType))
	if !ok {
		return h.messages.BuildError(fmt.Sprintf("No results found for **%s**.", query))
	}

	sub := storage.NewSubscription(guildID, result.ID, storage.MediaType(result.MediaType), result.DisplayTitle(), result.PosterPath)
	stored, err := h.store.Subscribe(ctx, sub)
	if errors.Is(err, storage.ErrConflict) {
		return h.messages.BuildError(fmt.Sprintf("This server is already subscribed to **%s**.", sub.Title))
	}
	if err != nil {
		logger.Error().Err(err).Str("guild_id", guildID).Int("tmdb_id", sub.TMDBID).Msg("Failed to subscribe")
		return h.messages.BuildError("Failed to subscribe, please try again later.")
	}

	logger.Info().
		Str("guild_id", guildID).
		Int("tmdb_id", stored.TMDBID).
		Str("media_type", string(stored.MediaType)).
		Msg("Subscription added")
	return h.messages.BuildSubscribed(stored, result)
}

func (h *Handlers) unsubscribe(ctx context.Context, guildID, query string) *discordgo.MessageEmbed {
	query = strings.TrimSpace(query)
	if query == "" {
		return h.messages.BuildError("Please provide the title to unsubscribe from.")
	}

	matches, err := h.store.FindByTitle(ctx, guildID, query)
	if err != nil {
		logger.Error().Err(err).Str("guild_id", guildID).Msg("Failed to look up subscription")
		return h.messages.BuildError("Failed to unsubscribe, please try again later.")
	}

	target, ok := singleMatch(matches, query)
	if !ok {
		if len(matches) == 0 {
			return h.messages.BuildError(fmt.Sprintf("No subscription matches **%s**.", query))
		}
		titles := make([]string, 0, len(matches))
		for _, m := range matches {
			titles = append(titles, "• "+m.Title)
		}
		return h.messages.BuildError("Several subscriptions match, please be more specific:\n" + strings.Join(titles, "\n"))
	}

	err = h.store.Unsubscribe(ctx, guildID, target.TMDBID, target.MediaType)
	if errors.Is(err, storage.ErrNotFound) {
		return h.messages.BuildError(fmt.Sprintf("No subscription matches **%s**.", query))
	}
	if err != nil {
		logger.Error().Err(err).Str("guild_id", guildID).Int("tmdb_id", target.TMDBID).Msg("Failed to unsubscribe")
		return h.messages.BuildError("Failed to unsubscribe, please try again later.")
	}

	return h.messages.Base("✅ Unsubscribed", fmt.Sprintf("%s **%s** will no longer be watched.", MediaEmoji(target.MediaType), target.Title))
}

func (h *Handlers) listSubscriptions(ctx context.Context, guildID string) *discordgo.MessageEmbed {
	subs, err := h.store.ListSubscriptions(ctx, guildID)
	if err != nil {
		logger.Error().Err(err).Str("guild_id", guildID).Msg("Failed to list subscriptions")
		return h.messages.BuildError("Failed to load subscriptions.")
	}
	return h.messages.BuildSubscriptionList(subs)
}

type configUpdate struct {
	autoUpdate *bool
	channelID  string
	roleID     string
	clearRole  bool
}

func (h *Handlers) configure(ctx context.Context, guildID string, u configUpdate) *discordgo.MessageEmbed {
	var err error
	if u.autoUpdate != nil {
		err = errors.Join(err, h.store.SetAutoUpdate(ctx, guildID, *u.autoUpdate))
	}
	if u.channelID != "" {
		err = errors.Join(err, h.store.SetNotificationChannel(ctx, guildID, u.channelID))
	}
	switch {
	case u.clearRole:
		err = errors.Join(err, h.store.SetNotificationRole(ctx, guildID, ""))
	case u.roleID != "":
		err = errors.Join(err, h.store.SetNotificationRole(ctx, guildID, u.roleID))
	}
	if err != nil {
		logger.Error().Err(err).Str("guild_id", guildID).Msg("Failed to update settings")
		return h.messages.BuildError("Failed to update settings.")
	}

	g, err := h.store.GetGuild(ctx, guildID)
	if err != nil {
		logger.Error().Err(err).Str("guild_id", guildID).Msg("Failed to load settings")
		return h.messages.BuildError("Failed to load settings.")
	}
	return h.messages.BuildSettings(g)
}

// pickResult returns the first movie or show hit, optionally restricted to
// one media type.
func pickResult(results []tmdb.SearchResult, want storage.MediaType) (tmdb.SearchResult, bool) {
	for _, r := range results {
		mt := storage.MediaType(r.MediaType)
		if !mt.Valid() {
			continue
		}
		if want != "" && mt != want {
			continue
		}
		return r, true
	}
	return tmdb.SearchResult{}, false
}

// singleMatch picks the subscription a query refers to: the only match, or
// the only exact title match among several.
func singleMatch(matches []storage.Subscription, query string) (storage.Subscription, bool) {
	if len(matches) == 1 {
		return matches[0], true
	}
	var exact []storage.Subscription
	for _, m := range matches {
		if strings.EqualFold(m.Title, query) {
			exact = append(exact, m)
		}
	}
	if len(exact) == 1 {
		return exact[0], true
	}
	return storage.Subscription{}, false
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if o, ok := opts[name]; ok {
		return o.StringValue()
	}
	return ""
}

func configFromOptions(opts map[string]*discordgo.ApplicationCommandInteractionDataOption) configUpdate {
	var u configUpdate
	if o, ok := opts["auto_update"]; ok {
		v := o.BoolValue()
		u.autoUpdate = &v
	}
	if o, ok := opts["channel"]; ok {
		u.channelID = o.ChannelValue(nil).ID
	}
	if o, ok := opts["role"]; ok {
		u.roleID = o.RoleValue(nil, "").ID
	}
	if o, ok := opts["clear_role"]; ok {
		u.clearRole = o.BoolValue()
	}
	return u
}
