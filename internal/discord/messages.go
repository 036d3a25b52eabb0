package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/tmdb"
	"github.com/user/filmbot/internal/updater"
)

const (
	// DefaultEmbedColor is the accent colour of every bot embed.
	DefaultEmbedColor = 0x00D9FF
	embedFooter       = "Auto Update Film Bot"
	posterSize        = "w185"
)

// MessageBuilder helps construct notification embeds.
type MessageBuilder struct {
	color int
	now   func() time.Time
}

// NewMessageBuilder creates a new message builder. A zero colour selects
// DefaultEmbedColor.
func NewMessageBuilder(color int) *MessageBuilder {
	if color == 0 {
		color = DefaultEmbedColor
	}
	return &MessageBuilder{color: color, now: time.Now}
}

// Base returns an embed with the bot's colour, footer and timestamp.
func (m *MessageBuilder) Base(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       m.color,
		Timestamp:   m.now().UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: embedFooter},
	}
}

// BuildNotification creates the embed announcing out for sub. It returns
// nil for an unknown outcome kind.
func (m *MessageBuilder) BuildNotification(sub storage.Subscription, out updater.Outcome) *discordgo.MessageEmbed {
	emoji := MediaEmoji(sub.MediaType)
	date := FormatDate(out.Date)

	var embed *discordgo.MessageEmbed
	switch out.Kind {
	case updater.KindRelease:
		embed = m.Base(
			fmt.Sprintf("🎉 %s %s is Now Available!", emoji, out.Title),
			fmt.Sprintf("**%s** has been released!\nRelease Date: %s", out.Title, date),
		)
	case updater.KindUpcomingRelease:
		embed = m.Base(
			fmt.Sprintf("🔜 %s %s Releasing Soon!", emoji, out.Title),
			fmt.Sprintf("**%s** will be released in the next few days!\nRelease Date: %s", out.Title, date),
		)
	case updater.KindNewEpisode:
		desc := fmt.Sprintf("**%s**\n", out.Title)
		if ep := out.Episode; ep != nil {
			desc += fmt.Sprintf("S%dE%d: %s\n", ep.SeasonNumber, ep.EpisodeNumber, ep.Name)
		}
		embed = m.Base("📺 New Episode Tomorrow!", desc+"Airs: "+date)
	case updater.KindEpisodeAired:
		embed = m.Base(
			"📺 New Episode Available!",
			fmt.Sprintf("A new episode of **%s** has aired!\nAir Date: %s", out.Title, date),
		)
	default:
		return nil
	}

	if sub.PosterPath != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: tmdb.ImageURL(sub.PosterPath, posterSize)}
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:  "🔗 More Info",
		Value: fmt.Sprintf("[View on TMDB](%s)", tmdb.WebURL(string(sub.MediaType), sub.TMDBID)),
	})
	return embed
}

// BuildSubscribed confirms a new subscription.
func (m *MessageBuilder) BuildSubscribed(sub *storage.Subscription, result tmdb.SearchResult) *discordgo.MessageEmbed {
	embed := m.Base(
		fmt.Sprintf("✅ Subscribed to %s", sub.Title),
		fmt.Sprintf("%s **%s** will be watched for updates.", MediaEmoji(sub.MediaType), sub.Title),
	)
	if d := result.Date(); d != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "📅 Date", Value: FormatDate(d), Inline: true,
		})
	}
	if sub.PosterPath != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: tmdb.ImageURL(sub.PosterPath, posterSize)}
	}
	return embed
}

// BuildSubscriptionList groups subs by media type, ten per group.
func (m *MessageBuilder) BuildSubscriptionList(subs []storage.Subscription) *discordgo.MessageEmbed {
	if len(subs) == 0 {
		return m.Base("📭 No Subscriptions", "Use `/subscribe` to follow a movie or TV show.")
	}

	embed := m.Base(fmt.Sprintf("📋 Subscriptions (%d)", len(subs)), "")
	groups := []struct {
		kind  storage.MediaType
		label string
	}{
		{storage.MediaMovie, "🎬 Movies"},
		{storage.MediaTV, "📺 TV Shows"},
	}
	for _, g := range groups {
		var lines string
		n := 0
		for _, sub := range subs {
			if sub.MediaType != g.kind {
				continue
			}
			if n < 10 {
				lines += fmt.Sprintf("• %s\n", sub.Title)
			}
			n++
		}
		if n == 0 {
			continue
		}
		if n > 10 {
			lines += fmt.Sprintf("... and %d more\n", n-10)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s (%d)", g.label, n),
			Value: lines,
		})
	}
	return embed
}

// BuildSettings describes a guild's auto-update settings.
func (m *MessageBuilder) BuildSettings(g *storage.Guild) *discordgo.MessageEmbed {
	status := "❌ Disabled"
	if g.AutoUpdateEnabled {
		status = "✅ Enabled"
	}
	channel := "System channel"
	if g.NotificationChannelID != "" {
		channel = "<#" + g.NotificationChannelID + ">"
	}
	role := "None"
	if g.NotificationRoleID != "" {
		role = "<@&" + g.NotificationRoleID + ">"
	}

	embed := m.Base("⚙️ Server Settings", "")
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Auto Updates", Value: status, Inline: true},
		{Name: "Channel", Value: channel, Inline: true},
		{Name: "Ping Role", Value: role, Inline: true},
	}
	return embed
}

// BuildError formats a user-facing error.
func (m *MessageBuilder) BuildError(message string) *discordgo.MessageEmbed {
	embed := m.Base("❌ Error", message)
	embed.Color = 0xFF4444
	return embed
}

// MediaEmoji returns the icon used for a media type.
func MediaEmoji(t storage.MediaType) string {
	if t == storage.MediaTV {
		return "📺"
	}
	return "🎬"
}

// FormatDate renders a TMDB date as "January 2, 2006". Unparseable input
// is returned unchanged.
func FormatDate(s string) string {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return s
	}
	return t.Format("January 2, 2006")
}
