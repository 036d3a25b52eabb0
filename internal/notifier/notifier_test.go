package notifier

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/filmbot/internal/discord"
	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/updater"
	"github.com/user/filmbot/pkg/logger"
)

type fakeGuilds struct {
	guilds   map[string]*discordgo.Guild
	channels map[string]*discordgo.Channel
	roles    map[string]bool
}

func (f *fakeGuilds) Guild(id string) (*discordgo.Guild, error) {
	if g, ok := f.guilds[id]; ok {
		return g, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (f *fakeGuilds) Channel(id string) (*discordgo.Channel, error) {
	if c, ok := f.channels[id]; ok {
		return c, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (f *fakeGuilds) Role(guildID, roleID string) (*discordgo.Role, error) {
	if f.roles[guildID+"/"+roleID] {
		return &discordgo.Role{ID: roleID}, nil
	}
	return nil, discordgo.ErrStateNotFound
}

type sentMessage struct {
	channelID string
	content   string
	embed     *discordgo.MessageEmbed
	roles     []string
}

type fakeSender struct {
	err  error
	sent []sentMessage
}

func (f *fakeSender) SendEmbed(_ context.Context, channelID, content string, embed *discordgo.MessageEmbed, roles []string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{channelID, content, embed, roles})
	return nil
}

func newFixture() *fakeGuilds {
	return &fakeGuilds{
		guilds: map[string]*discordgo.Guild{
			"g1": {ID: "g1", SystemChannelID: "system"},
			"g2": {ID: "g2"},
		},
		channels: map[string]*discordgo.Channel{
			"news":  {ID: "news", GuildID: "g1"},
			"other": {ID: "other", GuildID: "g2"},
		},
		roles: map[string]bool{"g1/fans": true},
	}
}

var (
	matrix  = storage.NewSubscription("g1", 603, storage.MediaMovie, "The Matrix", "")
	release = updater.Outcome{Kind: updater.KindRelease, Date: "2026-10-17", Title: "The Matrix"}
)

func TestDispatch_ConfiguredChannel(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(newFixture(), sender, discord.NewMessageBuilder(0), true)

	err := n.Dispatch(context.Background(), storage.Guild{ID: "g1", NotificationChannelID: "news"}, matrix, release)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "news", sender.sent[0].channelID)
	assert.Equal(t, "🎉 🎬 The Matrix is Now Available!", sender.sent[0].embed.Title)
	assert.Empty(t, sender.sent[0].content)
}

func TestDispatch_FallsBackToSystemChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
	}{
		{"unset", ""},
		{"deleted", "gone"},
		{"belongs to another guild", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			n := NewNotifier(newFixture(), sender, discord.NewMessageBuilder(0), true)

			err := n.Dispatch(context.Background(), storage.Guild{ID: "g1", NotificationChannelID: tt.channel}, matrix, release)
			require.NoError(t, err)
			require.Len(t, sender.sent, 1)
			assert.Equal(t, "system", sender.sent[0].channelID)
		})
	}
}

func TestDispatch_NoChannel(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(newFixture(), sender, discord.NewMessageBuilder(0), true)

	err := n.Dispatch(context.Background(), storage.Guild{ID: "g2"}, matrix, release)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoChannel)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "g2", de.GuildID)
	assert.Empty(t, sender.sent)
}

func TestDispatch_UnavailableGuild(t *testing.T) {
	n := NewNotifier(newFixture(), &fakeSender{}, discord.NewMessageBuilder(0), true)

	assert.False(t, n.Reachable("g9"))
	assert.True(t, n.Reachable("g1"))

	err := n.Dispatch(context.Background(), storage.Guild{ID: "g9"}, matrix, release)
	assert.ErrorIs(t, err, ErrGuildUnavailable)
}

func TestDispatch_RoleMention(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		pingRole bool
		content  string
		roles    []string
	}{
		{"role pinged", "fans", true, "<@&fans>", []string{"fans"}},
		{"feature disabled", "fans", false, "", []string{}},
		{"role deleted", "ghosts", true, "", []string{}},
		{"no role", "", true, "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			n := NewNotifier(newFixture(), sender, discord.NewMessageBuilder(0), tt.pingRole)

			err := n.Dispatch(context.Background(), storage.Guild{ID: "g1", NotificationRoleID: tt.role}, matrix, release)
			require.NoError(t, err)
			require.Len(t, sender.sent, 1)
			assert.Equal(t, tt.content, sender.sent[0].content)
			assert.Equal(t, tt.roles, sender.sent[0].roles)
		})
	}
}

func TestDispatch_SendFailure(t *testing.T) {
	sendErr := errors.New("missing permissions")
	n := NewNotifier(newFixture(), &fakeSender{err: sendErr}, discord.NewMessageBuilder(0), true)

	err := n.Dispatch(context.Background(), storage.Guild{ID: "g1"}, matrix, release)
	assert.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), "dispatch to guild g1: send")
}

func TestDispatch_UnknownKind(t *testing.T) {
	n := NewNotifier(newFixture(), &fakeSender{}, discord.NewMessageBuilder(0), true)
	err := n.Dispatch(context.Background(), storage.Guild{ID: "g1"}, matrix, updater.Outcome{Kind: "mystery"})
	require.Error(t, err)
}

func TestDispatch_WaitsForGuildCreateAfterReady(t *testing.T) {
	session := &discordgo.Session{StateEnabled: true}
	state := discordgo.NewState()
	require.NoError(t, state.OnInterface(session, &discordgo.Ready{
		User:   &discordgo.User{ID: "bot"},
		Guilds: []*discordgo.Guild{{ID: "G", Unavailable: true}},
	}))

	sender := &fakeSender{}
	n := NewNotifier(state, sender, discord.NewMessageBuilder(0), true)
	settings := storage.Guild{ID: "G", NotificationChannelID: "news"}

	assert.False(t, n.Reachable("G"), "READY only carries an unavailable stub")
	err := n.Dispatch(context.Background(), settings, matrix, release)
	assert.ErrorIs(t, err, ErrGuildUnavailable)
	assert.Empty(t, sender.sent)

	require.NoError(t, state.OnInterface(session, &discordgo.GuildCreate{Guild: &discordgo.Guild{
		ID:       "G",
		Name:     "Cinema Club",
		Channels: []*discordgo.Channel{{ID: "news", GuildID: "G", Type: discordgo.ChannelTypeGuildText}},
	}}))

	assert.True(t, n.Reachable("G"))
	require.NoError(t, n.Dispatch(context.Background(), settings, matrix, release))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "news", sender.sent[0].channelID)
}

func TestDispatch_NoChannelLeavesLoggingToCaller(t *testing.T) {
	var buf bytes.Buffer
	restore := logger.SetOutput(&buf, "warn")
	defer restore()

	n := NewNotifier(newFixture(), &fakeSender{}, discord.NewMessageBuilder(0), true)
	err := n.Dispatch(context.Background(), storage.Guild{ID: "g2"}, matrix, release)

	assert.ErrorIs(t, err, ErrNoChannel)
	assert.Empty(t, buf.String())
}
