package discord

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/tmdb"
)

type fakeSearcher struct {
	results []tmdb.SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) SearchMulti(_ context.Context, query string) (*tmdb.SearchResponse, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return &tmdb.SearchResponse{Page: 1, Results: f.results}, nil
}

func setupHandlers(t *testing.T, search *fakeSearcher) (*Handlers, *storage.Store) {
	t.Helper()
	db, err := storage.NewDatabase("sqlite3", filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewStore(db)
	require.NoError(t, store.EnsureGuild(context.Background(), "g1", "Cinema Club"))
	return NewHandlers(store, search, NewMessageBuilder(0)), store
}

func TestSubscribe_StoresFirstMediaHit(t *testing.T) {
	search := &fakeSearcher{results: []tmdb.SearchResult{
		{ID: 6384, MediaType: "person", Name: "Keanu Reeves"},
		{ID: 603, MediaType: "movie", Title: "The Matrix", PosterPath: "/m.jpg", ReleaseDate: "1999-03-30"},
	}}
	h, store := setupHandlers(t, search)
	ctx := context.Background()

	embed := h.subscribe(ctx, "g1", " matrix ", "")
	assert.Equal(t, "✅ Subscribed to The Matrix", embed.Title)
	assert.Equal(t, []string{"matrix"}, search.queries)

	sub, err := store.GetSubscription(ctx, "g1", 603, storage.MediaMovie)
	require.NoError(t, err)
	assert.Equal(t, "/m.jpg", sub.PosterPath)
	assert.True(t, sub.NotifyOnRelease)
	assert.True(t, sub.NotifyOnUpdate)

	again := h.subscribe(ctx, "g1", "matrix", "")
	assert.Equal(t, "❌ Error", again.Title)
	assert.Contains(t, again.Description, "already subscribed")
}

func TestSubscribe_TypeFilterAndFailures(t *testing.T) {
	search := &fakeSearcher{results: []tmdb.SearchResult{
		{ID: 603, MediaType: "movie", Title: "The Matrix"},
	}}
	h, _ := setupHandlers(t, search)
	ctx := context.Background()

	embed := h.subscribe(ctx, "g1", "matrix", "tv")
	assert.Contains(t, embed.Description, "No results found")

	embed = h.subscribe(ctx, "g1", "   ", "")
	assert.Equal(t, "❌ Error", embed.Title)
	assert.Len(t, search.queries, 1, "blank queries never reach TMDB")

	search.err = &tmdb.RemoteError{Op: "search", StatusCode: 429, Err: errors.New("slow down")}
	embed = h.subscribe(ctx, "g1", "matrix", "")
	assert.Contains(t, embed.Description, "Search failed")
}

func TestUnsubscribe(t *testing.T) {
	h, store := setupHandlers(t, &fakeSearcher{})
	ctx := context.Background()

	for _, s := range []storage.Subscription{
		storage.NewSubscription("g1", 603, storage.MediaMovie, "The Matrix", ""),
		storage.NewSubscription("g1", 604, storage.MediaMovie, "The Matrix Reloaded", ""),
		storage.NewSubscription("g1", 1399, storage.MediaTV, "Game of Thrones", ""),
	} {
		_, err := store.Subscribe(ctx, s)
		require.NoError(t, err)
	}

	embed := h.unsubscribe(ctx, "g1", "thrones")
	assert.Equal(t, "✅ Unsubscribed", embed.Title)
	_, err := store.GetSubscription(ctx, "g1", 1399, storage.MediaTV)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	embed = h.unsubscribe(ctx, "g1", "reloaded")
	assert.Equal(t, "✅ Unsubscribed", embed.Title)

	_, err = store.Subscribe(ctx, storage.NewSubscription("g1", 604, storage.MediaMovie, "The Matrix Reloaded", ""))
	require.NoError(t, err)

	embed = h.unsubscribe(ctx, "g1", "matrix")
	assert.Contains(t, embed.Description, "Several subscriptions match")

	embed = h.unsubscribe(ctx, "g1", "the matrix")
	assert.Equal(t, "✅ Unsubscribed", embed.Title, "an exact title wins over partial matches")

	embed = h.unsubscribe(ctx, "g1", "dune")
	assert.Contains(t, embed.Description, "No subscription matches")
}

func TestConfigure(t *testing.T) {
	h, store := setupHandlers(t, &fakeSearcher{})
	ctx := context.Background()

	off := false
	embed := h.configure(ctx, "g1", configUpdate{autoUpdate: &off, channelID: "c1", roleID: "r1"})
	assert.Equal(t, "⚙️ Server Settings", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "❌ Disabled", embed.Fields[0].Value)
	assert.Equal(t, "<#c1>", embed.Fields[1].Value)
	assert.Equal(t, "<@&r1>", embed.Fields[2].Value)

	g, err := store.GetGuild(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, g.AutoUpdateEnabled)

	embed = h.configure(ctx, "g1", configUpdate{clearRole: true})
	assert.Equal(t, "None", embed.Fields[2].Value)

	embed = h.configure(ctx, "unknown", configUpdate{})
	assert.Equal(t, "❌ Error", embed.Title)
}

func TestListSubscriptions(t *testing.T) {
	h, store := setupHandlers(t, &fakeSearcher{})
	ctx := context.Background()

	embed := h.listSubscriptions(ctx, "g1")
	assert.Equal(t, "📭 No Subscriptions", embed.Title)

	_, err := store.Subscribe(ctx, storage.NewSubscription("g1", 603, storage.MediaMovie, "The Matrix", ""))
	require.NoError(t, err)
	embed = h.listSubscriptions(ctx, "g1")
	assert.Equal(t, "📋 Subscriptions (1)", embed.Title)
}

func TestConfigFromOptions(t *testing.T) {
	opts := optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "auto_update", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
		{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "555"},
		{Name: "role", Type: discordgo.ApplicationCommandOptionRole, Value: "777"},
	})

	u := configFromOptions(opts)
	require.NotNil(t, u.autoUpdate)
	assert.True(t, *u.autoUpdate)
	assert.Equal(t, "555", u.channelID)
	assert.Equal(t, "777", u.roleID)
	assert.False(t, u.clearRole)
	assert.Equal(t, "", stringOption(opts, "query"))
}

func TestCommandsDefinition(t *testing.T) {
	names := map[string]*discordgo.ApplicationCommand{}
	for _, c := range Commands() {
		names[c.Name] = c
	}
	require.Len(t, names, 4)
	require.Contains(t, names, "config")
	require.NotNil(t, names["config"].DefaultMemberPermissions)
	assert.Equal(t, int64(discordgo.PermissionManageServer), *names["config"].DefaultMemberPermissions)
	assert.True(t, names["subscribe"].Options[0].Required)
}
