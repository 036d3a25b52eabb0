package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/filmbot/internal/storage"
)

type guildStore struct {
	CommandStore

	mu      sync.Mutex
	known   map[string]string
	deleted []string
}

func (f *guildStore) EnsureGuild(_ context.Context, guildID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[guildID] = name
	return nil
}

func (f *guildStore) DeleteGuild(_ context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.known[guildID]; !ok {
		return storage.ErrNotFound
	}
	delete(f.known, guildID)
	f.deleted = append(f.deleted, guildID)
	return nil
}

func setupBot(t *testing.T, timeout time.Duration) (*Bot, *discordgo.Session, *guildStore) {
	t.Helper()
	session := &discordgo.Session{StateEnabled: true, State: discordgo.NewState()}
	store := &guildStore{known: map[string]string{}}
	b := newBot(session, Options{GuildReadyTimeout: timeout}, NewHandlers(store, nil, NewMessageBuilder(0)))
	return b, session, store
}

// deliver updates the state before running the typed handler, like the gateway does.
func deliver(t *testing.T, s *discordgo.Session, event interface{}, handle func()) {
	t.Helper()
	require.NoError(t, s.State.OnInterface(s, event))
	handle()
}

func readyEvent(ids ...string) *discordgo.Ready {
	r := &discordgo.Ready{User: &discordgo.User{ID: "app", Username: "filmbot"}}
	for _, id := range ids {
		r.Guilds = append(r.Guilds, &discordgo.Guild{ID: id, Unavailable: true})
	}
	return r
}

func guildCreate(id, name string) *discordgo.GuildCreate {
	return &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: id, Name: name}}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestReady_WaitsForEveryGuildCreate(t *testing.T) {
	b, s, store := setupBot(t, time.Minute)

	r := readyEvent("g1", "g2")
	deliver(t, s, r, func() { b.onReady(s, r) })
	assert.False(t, isClosed(b.Ready()), "guilds are still stubs")

	g1 := guildCreate("g1", "Cinema Club")
	deliver(t, s, g1, func() { b.onGuildCreate(s, g1) })
	assert.False(t, isClosed(b.Ready()))

	g2 := guildCreate("g2", "Series Night")
	deliver(t, s, g2, func() { b.onGuildCreate(s, g2) })
	assert.True(t, isClosed(b.Ready()))

	guild, err := s.State.Guild("g1")
	require.NoError(t, err)
	assert.False(t, guild.Unavailable)
	assert.Equal(t, map[string]string{"g1": "Cinema Club", "g2": "Series Night"}, store.known)
}

func TestReady_NoGuilds(t *testing.T) {
	b, s, _ := setupBot(t, time.Minute)

	r := readyEvent()
	deliver(t, s, r, func() { b.onReady(s, r) })
	assert.True(t, isClosed(b.Ready()))
}

func TestReady_GuildCreateHandledFirst(t *testing.T) {
	b, s, _ := setupBot(t, time.Minute)

	r := readyEvent("g1")
	require.NoError(t, s.State.OnInterface(s, r))
	g1 := guildCreate("g1", "Cinema Club")
	deliver(t, s, g1, func() { b.onGuildCreate(s, g1) })
	assert.False(t, isClosed(b.Ready()))

	b.onReady(s, r)
	assert.True(t, isClosed(b.Ready()))
}

func TestReady_TimesOutOnMissingGuild(t *testing.T) {
	b, s, _ := setupBot(t, 20*time.Millisecond)

	r := readyEvent("g1", "outage")
	deliver(t, s, r, func() { b.onReady(s, r) })
	g1 := guildCreate("g1", "Cinema Club")
	deliver(t, s, g1, func() { b.onGuildCreate(s, g1) })
	assert.False(t, isClosed(b.Ready()))

	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready was never closed")
	}
}

func TestReady_ResumeDoesNotReopen(t *testing.T) {
	b, s, _ := setupBot(t, time.Minute)

	r := readyEvent()
	deliver(t, s, r, func() { b.onReady(s, r) })
	require.True(t, isClosed(b.Ready()))

	again := readyEvent("g1")
	assert.NotPanics(t, func() {
		deliver(t, s, again, func() { b.onReady(s, again) })
		g1 := guildCreate("g1", "Cinema Club")
		deliver(t, s, g1, func() { b.onGuildCreate(s, g1) })
	})
}

func TestGuildCreate_SkipsUnavailable(t *testing.T) {
	b, s, store := setupBot(t, time.Minute)

	b.onGuildCreate(s, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1", Unavailable: true}})
	assert.Empty(t, store.known)
}

func TestGuildDelete(t *testing.T) {
	tests := []struct {
		name        string
		unavailable bool
		kept        bool
	}{
		{"removed from guild", false, false},
		{"outage", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, s, store := setupBot(t, time.Minute)
			g1 := guildCreate("g1", "Cinema Club")
			deliver(t, s, g1, func() { b.onGuildCreate(s, g1) })

			del := &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1", Unavailable: tt.unavailable}}
			deliver(t, s, del, func() { b.onGuildDelete(s, del) })

			_, kept := store.known["g1"]
			assert.Equal(t, tt.kept, kept)
			if tt.kept {
				assert.Empty(t, store.deleted)
			} else {
				assert.Equal(t, []string{"g1"}, store.deleted)
			}
		})
	}
}

func TestGuildDelete_UnknownGuild(t *testing.T) {
	b, s, store := setupBot(t, time.Minute)

	assert.NotPanics(t, func() {
		b.onGuildDelete(s, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "ghost"}})
	})
	assert.Empty(t, store.deleted)
}
