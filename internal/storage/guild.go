package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GuildStore handles guild settings.
type GuildStore struct {
	db *Database
}

// NewGuildStore creates a new guild store.
func NewGuildStore(db *Database) *GuildStore {
	return &GuildStore{db: db}
}

// EnsureGuild creates the guild row if missing and refreshes its name.
func (s *GuildStore) EnsureGuild(ctx context.Context, guildID, name string) error {
	query := s.db.Rebind(`
		INSERT INTO guilds (id, name)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name
	`)
	_, err := s.db.ExecContext(ctx, query, guildID, name)
	return err
}

// GetGuild returns a guild's settings, or ErrNotFound.
func (s *GuildStore) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	err := s.db.GetContext(ctx, &g, s.db.Rebind(`SELECT * FROM guilds WHERE id = ?`), guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListAutoUpdateGuilds returns every guild with auto-update enabled.
func (s *GuildStore) ListAutoUpdateGuilds(ctx context.Context) ([]Guild, error) {
	var guilds []Guild
	query := s.db.Rebind(`SELECT * FROM guilds WHERE auto_update_enabled = ? ORDER BY id`)
	err := s.db.SelectContext(ctx, &guilds, query, true)
	return guilds, err
}

// SetAutoUpdate toggles the poll loop for a guild.
func (s *GuildStore) SetAutoUpdate(ctx context.Context, guildID string, enabled bool) error {
	return s.update(ctx, `UPDATE guilds SET auto_update_enabled = ?, updated_at = ? WHERE id = ?`, enabled, guildID)
}

// SetNotificationChannel sets the destination channel; empty clears it.
func (s *GuildStore) SetNotificationChannel(ctx context.Context, guildID, channelID string) error {
	return s.update(ctx, `UPDATE guilds SET notification_channel_id = ?, updated_at = ? WHERE id = ?`, channelID, guildID)
}

// SetNotificationRole sets the role mentioned on notifications; empty clears it.
func (s *GuildStore) SetNotificationRole(ctx context.Context, guildID, roleID string) error {
	return s.update(ctx, `UPDATE guilds SET notification_role_id = ?, updated_at = ? WHERE id = ?`, roleID, guildID)
}

// DeleteGuild purges a guild and, by cascade, its subscriptions.
func (s *GuildStore) DeleteGuild(ctx context.Context, guildID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM guilds WHERE id = ?`), guildID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (s *GuildStore) update(ctx context.Context, query string, value any, guildID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), value, time.Now().UTC(), guildID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
