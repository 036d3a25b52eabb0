package storage

import (
	"context"
	"strings"
	"time"
)

// SubscriptionStore handles subscription-related database operations.
type SubscriptionStore struct {
	db *Database
}

// NewSubscriptionStore creates a new subscription store.
func NewSubscriptionStore(db *Database) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Subscribe stores a new subscription. A duplicate (guild, tmdb id, media
// type) yields ErrConflict.
func (s *SubscriptionStore) Subscribe(ctx context.Context, sub Subscription) (*Subscription, error) {
	query := s.db.Rebind(`
		INSERT INTO subscriptions (guild_id, tmdb_id, media_type, title, poster_path, subscribed_at, notify_on_release, notify_on_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, tmdb_id, media_type) DO NOTHING
	`)
	result, err := s.db.ExecContext(ctx, query,
		sub.GuildID, sub.TMDBID, sub.MediaType, sub.Title, sub.PosterPath,
		time.Now().UTC(), sub.NotifyOnRelease, sub.NotifyOnUpdate)
	if err != nil {
		return nil, err
	}
	if err := expectRow(result); err != nil {
		return nil, ErrConflict
	}
	return s.GetSubscription(ctx, sub.GuildID, sub.TMDBID, sub.MediaType)
}

// Unsubscribe removes a subscription, or returns ErrNotFound.
func (s *SubscriptionStore) Unsubscribe(ctx context.Context, guildID string, tmdbID int, mediaType MediaType) error {
	query := s.db.Rebind(`DELETE FROM subscriptions WHERE guild_id = ? AND tmdb_id = ? AND media_type = ?`)
	result, err := s.db.ExecContext(ctx, query, guildID, tmdbID, mediaType)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// GetSubscription returns one subscription, or ErrNotFound.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, guildID string, tmdbID int, mediaType MediaType) (*Subscription, error) {
	var subs []Subscription
	query := s.db.Rebind(`SELECT * FROM subscriptions WHERE guild_id = ? AND tmdb_id = ? AND media_type = ?`)
	if err := s.db.SelectContext(ctx, &subs, query, guildID, tmdbID, mediaType); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return &subs[0], nil
}

// ListSubscriptions returns a guild's subscriptions, never-checked first and
// then by how long ago they were last checked.
func (s *SubscriptionStore) ListSubscriptions(ctx context.Context, guildID string) ([]Subscription, error) {
	var subs []Subscription
	query := s.db.Rebind(`
		SELECT * FROM subscriptions
		WHERE guild_id = ?
		ORDER BY (last_checked IS NOT NULL), last_checked ASC, id ASC
	`)
	err := s.db.SelectContext(ctx, &subs, query, guildID)
	return subs, err
}

// FindByTitle returns a guild's subscriptions whose title contains query,
// ignoring case.
func (s *SubscriptionStore) FindByTitle(ctx context.Context, guildID, query string) ([]Subscription, error) {
	subs, err := s.ListSubscriptions(ctx, guildID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	var matches []Subscription
	for _, sub := range subs {
		if strings.Contains(strings.ToLower(sub.Title), needle) {
			matches = append(matches, sub)
		}
	}
	return matches, nil
}

// UpdateLastChecked records an evaluation attempt. A vanished subscription
// (for example unsubscribed mid-cycle) yields ErrNotFound.
func (s *SubscriptionStore) UpdateLastChecked(ctx context.Context, subscriptionID int64, checkedAt time.Time) error {
	query := s.db.Rebind(`UPDATE subscriptions SET last_checked = ? WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, checkedAt.UTC(), subscriptionID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// CountSubscriptions returns the number of subscriptions across all guilds.
func (s *SubscriptionStore) CountSubscriptions(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM subscriptions`)
	return count, err
}
