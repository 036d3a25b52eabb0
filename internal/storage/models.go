// Package storage provides database operations and data models.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a targeted row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// MediaType is the TMDB catalogue a subscription points at.
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// Valid reports whether m is a supported media type.
func (m MediaType) Valid() bool {
	return m == MediaMovie || m == MediaTV
}

// Guild holds per-guild settings consumed by the poll loop and notifier.
type Guild struct {
	ID                    string    `db:"id"`
	Name                  string    `db:"name"`
	NotificationChannelID string    `db:"notification_channel_id"` // empty: use the system channel
	NotificationRoleID    string    `db:"notification_role_id"`    // empty: no mention
	AutoUpdateEnabled     bool      `db:"auto_update_enabled"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

// Subscription represents a guild's interest in one movie or TV show.
type Subscription struct {
	ID              int64      `db:"id"`
	GuildID         string     `db:"guild_id"`
	TMDBID          int        `db:"tmdb_id"`
	MediaType       MediaType  `db:"media_type"`
	Title           string     `db:"title"`
	PosterPath      string     `db:"poster_path"`
	SubscribedAt    time.Time  `db:"subscribed_at"`
	LastChecked     *time.Time `db:"last_checked"`
	NotifyOnRelease bool       `db:"notify_on_release"`
	NotifyOnUpdate  bool       `db:"notify_on_update"`
}

// NewSubscription returns a subscription with both notification flags on.
func NewSubscription(guildID string, tmdbID int, mediaType MediaType, title, posterPath string) Subscription {
	return Subscription{
		GuildID:         guildID,
		TMDBID:          tmdbID,
		MediaType:       mediaType,
		Title:           title,
		PosterPath:      posterPath,
		NotifyOnRelease: true,
		NotifyOnUpdate:  true,
	}
}
