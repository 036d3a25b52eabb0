package storage

import (
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the sqlx.DB connection.
type Database struct {
	*sqlx.DB
}

// sqliteSchema defines the database tables for the embedded driver.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS guilds (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    notification_channel_id TEXT NOT NULL DEFAULT '',
    notification_role_id TEXT NOT NULL DEFAULT '',
    auto_update_enabled BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    guild_id TEXT NOT NULL,
    tmdb_id INTEGER NOT NULL,
    media_type TEXT NOT NULL,
    title TEXT NOT NULL,
    poster_path TEXT NOT NULL DEFAULT '',
    subscribed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_checked DATETIME,
    notify_on_release BOOLEAN NOT NULL DEFAULT 1,
    notify_on_update BOOLEAN NOT NULL DEFAULT 1,
    UNIQUE(guild_id, tmdb_id, media_type),
    FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_guild_id ON subscriptions(guild_id);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);
`

// postgresSchema mirrors sqliteSchema for PostgreSQL.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS guilds (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    notification_channel_id TEXT NOT NULL DEFAULT '',
    notification_role_id TEXT NOT NULL DEFAULT '',
    auto_update_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id BIGSERIAL PRIMARY KEY,
    guild_id TEXT NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
    tmdb_id INTEGER NOT NULL,
    media_type TEXT NOT NULL,
    title TEXT NOT NULL,
    poster_path TEXT NOT NULL DEFAULT '',
    subscribed_at TIMESTAMPTZ DEFAULT NOW(),
    last_checked TIMESTAMPTZ,
    notify_on_release BOOLEAN NOT NULL DEFAULT TRUE,
    notify_on_update BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE(guild_id, tmdb_id, media_type)
);

CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_guild_id ON subscriptions(guild_id);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache(expires_at);
`

// NewDatabase opens a connection for driver ("sqlite3" or "pgx") and
// initializes the schema. For sqlite3, dsn is a file path.
func NewDatabase(driver, dsn string) (*Database, error) {
	schema := sqliteSchema
	switch driver {
	case "sqlite3":
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	case "pgx":
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite3" {
		// PRAGMA is per connection; a single connection keeps cascades on.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.DB.Close()
}
