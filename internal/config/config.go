// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Discord      DiscordConfig      `mapstructure:"discord"`
	TMDB         TMDBConfig         `mapstructure:"tmdb"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Update       UpdateConfig       `mapstructure:"update"`
	Notification NotificationConfig `mapstructure:"notification"`
	API          APIConfig          `mapstructure:"api"`
	Cache        CacheConfig        `mapstructure:"cache"`
}

// DiscordConfig holds Discord bot configuration.
type DiscordConfig struct {
	Token        string `mapstructure:"token"`
	GuildID      string `mapstructure:"guild_id"` // empty registers commands globally
	SyncCommands bool   `mapstructure:"sync_commands"`
}

// TMDBConfig holds TMDB API configuration.
type TMDBConfig struct {
	APIKey         string `mapstructure:"api_key"`
	ReadToken      string `mapstructure:"read_token"` // v4 read access token, preferred over api_key
	BaseURL        string `mapstructure:"base_url"`
	Language       string `mapstructure:"language"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 or pgx
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// UpdateConfig controls the auto-update poll loop.
type UpdateConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	IntervalHours       int  `mapstructure:"interval_hours"`
	SubscriptionDelayMs int  `mapstructure:"subscription_delay_ms"`
}

// NotificationConfig controls notification rendering.
type NotificationConfig struct {
	PingRole   bool `mapstructure:"ping_role"`
	EmbedColor int  `mapstructure:"embed_color"`
}

// APIConfig holds the outbound TMDB rate limit.
type APIConfig struct {
	RateLimit         int `mapstructure:"rate_limit"`
	RatePeriodSeconds int `mapstructure:"rate_period_seconds"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTLSeconds      int    `mapstructure:"ttl_seconds"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is applied first if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.sync_commands", true)
	v.SetDefault("tmdb.api_key", "")
	v.SetDefault("tmdb.read_token", "")
	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.language", "en-US")
	v.SetDefault("tmdb.timeout_seconds", 10)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/filmbot.db")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("update.enabled", true)
	v.SetDefault("update.interval_hours", 6)
	v.SetDefault("update.subscription_delay_ms", 500)
	v.SetDefault("notification.ping_role", true)
	v.SetDefault("notification.embed_color", 0x00D9FF)
	v.SetDefault("api.rate_limit", 40)
	v.SetDefault("api.rate_period_seconds", 10)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.cleanup_schedule", "@every 1h")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FILMBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token is required")
	}
	if c.TMDB.APIKey == "" && c.TMDB.ReadToken == "" {
		return fmt.Errorf("tmdb api_key or read_token is required")
	}
	if c.Update.IntervalHours <= 0 {
		return fmt.Errorf("update.interval_hours must be positive, got %d", c.Update.IntervalHours)
	}
	if c.API.RateLimit <= 0 || c.API.RatePeriodSeconds <= 0 {
		return fmt.Errorf("api rate limit must be positive, got %d per %ds", c.API.RateLimit, c.API.RatePeriodSeconds)
	}
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UpdateInterval returns the poll loop period.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Update.IntervalHours) * time.Hour
}

// SubscriptionDelay returns the courtesy pause between subscription checks.
func (c *Config) SubscriptionDelay() time.Duration {
	return time.Duration(c.Update.SubscriptionDelayMs) * time.Millisecond
}

// RatePeriod returns the rate limiter window.
func (c *Config) RatePeriod() time.Duration {
	return time.Duration(c.API.RatePeriodSeconds) * time.Second
}

// CacheTTL returns the lifetime of cached search responses.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// TMDBTimeout returns the per-request HTTP timeout.
func (c *Config) TMDBTimeout() time.Duration {
	return time.Duration(c.TMDB.TimeoutSeconds) * time.Second
}
