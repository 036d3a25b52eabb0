package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/filmbot/internal/config"
	"github.com/user/filmbot/internal/discord"
	"github.com/user/filmbot/internal/notifier"
	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/tmdb"
	"github.com/user/filmbot/internal/updater"
	"github.com/user/filmbot/pkg/logger"
	"github.com/user/filmbot/pkg/ratelimiter"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()
	started := time.Now()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init("info", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting Auto Update Film Bot")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	store := storage.NewStore(db)
	logger.Info().Str("driver", cfg.Database.Driver).Msg("Database initialized")

	// TMDB client shares one limiter across the poll loop and commands
	limiter := ratelimiter.NewTokenBucket(cfg.API.RateLimit, cfg.RatePeriod())
	tmdbClient := tmdb.NewClient(tmdb.Options{
		APIKey:    cfg.TMDB.APIKey,
		ReadToken: cfg.TMDB.ReadToken,
		BaseURL:   cfg.TMDB.BaseURL,
		Language:  cfg.TMDB.Language,
		Timeout:   cfg.TMDBTimeout(),
		Limiter:   limiter,
		Cache:     store.Cache,
		CacheTTL:  cfg.CacheTTL(),
	})

	// Initialize Discord bot
	messages := discord.NewMessageBuilder(cfg.Notification.EmbedColor)
	handlers := discord.NewHandlers(store, tmdbClient, messages)
	bot, err := discord.NewBot(discord.Options{
		Token:        cfg.Discord.Token,
		GuildID:      cfg.Discord.GuildID,
		SyncCommands: cfg.Discord.SyncCommands,
	}, handlers)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Discord bot")
	}
	if err := bot.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start Discord bot")
	}

	notify := notifier.NewNotifier(bot.State(), bot, messages, cfg.Notification.PingRole)

	// Start the poll loop once the gateway is ready
	var loop *updater.PollLoop
	if cfg.Update.Enabled {
		loop = updater.NewPollLoop(store, tmdbClient, notify, cfg.UpdateInterval())
		loop.SubscriptionDelay = cfg.SubscriptionDelay()
		loop.Start(bot.Ready())
	} else {
		logger.Info().Msg("Auto-update disabled")
	}

	// Housekeeping
	cronLog := logger.With("cron")
	scheduler := cron.New(cron.WithLogger(cron.PrintfLogger(&cronLog)))
	_, err = scheduler.AddFunc(cfg.Cache.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := store.Cache.PurgeExpired(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to purge cache")
			return
		}
		logger.Debug().Int64("count", n).Msg("Purged expired cache entries")
	})
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Cache.CleanupSchedule).Msg("Invalid cache cleanup schedule")
	}
	scheduler.Start()

	// Start HTTP server
	var status loopStatus
	if loop != nil {
		status = loop
	}
	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: newRouter(status, store, limiter, started),
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if loop != nil {
		loop.Stop()
	}

	<-scheduler.Stop().Done()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	bot.Stop()

	logger.Info().Msg("Shutdown complete")
}
