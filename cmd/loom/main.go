package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/loom/internal/bus"
	"github.com/gosuda/loom/internal/config"
	"github.com/gosuda/loom/internal/eventlog"
	"github.com/gosuda/loom/internal/logbuffer"
	"github.com/gosuda/loom/internal/loop"
	"github.com/gosuda/loom/internal/provider"
	"github.com/gosuda/loom/internal/server"
	"github.com/gosuda/loom/internal/tool"
	"github.com/gosuda/loom/internal/tool/fs"
	"github.com/gosuda/loom/internal/tool/gitx"
	"github.com/gosuda/loom/internal/tool/sqlitex"
	"github.com/gosuda/loom/internal/tool/web"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("LOOM_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("LOOM_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Populate the tool registry. It is read-only once the server starts.
	registry := tool.NewRegistry()
	for _, t := range fs.Tools() {
		registry.Register(t)
	}
	for _, t := range gitx.Tools() {
		registry.Register(t)
	}
	for _, t := range web.NewClient(cfg.Tools.BraveAPIKey).Tools() {
		registry.Register(t)
	}
	for _, t := range sqlitex.NewStore(cfg.Tools.SQLiteTimeout).Tools() {
		registry.Register(t)
	}
	log.Info().Strs("tools", registry.Names()).Msg("tool registry populated")

	// Session stream buffer with its background flusher.
	buffer, err := logbuffer.New(cfg.Buffer.Dir, cfg.Buffer.FlushInterval)
	if err != nil {
		return err
	}
	defer buffer.Close()

	// Structured event logger.
	events, err := eventlog.New(cfg.Events.Dir, cfg.Events.Privacy, cfg.Events.MaxBody)
	if err != nil {
		return err
	}
	defer events.Close()

	// Event bus: Redis when configured, in-process otherwise.
	var eventBus bus.Bus
	if cfg.Redis.Addr != "" {
		redisBus, redisErr := bus.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if redisErr != nil {
			return redisErr
		}
		eventBus = redisBus
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis event bus enabled")
	} else {
		eventBus = bus.NewMemory()
	}
	defer eventBus.Close()

	// Model provider.
	streamer := provider.New(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name)

	// The tool-call loop.
	lp := loop.New(streamer, tool.NewDispatcher(registry), buffer, events, eventBus,
		loop.NewStore(), loop.Options{
			RequestDelay: cfg.Loop.RequestDelay,
			MaxRounds:    cfg.Loop.MaxRounds,
		})

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go buffer.Run(ctx)
	go cleanupStale(ctx, buffer, cfg.Buffer.StaleMaxAge)

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, lp, registry, eventBus)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

// cleanupStale removes abandoned session stream files once at startup and
// hourly after that.
func cleanupStale(ctx context.Context, buffer *logbuffer.Buffer, maxAge time.Duration) {
	sweep := func() {
		removed, err := buffer.CleanupStale(maxAge)
		if err != nil {
			log.Error().Err(err).Msg("stale stream cleanup")
		}
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("stale stream files removed")
		}
	}

	sweep()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
