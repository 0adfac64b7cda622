package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/groups"
	"github.com/WesleyDev184/bananaChat/internal"
	"github.com/WesleyDev184/bananaChat/moderation"
	"github.com/WesleyDev184/bananaChat/ordering"
	"github.com/WesleyDev184/bananaChat/presence"
	"github.com/WesleyDev184/bananaChat/repositories"
	"github.com/WesleyDev184/bananaChat/router"
	"github.com/WesleyDev184/bananaChat/runtime"
	"github.com/WesleyDev184/bananaChat/runtime/workers"
	"github.com/WesleyDev184/bananaChat/server"
	"github.com/WesleyDev184/bananaChat/session"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern ensures all 'defer' statements (like database cleanup) execute before exit and
// keeps the initialization logic testable.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := internal.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Search index (bluge)
	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing search index...")
		_ = blugeWriter.Close()
	}()

	// 4. Repositories & domain services
	messageIndex := repositories.NewMessageIndex(blugeWriter, logger)
	messageRepository := repositories.NewMessageRepository(db, messageIndex, logger, config.HistoryPageLimit)
	groupRepository := repositories.NewGroupRepository(db)
	userRepository := repositories.NewUserRepository(db)

	censor, err := moderation.DefaultCensor(charReplacement)
	if err != nil {
		return exitRuntime, fmt.Errorf("censor init failed: %w", err)
	}

	pipeline := runtime.NewPipeline(logger, config.BufferSize)
	engine := ordering.NewEngine(logger, messageRepository, pipeline, config.DedupWindow, config.StoreRetries)

	registry := session.NewRegistry(logger)
	tracker := presence.NewTracker(logger, engine, pipeline, registry, config.PresenceGrace, config.BufferSize)
	registry.OnBindTransition(tracker.Observe)

	fanoutRouter := router.NewRouter(logger, registry, nil)
	groupService := groups.NewService(logger, groupRepository, pipeline, fanoutRouter.TeardownChannel)
	fanoutRouter.SetMembership(groupService)

	core := server.NewCore(server.CoreDeps{
		Log:              logger,
		Registry:         registry,
		Router:           fanoutRouter,
		Engine:           engine,
		Groups:           groupService,
		Tracker:          tracker,
		Censor:           censor,
		Users:            userRepository,
		MaxContentLength: config.MaxContentLength,
		HistoryPageLimit: config.HistoryPageLimit,
	})

	// 5. Supervision (presence, fanout, telemetry)
	telemetryChan := make(chan event.DomainEvent, config.BufferSize)
	fanout := workers.NewFanoutWorker(logger, pipeline.Events(), telemetryChan, fanoutRouter)
	telemetry := workers.NewTelemetryWorker(logger, telemetryChan, config.MetricInterval)
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(tracker, fanout, telemetry)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sup.Run(ctx)

	// 7. HTTP / Websocket server
	srv := server.NewServer(logger, core, server.Options{
		Addr:                 fmt.Sprintf("%s:%d", config.Host, config.Port),
		AllowedOrigins:       splitOrigins(config.AllowedOrigins),
		ConnectionBufferSize: config.ConnectionBufferSize,
		HeartbeatInterval:    config.HeartbeatInterval,
	})

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting chat server", "at", time.Now().UTC())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 9. Final Cleanup (Graceful Shutdown)
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
	sup.Stop()
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
