package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scribehq/scribe-backend/internal/api"
	"github.com/scribehq/scribe-backend/internal/autosave"
	"github.com/scribehq/scribe-backend/internal/blog"
	"github.com/scribehq/scribe-backend/internal/config"
	"github.com/scribehq/scribe-backend/internal/events"
	"github.com/scribehq/scribe-backend/internal/images"
	"github.com/scribehq/scribe-backend/internal/log"
	"github.com/scribehq/scribe-backend/internal/metrics"
	"github.com/scribehq/scribe-backend/internal/ws"
	"github.com/scribehq/scribe-backend/pkg/kv"

	_ "github.com/scribehq/scribe-backend/pkg/kv/memory"
	_ "github.com/scribehq/scribe-backend/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting Scribe API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"storage_backend", cfg.Storage.Backend,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("scribe-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Setup the kv store backing both the post collection and draft backups
	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:         kv.Backend(cfg.Storage.Backend),
		RedisURL:        cfg.Storage.RedisURL,
		FailoverEnabled: true,
		Logger: func(msg string, keysAndValues ...any) {
			logger.Infow(msg, keysAndValues...)
		},
	})
	if err != nil {
		logger.Fatalw("Failed to setup kv store", "error", err)
	}
	defer kvStore.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := kvStore.Ping(ctx); err != nil {
		logger.Warnw("Store ping failed at startup", "error", err)
	}
	cancel()

	// Domain services
	posts := blog.NewStore(kvStore, logger, metricsObj, cfg.Storage.LimitBytes)
	backup := blog.NewDraftBackup(kvStore, logger, metricsObj)
	imageProc := images.NewProcessor(cfg.Uploads.Dir, "/uploads", cfg.Uploads.MaxBytes, logger)

	// Event bus feeding the websocket hub and SSE streams
	bus := events.NewBus()

	// Background services share one lifecycle context
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	wsHub := ws.NewHub(bus, cfg.Security.CORSAllowedOrigins, logger, metricsObj)
	go wsHub.Run(runCtx)
	sseHandler := ws.NewSSEHandler(bus, cfg.Security.CORSAllowedOrigins, logger)

	// Connectivity prober drives the autosave offline handling
	prober := autosave.NewPingProber(kvStore, 5*time.Second, logger)
	go func() {
		if err := prober.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Connectivity prober error", "error", err)
		}
	}()

	// Autosave controller commits scheduled edits to the post store
	saveFn := func(ctx context.Context, post *blog.Post) error {
		return posts.Save(ctx, post)
	}
	controller := autosave.NewController(autosave.Config{
		Debounce:    cfg.Autosave.Debounce,
		BaseDelay:   cfg.Autosave.BaseDelay,
		MaxAttempts: cfg.Autosave.MaxAttempts,
	}, saveFn, backup, prober, logger,
		autosave.WithMetrics(metricsObj),
		autosave.WithStatusHook(func(status autosave.Status) {
			payload := map[string]any{
				"state":  string(status.State),
				"saving": status.Saving,
			}
			if status.LastSavedAt != nil {
				payload["lastSavedAt"] = status.LastSavedAt
			}
			if status.Err != nil {
				payload["error"] = status.Err.Error()
			}
			bus.Publish(events.New(events.TypeAutosaveStatus, payload))
		}),
	)
	go func() {
		if err := controller.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Autosave controller error", "error", err)
		}
	}()

	// Setup API handler and middleware
	handler := api.NewHandler(posts, backup, controller, imageProc, wsHub, sseHandler, bus, kvStore, cfg, logger)
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, metricsHandler, cfg.Uploads.Dir)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Setup HTTP server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		// Stop background services; the controller flushes any pending
		// payload to the draft backup before returning.
		runCancel()
		controller.Stop()

		logger.Infow("Server stopped")
	}
}
