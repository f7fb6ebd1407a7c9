package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/card-lobby/config"
	"github.com/mossy-p/card-lobby/internal/broadcast"
	"github.com/mossy-p/card-lobby/internal/handlers"
	"github.com/mossy-p/card-lobby/internal/jobs"
	"github.com/mossy-p/card-lobby/internal/lobby"
	"github.com/mossy-p/card-lobby/internal/logging"
	"github.com/mossy-p/card-lobby/internal/middleware"
	"github.com/mossy-p/card-lobby/internal/redis"
	"github.com/mossy-p/card-lobby/internal/stats"
	"github.com/mossy-p/card-lobby/internal/store"
	"go.uber.org/zap"
)

const relayReadyTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Room store
	var rooms store.Repository
	var relay *broadcast.Relay
	hub := broadcast.NewHub(logger)
	var events lobby.Broadcaster = hub

	if cfg.UsesRedis() {
		client, err := redis.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		logger.Info("Redis connection established", zap.String("addr", cfg.Redis.Addr()))

		if cfg.Lobby.StoreBackend == config.BackendRedis {
			rooms = store.NewRedis(client, cfg.Lobby.RoomTTL)
		}
		if cfg.Lobby.BroadcastMode == config.BroadcastRedis {
			relay = broadcast.NewRelay(client, hub, logger)
			events = relay
		}
	}
	if rooms == nil {
		mem, err := store.NewMemory()
		if err != nil {
			logger.Fatal("Failed to create memory store", zap.Error(err))
		}
		rooms = mem
	}
	if relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event relay stopped", zap.Error(err))
			}
		}()
		if err := relay.WaitReady(ctx, relayReadyTimeout); err != nil {
			logger.Fatal("Event relay did not subscribe", zap.Error(err))
		}
	}

	// Stats collaborator
	var collab stats.Collaborator = stats.LogCollaborator{Logger: logger}
	if cfg.Stats.DSN != "" {
		db, err := stats.OpenPostgres(cfg.Stats.DSN, logger)
		if err != nil {
			logger.Fatal("Failed to open stats database", zap.Error(err))
		}
		gormStore, err := stats.NewGormStore(db)
		if err != nil {
			logger.Fatal("Failed to prepare stats database", zap.Error(err))
		}
		collab = gormStore
	}
	notifier := stats.NewNotifier(collab, stats.NotifierConfig{
		Workers:     cfg.Stats.Workers,
		QueueSize:   cfg.Stats.QueueSize,
		Timeout:     cfg.Stats.Timeout,
		MaxAttempts: cfg.Stats.MaxAttempts,
	}, logger)
	defer notifier.Close()

	coordinator := lobby.NewCoordinator(
		rooms,
		lobby.NewAllocator(rooms, lobby.RandomCode, cfg.Lobby.CodeMaxAttempts),
		events,
		notifier,
		logger,
		lobby.WithHostPolicy(lobby.HostPolicy(cfg.Lobby.HostSuccession)),
	)
	hub.OnGap(coordinator.Snapshot)

	scheduler, err := jobs.NewScheduler(notifier, coordinator, cfg.Lobby.StaleRoomAfter, logger)
	if err != nil {
		logger.Fatal("Failed to schedule jobs", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := handlers.NewServer(coordinator, middleware.NewIdentityResolver(cfg.JWTSecret), logger)
	router := handlers.NewRouter(server, handlers.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		GuestTokens:    cfg.Environment != "production",
	}, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		logger.Info("Starting card lobby server",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.Lobby.StoreBackend),
			zap.String("broadcast", cfg.Lobby.BroadcastMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
