package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/todahub/paradahan/internal/api/handlers"
	"github.com/todahub/paradahan/internal/api/routes"
	"github.com/todahub/paradahan/internal/config"
	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/internal/domain/queue"
	"github.com/todahub/paradahan/internal/service/engine"
	"github.com/todahub/paradahan/internal/service/estimate"
	"github.com/todahub/paradahan/internal/service/ledger"
	queuesvc "github.com/todahub/paradahan/internal/service/queue"
	"github.com/todahub/paradahan/internal/service/supervisor"
	"github.com/todahub/paradahan/pkg/cache"
	"github.com/todahub/paradahan/pkg/docstore"
	"github.com/todahub/paradahan/pkg/logger"
	"github.com/todahub/paradahan/pkg/monitoring"
	"github.com/todahub/paradahan/pkg/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting paradahan queue engine",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
		logger.String("zone", cfg.Zone.Name),
	)

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp, _ = monitoring.New(monitoring.Config{})
	}
	defer nrApp.Shutdown(10 * time.Second)

	// Initialize the document store
	var store docstore.Store
	if cfg.Database.Enabled {
		pgStore, err := docstore.NewPostgresStore(docstore.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
			MaxIdle:  cfg.Database.MaxIdle,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
		}
		defer pgStore.Close()
		store = pgStore
		appLogger.Info("Connected to PostgreSQL document store")
	} else {
		store = docstore.NewMemoryStore()
		appLogger.Warn("DB_ENABLED is false, using in-memory document store")
	}

	// Initialize the ride buffer (Redis when reachable, else in-memory)
	var buffer ledger.Buffer
	redisClient, err := cache.NewRedisClient(cache.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  cfg.Redis.MaxRetries,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	})
	if err != nil {
		appLogger.Warn("Redis unavailable, ride buffer will not survive restarts", logger.Err(err))
		buffer = ledger.NewMemoryBuffer()
	} else {
		defer cache.Close(redisClient)
		buffer = cache.NewRideBuffer(redisClient)
		appLogger.Info("Connected to Redis for the ride buffer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	coord := queuesvc.NewCoordinator(store, queuesvc.Config{
		WriteRetries: cfg.Queue.WriteRetries,
		RetryBackoff: cfg.Queue.RetryBackoff,
	}, appLogger)

	rideLedger := ledger.New(store, buffer, appLogger)
	estimator := estimate.NewEstimator(cfg.Estimate.InitialAvgMinutes)
	sessions := engine.NewSessionStore(store)

	registry := engine.NewRegistry(engine.RegistryConfig{
		Coord:           coord,
		Ledger:          rideLedger,
		Estimator:       estimator,
		Sessions:        sessions,
		Fares:           cfg.FareTable(),
		Zone:            geo.Zone{Name: cfg.Zone.Name, Vertices: cfg.Zone.Polygon},
		DebounceSamples: cfg.Geofence.DebounceSamples,
		CountdownTick:   cfg.Estimate.CountdownTick,
		Metrics:         nrApp,
		Log:             appLogger,
	})

	// Initialize WebSocket hub and wire engine notifications to it
	wsHub := websocket.NewHub(appLogger)
	go wsHub.Run()
	defer wsHub.Stop()

	registry.Notify(
		func(s engine.Snapshot) {
			wsHub.SendToDriver(s.DriverID, websocket.Message{Type: websocket.FrameState, Data: s})
		},
		func(driverID, message string) {
			wsHub.SendToDriver(driverID, websocket.Message{Type: websocket.FrameToast, Data: message})
		},
	)
	registry.OnCountdown(func(driverID string, remaining time.Duration) {
		wsHub.SendToDriver(driverID, websocket.Message{Type: websocket.FrameCountdown, Data: int(remaining.Seconds())})
	})
	defer registry.Shutdown()

	// Every connected device sees queue rewrites as they land.
	coord.OnChange(func(entries []queue.Entry) {
		wsHub.Broadcast(websocket.Message{Type: websocket.FrameQueue, Data: entries})
	})

	if err := coord.Start(ctx); err != nil {
		appLogger.Fatal("Failed to start queue coordinator", logger.Err(err))
	}
	defer coord.Stop()

	sup := supervisor.New(store, registry, registry, supervisor.Config{
		GracePeriod: cfg.Queue.GracePeriod,
		Metrics:     nrApp,
	}, appLogger)
	if err := sup.Start(ctx); err != nil {
		appLogger.Fatal("Failed to start stale-session supervisor", logger.Err(err))
	}
	defer sup.Stop()

	// Initialize handlers with dependencies
	h := handlers.NewHandlers(registry, coord, rideLedger, appLogger, wsHub, nrApp)

	// Initialize Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	var nrApplication *monitoring.App
	if nrApp.IsEnabled() {
		nrApplication = nrApp
	}
	if nrApplication != nil {
		routes.SetupRoutes(router, h, nrApplication.Application)
	} else {
		routes.SetupRoutes(router, h, nil)
	}

	appLogger.Info("Routes configured successfully")

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}

	appLogger.Info("Server stopped gracefully")
}
