package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/config"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/database"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/executor"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/handlers"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/logger"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/monitor"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/publisher"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/registry"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/routes"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/scheduler"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/streampool"
)

func main() {
	// Load configuration first so the log level is configurable
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Connect to PostgreSQL
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.Migrate(db, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	reg := registry.New(db, log)

	// The stream transport is optional; without STREAM_URLS the service
	// runs queue-only.
	var pool *streampool.Pool
	var streamPub publisher.StreamPublisher
	var poolHealth handlers.PoolHealth
	subjectPrefix := ""
	if cfg.Stream.StreamEnabled() {
		streamCfg := &models.StreamConfig{
			ID:            uuid.New(),
			Name:          "default",
			URLs:          cfg.Stream.URLs,
			AuthMode:      models.StreamAuthMode(cfg.Stream.AuthMode),
			Token:         cfg.Stream.Token,
			NkeySeedFile:  cfg.Stream.NkeySeedFile,
			CredsFile:     cfg.Stream.CredsFile,
			StreamName:    cfg.Stream.StreamName,
			SubjectPrefix: cfg.Stream.SubjectPrefix,
			PoolSize:      cfg.Stream.PoolSize,
			Enabled:       true,
		}
		if err := reg.SaveStreamConfig(context.Background(), streamCfg); err != nil {
			log.Fatal("Failed to save stream config", zap.Error(err))
		}

		pool, err = streampool.New(streamCfg, log)
		if err != nil {
			log.Fatal("Failed to create stream connection pool", zap.Error(err))
		}
		defer pool.Close()
		streamPub = pool
		poolHealth = pool
		subjectPrefix = streamCfg.SubjectPrefix
	}

	exec := executor.New(db, log)
	pub := publisher.New(db, reg, streamPub, subjectPrefix, log)
	sched := scheduler.New(db, reg, exec, cfg.Scheduler.BatchSize, log)
	mon := monitor.New(db)

	// Start the scheduler runner
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := scheduler.NewRunner(
		sched,
		cfg.Scheduler.PollInterval,
		cfg.Scheduler.CleanupInterval,
		cfg.Scheduler.CleanupMaxAge,
		log,
	)
	runner.Start(ctx)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Event Delivery Service",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app,
		handlers.NewHealthHandler(db, poolHealth),
		handlers.NewEndpointsHandler(reg, log),
		handlers.NewDeliveriesHandler(pub, sched, log),
		handlers.NewStatsHandler(mon, log),
	)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	cancel()
	runner.Stop()

	log.Info("Server stopped")
}
