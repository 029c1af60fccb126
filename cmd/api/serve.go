package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/property-service/internal/api/http"
	"github.com/spec-kit/property-service/internal/api/http/handlers"
	"github.com/spec-kit/property-service/internal/auth"
	"github.com/spec-kit/property-service/internal/config"
	"github.com/spec-kit/property-service/internal/events"
	"github.com/spec-kit/property-service/internal/idempotency"
	"github.com/spec-kit/property-service/internal/observability"
	"github.com/spec-kit/property-service/internal/persistence"
	"github.com/spec-kit/property-service/internal/queue"
	"github.com/spec-kit/property-service/internal/realtime"
	"github.com/spec-kit/property-service/internal/repository"
	"github.com/spec-kit/property-service/internal/service"
	"github.com/spec-kit/property-service/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// bootstrap loads configuration and the logger shared by every command.
func bootstrap() (*config.Config, *zap.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	return cfg, logger
}

// jobSources builds one queue reader per configured queue.
func jobSources(cfg *config.Config, redis *persistence.Redis) []service.JobSource {
	sources := make([]service.JobSource, 0, len(cfg.Jobs.Queues))
	for _, name := range cfg.Jobs.Queues {
		sources = append(sources, queue.NewRedisQueue(redis.Client, cfg.Jobs.KeyPrefix, name))
	}
	return sources
}

func runServe(parent context.Context) error {
	cfg, logger := bootstrap()
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.Enabled() {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		ticketRepo   repository.TicketRepository
		timelineRepo repository.TimelineRepository
	)
	if pg.Enabled() {
		ticketRepo = repository.NewTicketRepository(pg.PoolHandle())
		timelineRepo = repository.NewTimelineRepository(pg.PoolHandle())
	} else {
		memory := repository.NewMemoryStore()
		ticketRepo, timelineRepo = memory, memory
	}

	var idemStore idempotency.Store
	switch cfg.Bulk.IdempotencyStore {
	case "memory":
		idemStore = idempotency.NewMemoryStore()
	case "redis":
		idemStore = idempotency.NewRedisStore(redis.Client, "idempotency:bulk:")
	default:
		return fmt.Errorf("unknown IDEMPOTENCY_STORE %q", cfg.Bulk.IdempotencyStore)
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   ticketRepo,
		TimelineRepo: timelineRepo,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	bulkService := service.NewBulkService(service.BulkDependencies{
		TicketRepo:       ticketRepo,
		IdempotencyStore: idemStore,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		Logger:           logger,
		MaxItems:         cfg.Bulk.MaxItems,
		IdempotencyTTL:   cfg.Bulk.IdempotencyTTL(),
	})
	inspector := service.NewJobInspector(jobSources(cfg, redis), cfg.Jobs.HistoryLimit, logger)

	notifications := queue.NewRedisQueue(redis.Client, cfg.Jobs.KeyPrefix, cfg.Notification.Queue)
	notifier := worker.StartNotificationWorker(service.NewNotificationService(dispatcher, notifications, logger, cfg.Notification), cfg.Notification, logger)

	hub := realtime.NewHub(dispatcher, cfg.Events.BufferSize, cfg.Events.Heartbeat(), logger)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Bulk:           handlers.NewBulkHandler(bulkService, cfg.Bulk.MaxItems, httptransport.BulkResultKey),
		Jobs:           handlers.NewJobsHandler(inspector),
		Events:         hub.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	hub.Close()
	if err := app.Shutdown(); err != nil {
		return err
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := notifier.Stop(drainCtx); err != nil {
		logger.Warn("notification jobs left undelivered", zap.Error(err))
	}
	return nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
