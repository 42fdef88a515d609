package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/hgschmie/broccolai-tickets/internal/api/http"
	"github.com/hgschmie/broccolai-tickets/internal/api/http/handlers"
	"github.com/hgschmie/broccolai-tickets/internal/auth"
	"github.com/hgschmie/broccolai-tickets/internal/cache"
	"github.com/hgschmie/broccolai-tickets/internal/config"
	"github.com/hgschmie/broccolai-tickets/internal/events"
	"github.com/hgschmie/broccolai-tickets/internal/lock"
	"github.com/hgschmie/broccolai-tickets/internal/observability"
	"github.com/hgschmie/broccolai-tickets/internal/persistence"
	"github.com/hgschmie/broccolai-tickets/internal/presence"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
	"github.com/hgschmie/broccolai-tickets/internal/service"
	"github.com/hgschmie/broccolai-tickets/internal/worker"
)

type stores struct {
	tickets       repository.TicketRepository
	notifications repository.NotificationRepository
	settings      repository.SettingsRepository
	health        map[string]handlers.Pinger
	close         func()
}

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	consoleUser, err := cfg.App.ConsoleUser()
	if err != nil {
		logger.Fatal("invalid console user", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer st.close()
	if *migrateOnly {
		logger.Info("migrations applied", zap.String("backend", cfg.Storage.Backend))
		return
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redis.Close()

	var (
		locks   lock.Locker = lock.NewKeyedMutex()
		tracker presence.Tracker
	)
	if redis != nil {
		locks = lock.NewRedisLocker(redis.Client, cfg.Redis.LockTTL(), logger)
		tracker = presence.NewRedisTracker(redis.Client, cfg.Redis.PresenceTTL())
		st.health["redis"] = redis
	} else {
		tracker = presence.NewMemoryTracker()
	}

	metrics := observability.NewMetrics()
	ticketCache, err := cache.New(st.tickets, cfg.Cache.ClosedCapacity, metrics)
	if err != nil {
		logger.Fatal("failed to build cache", zap.Error(err))
	}

	pool := worker.NewPool(cfg.Notification.Workers, cfg.Notification.QueueSize, logger)
	pool.Start(ctx)
	dispatcher := events.NewInMemoryDispatcher(pool, logger)

	modify := service.NewModificationService(service.ModificationDependencies{
		TicketRepo:     st.tickets,
		Cache:          ticketCache,
		Locks:          locks,
		Dispatcher:     dispatcher,
		StorageTimeout: cfg.Storage.Timeout(),
		LockTimeout:    cfg.Modification.LockTimeout(),
		ReloadOnWrite:  redis != nil,
		Logger:         logger,
		Metrics:        metrics,
	})
	read := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     st.tickets,
		Cache:          ticketCache,
		StorageTimeout: cfg.Storage.Timeout(),
	})

	notifyDeps := service.NotificationDependencies{
		PendingRepo:  st.notifications,
		SettingsRepo: st.settings,
		Presence:     tracker,
		Dispatcher:   dispatcher,
		Locks:        locks,
		ConsoleUser:  consoleUser,
		Logger:       logger,
		Metrics:      metrics,
	}
	if cfg.Notification.WebhookURL != "" {
		notifyDeps.Sink = service.WebhookSink{URL: cfg.Notification.WebhookURL, Timeout: cfg.Notification.WebhookTimeout()}
		notifyDeps.SinkName = "webhook"
	}
	notifications := service.NewNotificationService(notifyDeps)
	notifications.RegisterHandlers()
	retryDone := worker.StartNotificationWorker(ctx, notifications, cfg.Notification.RetryInterval(), logger)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: cfg.App.Env == "production",
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, st.health),
		Tickets:        handlers.NewTicketsHandler(modify, read),
		StaffTickets:   handlers.NewStaffTicketsHandler(modify, read),
		Presence:       handlers.NewPresenceHandler(notifications, service.NewSettingsService(st.settings)),
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	pool.Stop()
	cancel()
	<-retryDone
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Storage.Backend == config.BackendPostgres {
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		pool := pg.PoolHandle()
		return &stores{
			tickets:       repository.NewTicketRepository(pool),
			notifications: repository.NewNotificationRepository(pool),
			settings:      repository.NewSettingsRepository(pool),
			health:        map[string]handlers.Pinger{"postgres": pg},
			close:         pg.Close,
		}, nil
	}

	db, err := persistence.OpenSQLite(ctx, cfg.Storage.SQLitePath, logger)
	if err != nil {
		return nil, err
	}
	return &stores{
		tickets:       repository.NewSQLiteTicketRepository(db.DB),
		notifications: repository.NewSQLiteNotificationRepository(db.DB),
		settings:      repository.NewSQLiteSettingsRepository(db.DB),
		health:        map[string]handlers.Pinger{"sqlite": db},
		close:         db.Close,
	}, nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
