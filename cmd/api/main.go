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

	"timebank-escrow/config"
	httpHandler "timebank-escrow/internal/adapter/http/handler"
	"timebank-escrow/internal/adapter/http/middleware"
	kafkaMessaging "timebank-escrow/internal/adapter/messaging/kafka"
	"timebank-escrow/internal/adapter/messaging/webhook"
	memStorage "timebank-escrow/internal/adapter/storage/memory"
	mongoStorage "timebank-escrow/internal/adapter/storage/mongo"
	pgStorage "timebank-escrow/internal/adapter/storage/postgres"
	redisStorage "timebank-escrow/internal/adapter/storage/redis"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/service"
	"timebank-escrow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

// repositories is the storage backend chosen by storage.driver.
type repositories struct {
	accounts    ports.AccountRepository
	escrows     ports.EscrowRepository
	events      ports.EscrowEventRepository
	disputes    ports.DisputeRepository
	idempotency ports.IdempotencyRepository
	audit       ports.AuditRepository
	transactor  ports.DBTransactor
	health      ports.HealthChecker
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("timebank-escrow", cfg.Log.Level, cfg.Log.Pretty)

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required (TBE_JWT_SECRET)")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting TimeBank escrow service")

	ctx := context.Background()

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer repos.close()

	healthCheckers := []ports.HealthChecker{repos.health}

	// Redis is optional: idempotency fast path, scheduler lock and rate limits.
	var (
		idempCache     ports.IdempotencyCache
		schedulerLock  ports.SchedulerLock
		rateLimitStore middleware.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		idempCache = redisStorage.NewIdempotencyCache(rdb)
		schedulerLock = redisStorage.NewSchedulerLock(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Warn().Msg("Redis disabled: rate limiting off, idempotency served from the store only")
	}

	// Notification channels
	var (
		channels []ports.NotificationChannel
		inbox    ports.NotificationInbox
	)
	if cfg.Notify.Mongo.Enabled {
		mc, err := mongoStorage.Connect(ctx, cfg.Notify.Mongo, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()

		mongoInbox := mongoStorage.NewNotificationInbox(mc.Database(cfg.Notify.Mongo.Database).Collection(cfg.Notify.Mongo.Collection))
		channels = append(channels, mongoInbox)
		inbox = mongoInbox
		healthCheckers = append(healthCheckers, mongoStorage.NewHealthCheck(mc))
	} else {
		memInbox := memStorage.NewNotificationInbox()
		channels = append(channels, memInbox)
		inbox = memInbox
	}
	if cfg.Notify.Kafka.Enabled {
		writer, err := kafkaMessaging.NewWriter(cfg.Notify.Kafka, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Kafka writer")
		}
		publisher := kafkaMessaging.NewNotificationPublisher(writer, cfg.Notify.Kafka.Topic, log)
		defer func() { _ = publisher.Close() }()
		channels = append(channels, publisher)
	}

	if cfg.Notify.Webhook.Enabled {
		channels = append(channels, webhook.NewChannel(
			cfg.Notify.Webhook.URL,
			cfg.Notify.Webhook.Secret,
			&http.Client{Timeout: cfg.Notify.Webhook.Timeout},
		))
	}

	dispatcher := service.NewNotificationDispatcher(channels, cfg.Notify.RetryIntervals, log)

	// Core services
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(repos.audit, log)
	ledger := service.NewEscrowLedger(
		repos.accounts,
		repos.escrows,
		repos.events,
		repos.disputes,
		repos.idempotency,
		idempCache,
		repos.transactor,
		dispatcher,
		service.LedgerConfig{
			HoldWindow:     cfg.Escrow.HoldWindow,
			IdempotencyTTL: cfg.Escrow.IdempotencyTTL,
		},
		log,
	)
	resolver := service.NewDisputeResolver(ledger, repos.disputes, repos.escrows, dispatcher, auditSvc, log)
	accountSvc := service.NewAccountService(repos.accounts, log)
	reportingSvc := service.NewReportingService(repos.escrows, repos.accounts, inbox)

	// Auto-release scheduler
	var scheduler *service.AutoReleaseScheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = service.NewAutoReleaseScheduler(repos.escrows, ledger, schedulerLock, service.SchedulerConfig{
			Schedule:  cfg.Scheduler.Schedule,
			BatchSize: cfg.Scheduler.BatchSize,
			Workers:   cfg.Scheduler.Workers,
			LockTTL:   cfg.Scheduler.LockTTL,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize auto-release scheduler")
		}
		if err := scheduler.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start auto-release scheduler")
		}
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	gin.SetMode(cfg.Server.Mode)
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:         ledger,
		Resolver:       resolver,
		AccountSvc:     accountSvc,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		AuditSvc:       auditSvc,
		HealthCheckers: healthCheckers,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		MetricsPath:    metricsPath,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending notifications dropped on shutdown")
	}

	log.Info().Msg("Server exited")
}

// openStorage connects the configured backend and applies migrations for postgres.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn().Msg("Using in-memory storage: balances and escrows are lost on restart")
		store := memStorage.NewStore()
		return &repositories{
			accounts:    store.Accounts(),
			escrows:     store.Escrows(),
			events:      store.Events(),
			disputes:    store.Disputes(),
			idempotency: store.Idempotency(),
			audit:       store.Audit(),
			transactor:  store,
			health:      store,
			close:       func() {},
		}, nil
	}

	if err := pgStorage.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info().Str("path", cfg.Database.MigrationsPath).Msg("Database migrations applied")

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return &repositories{
		accounts:    pgStorage.NewAccountRepo(pool),
		escrows:     pgStorage.NewEscrowRepo(pool),
		events:      pgStorage.NewEventRepo(pool),
		disputes:    pgStorage.NewDisputeRepo(pool),
		idempotency: pgStorage.NewIdempotencyRepo(pool),
		audit:       pgStorage.NewAuditRepo(pool),
		transactor:  pgStorage.NewTransactor(pool),
		health:      pgStorage.NewHealthCheck(pool),
		close:       pool.Close,
	}, nil
}
