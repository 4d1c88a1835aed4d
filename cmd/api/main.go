package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stayledger/internal/api"
	"stayledger/internal/config"
	"stayledger/internal/database"
	"stayledger/internal/domain"
	"stayledger/internal/events"
	"stayledger/internal/export"
	"stayledger/internal/gateway"
	"stayledger/internal/jobs"
	"stayledger/internal/logging"
	"stayledger/internal/metrics"
	"stayledger/internal/notify"
	"stayledger/internal/repository"
	"stayledger/internal/service"
	"stayledger/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	state := initStateRepository(cfg, redisClient, &logger)

	bus := events.NewEventBus()
	if fwd := initKafka(cfg, &logger); fwd != nil {
		fwd.Attach(bus)
		defer fwd.Close()
	}

	notificationWorker, err := initNotifications(cfg, db, redisClient, &logger)
	if err != nil {
		return err
	}
	service.NewNotificationService(notificationWorker, &logger).Attach(bus)
	go notificationWorker.Start(ctx)

	payments := service.NewPaymentService(db, initGateway(cfg, &logger), state, bus, service.PaymentConfig{
		ConfirmLockTTL:     cfg.Booking.ConfirmLockTTL,
		GatewayTimeout:     cfg.Gateway.Timeout,
		CheckoutSessionTTL: cfg.Booking.CheckoutSessionTTL,
		IsAdmin:            cfg.IsAdmin,
	}, &logger)
	bookings := service.NewBookingService(db, state, payments, bus, service.BookingConfig{
		CheckoutSessionTTL: cfg.Booking.CheckoutSessionTTL,
		CreateRateLimit:    cfg.Booking.CreateRateLimit,
		CreateRateWindow:   cfg.Booking.CreateRateWindow,
		IsAdmin:            cfg.IsAdmin,
	}, &logger)
	reconciler := service.NewReconciler(db, cfg.IsAdmin, &logger)

	svc := api.Services{
		Availability: service.NewAvailabilityService(db, &logger),
		Bookings:     bookings,
		Payments:     payments,
		Reconciler:   reconciler,
		Reviews:      service.NewReviewService(db, bus, cfg.Credits.ReviewSNSAward, &logger),
		Exporter:     export.NewLedgerExporter(db, cfg.Exports.Path, &logger),
		DB:           db,
		IsAdmin:      cfg.IsAdmin,
	}

	if cfg.Jobs.Enabled {
		scheduler := jobs.NewScheduler(&logger)
		deps := jobs.Deps{
			Bookings:      bookings,
			Checkouts:     bookings,
			Reconciler:    reconciler,
			Notifications: notificationWorker,
			Backup:        database.NewBackupService(db, cfg.Backup, &logger),
		}
		if err := jobs.Register(scheduler, cfg, deps, &logger); err != nil {
			return fmt.Errorf("register jobs: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info().Strs("jobs", scheduler.Names()).Msg("background jobs scheduled")
	}

	limiter := api.NewRateLimiter(cfg.API.RateLimit)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, db, limiter, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}
	httpServer := api.NewHTTPServer(cfg.API, svc, limiter, &logger)

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// initDatabase opens the ledger and upserts the configured listing catalogue.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	for i := range cfg.Properties {
		if err := db.UpsertProperty(ctx, &cfg.Properties[i]); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed property %d: %w", cfg.Properties[i].ID, err)
		}
	}
	if n := len(cfg.Properties); n > 0 {
		logger.Info().Int("properties", n).Msg("property catalogue loaded")
	}
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initStateRepository keeps checkout sessions and locks in Redis when it is
// reachable and in process memory otherwise.
func initStateRepository(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.StateRepository {
	memory := repository.NewMemoryStateRepository(cfg.Booking.CheckoutSessionTTL)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisStateRepository(redisClient, cfg.Booking.CheckoutSessionTTL)
	return repository.NewFailoverStateRepository(primary, memory, logger)
}

func initGateway(cfg *config.Config, logger *zerolog.Logger) domain.PaymentGateway {
	if cfg.Gateway.Mode == config.GatewayModeSandbox {
		logger.Warn().Msg("payment gateway runs in sandbox mode, no money moves")
		return gateway.NewSandbox()
	}
	return gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.Timeout, logger)
}

func initKafka(cfg *config.Config, logger *zerolog.Logger) *events.KafkaForwarder {
	if !cfg.Kafka.Enabled() {
		return nil
	}
	producer, err := events.NewSyncProducer(cfg.Kafka)
	if err != nil {
		logger.Warn().Err(err).Msg("kafka unavailable, domain events stay in process")
		return nil
	}
	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka forwarding enabled")
	return events.NewKafkaForwarder(producer, cfg.Kafka.Topic, logger)
}

func initNotifications(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) (*worker.NotificationWorker, error) {
	var notifier domain.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notifications.Enabled {
		bot, err := notify.NewBot(cfg.Notifications.TelegramToken)
		if err != nil {
			return nil, err
		}
		notifier = notify.NewTelegramNotifier(bot, db, logger)
	}

	retry := worker.RetryPolicy{
		MaxRetries:   cfg.Notifications.MaxRetries,
		InitialDelay: cfg.Notifications.RetryDelay,
		MaxDelay:     cfg.Notifications.MaxRetryDelay,
	}
	return worker.NewNotificationWorker(db, notifier, redisClient, retry, cfg.Notifications.QueueSize, logger), nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go grpcServer.WatchHealth(ctx, 15*time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("grpc", grpcServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
