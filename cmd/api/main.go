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

	"fitpass/internal/api"
	"fitpass/internal/config"
	"fitpass/internal/database"
	"fitpass/internal/domain"
	"fitpass/internal/events"
	"fitpass/internal/logging"
	"fitpass/internal/metrics"
	"fitpass/internal/models"
	"fitpass/internal/notify"
	"fitpass/internal/pass"
	"fitpass/internal/payment"
	"fitpass/internal/report"
	"fitpass/internal/repository"
	"fitpass/internal/service"
	"fitpass/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
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

	db, err := database.NewDB(cfg.Database.Path, logging.Component(&logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listings := service.NewListingService(db, logging.Component(&logger, "listings"))
	if err := seedCatalog(ctx, cfg, listings, &logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}
	intents := initIntentStore(redisClient, &logger)

	gateway, err := payment.NewHTTPGateway(cfg.Payment, logging.Component(&logger, "gateway"))
	if err != nil {
		return err
	}
	verifier, err := payment.NewVerifier(cfg.Payment.KeySecret)
	if err != nil {
		return err
	}
	tokens, err := pass.NewTokenSealer(cfg.Pass.TokenKey)
	if err != nil {
		return err
	}
	codes := pass.NewCodeGenerator(cfg.Booking.CodePrefix, cfg.Booking.CodeLength)

	bus := events.NewEventBus(logging.Component(&logger, "events"))
	bus.Subscribe(events.Wildcard, events.LogSubscriber(logging.Component(&logger, "events")))

	orders := service.NewOrderService(db, gateway, intents, bus, service.OrderConfig{
		Currency:    cfg.Payment.Currency,
		IntentTTL:   cfg.Payment.IntentTTL,
		OrderLimit:  cfg.Payment.OrderLimit,
		OrderWindow: cfg.Payment.OrderWindow,
	}, logging.Component(&logger, "orders"))

	bookings := service.NewBookingService(db, verifier, intents, codes, tokens, bus, service.BookingConfig{
		PlatformFeeBps:  cfg.Booking.PlatformFeeBps,
		CodeMaxAttempts: cfg.Booking.CodeMaxAttempts,
		Currency:        cfg.Payment.Currency,
		Provider:        cfg.Payment.Provider,
	}, logging.Component(&logger, "bookings"))
	defer bookings.Wait()

	dispatcher := buildDispatcher(cfg, &logger)
	notificationWorker := worker.NewNotificationWorker(db, db, dispatcher, redisClient, worker.RetryPolicy{
		MaxRetries: cfg.Worker.MaxRetries,
	}, logging.Component(&logger, "notification-worker"))
	notificationWorker.SetPollInterval(cfg.Worker.PollInterval)
	if dispatcher.Len() > 0 {
		bookings.SetNotifier(dispatcher, notificationWorker)
		go notificationWorker.Start(ctx)
	}

	sweeper := worker.NewExpirySweeper(db, cfg.Worker.ExpiryInterval, logging.Component(&logger, "expiry"))
	go sweeper.Start(ctx)

	backups := database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup"))
	go backups.Start(ctx)

	startMetrics(ctx, cfg, &logger)

	admin := service.NewAdminService(db, bus, logging.Component(&logger, "admin"))
	admin.SetNotificationStore(db)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Listings: listings,
		Orders:   orders,
		Bookings: bookings,
		CheckIns: service.NewCheckInService(db, tokens, bus, logging.Component(&logger, "checkins")),
		Admin:    admin,
		Reports:  report.NewExporter(db, cfg.Exports.Path, logging.Component(&logger, "reports")),
		Health:   db,
	}, cfg.Pass.QRWidth, logging.Component(&logger, "http"))

	return serve(ctx, httpServer, cfg, &logger)
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

func seedCatalog(ctx context.Context, cfg *config.Config, listings *service.ListingService, logger *zerolog.Logger) error {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = cfg.Booking.CatalogPath
	}
	if catalogPath == "" {
		return nil
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("catalog_path", catalogPath).Msg("catalog file not found, skipping seed")
			return nil
		}
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("read catalog")
		return err
	}

	var catalog struct {
		Listings []*models.Listing `yaml:"listings"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("parse catalog")
		return err
	}

	n, err := listings.SeedCatalog(ctx, catalog.Listings)
	if err != nil {
		return err
	}
	logger.Info().Int("listings", n).Str("catalog_path", catalogPath).Msg("catalog seeded")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with in-memory intents")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initIntentStore(client *redis.Client, logger *zerolog.Logger) domain.IntentStore {
	memory := repository.NewMemoryIntentStore()
	if client == nil {
		return memory
	}
	return repository.NewFailoverIntentStore(repository.NewRedisIntentStore(client), memory,
		logging.Component(logger, "intents"))
}

func buildDispatcher(cfg *config.Config, logger *zerolog.Logger) *notify.Dispatcher {
	dispatcher := notify.NewDispatcher(logging.Component(logger, "notify"))

	if cfg.Notification.Email.Enabled {
		email, err := notify.NewEmailNotifier(cfg.Notification.Email, logging.Component(logger, "email"))
		if err != nil {
			logger.Warn().Err(err).Msg("email notifications disabled")
		} else {
			dispatcher.Add("email", email)
		}
	}

	if cfg.Notification.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(cfg.Notification.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifications disabled")
		} else {
			dispatcher.Add("telegram", notify.NewTelegramNotifier(bot, cfg.Notification.Telegram.ChatID,
				logging.Component(logger, "telegram")))
		}
	}

	return dispatcher
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

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
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
