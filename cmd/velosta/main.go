package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"velosta/internal/api"
	"velosta/internal/availability"
	"velosta/internal/booking"
	"velosta/internal/config"
	"velosta/internal/crmapi"
	"velosta/internal/database"
	"velosta/internal/directory"
	"velosta/internal/events"
	"velosta/internal/metrics"
	"velosta/internal/notify"
	"velosta/internal/phone"
	"velosta/internal/reminders"
	"velosta/internal/settlement"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// backend is what both the sqlite store and the remote client provide.
type backend interface {
	api.Backend
	booking.Store
	settlement.Store
}

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load(os.Getenv("VELOSTA_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	var store backend
	var freshBikes directory.BikeSource
	switch cfg.Backend.Mode {
	case config.BackendRemote:
		client := crmapi.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.APIExtra, cfg.BackendTimeout(), logger)
		if rdb != nil && cfg.BackendCacheTTL() > 0 {
			client.UseRedisCache(rdb, cfg.BackendCacheTTL())
		}
		client.UseRateLimit(cfg.Backend.RatePerSecond, cfg.Backend.Burst)
		store = client
		freshBikes = client.Fresh()
		logger.Info().Str("base_url", cfg.Backend.BaseURL).Msg("using remote backend")
	default:
		db, err := database.NewDB(cfg.Database.Path, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db error")
		}
		defer db.Close()
		store = db
		freshBikes = db

		if cfg.Booking.FleetPath != "" {
			watcher := config.NewFleetWatcher(cfg.Booking.FleetPath, cfg.FleetReloadInterval(), logger, func(f *config.FleetConfig) {
				n, err := db.UpsertBikes(ctx, f.Models())
				if err != nil {
					logger.Error().Err(err).Msg("failed to sync fleet")
					return
				}
				logger.Info().Int("bikes", n).Msg("fleet synced")
			})
			if err := watcher.Start(ctx); err != nil {
				logger.Fatal().Err(err).Str("path", cfg.Booking.FleetPath).Msg("failed to load fleet")
			}
		}

		backups := database.NewBackupService(db, database.BackupConfig{
			Enabled:       cfg.Backup.Enabled,
			Schedule:      cfg.Backup.Schedule,
			StoragePath:   cfg.Backup.Path,
			RetentionDays: cfg.Backup.RetentionDays,
		}, &logger)
		if err := backups.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start backups")
		}
	}

	phones, err := phone.NewNormalizer(cfg.Booking.DefaultCountryCode, cfg.Booking.SubscriberDigits)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid phone settings")
	}
	loc, err := cfg.RemindersLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}
	formatter := notify.NewFormatter(phones, cfg.Booking.CurrencySymbol, loc)

	bus := events.NewBus(logger)
	var reminderMetrics *reminders.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.Subscribe(bus)
		reminderMetrics = reminders.NewMetrics("velosta", prometheus.DefaultRegisterer)
	}

	var tg *notify.Telegram
	if cfg.Telegram.BotToken != "" {
		tg, err = notify.New(cfg.Telegram.BotToken, cfg.Telegram.Debug, cfg.Telegram.ChatIDs, formatter, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram client error")
		}
		tg.Subscribe(bus)
		defer tg.Wait()
	}

	catalog := directory.New(store, logger)
	dir := directory.New(freshBikes, logger)
	resolver := availability.NewResolver(store)
	reconciler := booking.New(dir, store, phones, logger,
		booking.WithPublisher(bus),
		booking.WithMaxAdjustAttempts(cfg.Booking.MaxAdjustAttempts),
	)
	settle := settlement.New(store, bus, logger)

	if cfg.Reminders.Enabled && tg != nil {
		rlog := reminders.ZerologLogger{L: logger.With().Str("component", "reminders").Logger()}
		sender := reminders.NewSender(tg, cfg.Reminders.PerSecond, reminders.DefaultRetryConfig(), reminderMetrics, rlog)
		scheduler, err := reminders.NewScheduler(reminders.SchedulerConfig{
			Schedule:  cfg.RemindersSchedule(),
			DueWithin: cfg.RemindersDueWithin(),
			Location:  loc,
			ChatIDs:   tg.ChatIDs(),
		}, store, sender, formatter, reminderMetrics, rlog)
		if err != nil {
			logger.Fatal().Err(err).Msg("create reminder scheduler error")
		}
		scheduler.Start(ctx)
	}

	ready := map[string]func(context.Context) error{}
	if rdb != nil {
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	server := api.NewHTTPServer(api.Config{
		Port:     cfg.Server.Port,
		APIKey:   cfg.Server.APIKey,
		APIExtra: cfg.Server.APIExtra,
		Currency: cfg.Booking.CurrencyCode,
		Location: loc,
	}, api.Deps{
		Backend:    store,
		Directory:  dir,
		Catalog:    catalog,
		Resolver:   resolver,
		Reconciler: reconciler,
		Settlement: settle,
		Events:     bus,
		Ready:      ready,
	}, logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Str("mode", cfg.Backend.Mode).Msg("velosta started")
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
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
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
