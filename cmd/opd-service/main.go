package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AjayDigitalDreamworks/medicure/internal/config"
	"github.com/AjayDigitalDreamworks/medicure/internal/engine"
	"github.com/AjayDigitalDreamworks/medicure/internal/httpapi"
	"github.com/AjayDigitalDreamworks/medicure/internal/jobs"
	"github.com/AjayDigitalDreamworks/medicure/internal/notify"
	"github.com/AjayDigitalDreamworks/medicure/internal/stats"
	"github.com/AjayDigitalDreamworks/medicure/internal/store"
	"github.com/AjayDigitalDreamworks/medicure/internal/store/memory"
	"github.com/AjayDigitalDreamworks/medicure/internal/store/postgres"
	"github.com/AjayDigitalDreamworks/medicure/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	shutdownTracing := telemetry.Setup("opd-service", logger)

	var st store.Store
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db connect")
		}
		defer pool.Close()
		st = postgres.NewStore(pool, postgres.Options{AvgMinutesPerPatient: cfg.AvgMinutesPerPatient})
	} else {
		logger.Warn().Msg("DB_DSN not set, using in-memory store")
		st = memory.NewStore(memory.Options{AvgMinutesPerPatient: cfg.AvgMinutesPerPatient})
	}

	var statsSource engine.StatsSource
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, stats served uncached")
		} else {
			defer client.Close()
			statsSource = stats.NewCache(st, client, cfg.StatsCacheTTL, logger)
		}
	}

	dispatcher := notify.NewDispatcher(logger, notify.Options{
		Timeout:       cfg.NotifyTimeout,
		MaxInFlight:   cfg.NotifyMaxInFlight,
		EmailProvider: notify.NewProvider(cfg.EmailProvider, "email", logger),
		SMSProvider:   notify.NewProvider(cfg.SMSProvider, "sms", logger),
	})

	eng := engine.New(st, statsSource, dispatcher, logger)

	handler := httpapi.NewHandler(eng)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	routes := httpapi.LoggingMiddleware(logger)(limiter.Middleware(handler.Routes()))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(routes, "opd-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := cron.New()
	reminders := jobs.NewReminders(st, dispatcher, logger)
	if err := reminders.Schedule(scheduler, cfg.ReminderCron); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.ReminderCron).Msg("invalid reminder schedule")
	}
	scheduler.Start()

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("opd-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	<-scheduler.Stop().Done()
	dispatcher.Close()
	if err := shutdownTracing(ctx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}
	logger.Info().Msg("opd-service stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "opd-service").Logger()
}
