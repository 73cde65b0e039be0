package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/stromtracker/meterbot/internal/database"
	"github.com/stromtracker/meterbot/internal/email"
	apperrors "github.com/stromtracker/meterbot/internal/errors"
	"github.com/stromtracker/meterbot/internal/health"
	"github.com/stromtracker/meterbot/internal/jobs"
	"github.com/stromtracker/meterbot/internal/jobs/handlers"
	"github.com/stromtracker/meterbot/internal/lock"
	"github.com/stromtracker/meterbot/internal/reading"
	"github.com/stromtracker/meterbot/internal/reminder"
	"github.com/stromtracker/meterbot/internal/repository"
	"github.com/stromtracker/meterbot/internal/telegram"
	"github.com/stromtracker/meterbot/internal/verification"
	"github.com/stromtracker/meterbot/pkg/config"
	"github.com/stromtracker/meterbot/pkg/graceful"
	"github.com/stromtracker/meterbot/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meterbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.AppEnv,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log := logger.New(cfg.Logger, cfg.Sentry.Enabled)
	slog.SetDefault(log)

	log.Info("starting meterbot",
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.Server.Port),
	)

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := database.NewMigrator(db, log).ApplyDir(ctx, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	settings := repository.NewSettingsRepository(db, log)
	readings := repository.NewMeterReadingRepository(db, log)
	tariffs := repository.NewTariffRepository(db, log)
	users := repository.NewUserRepository(db, log)
	codes := repository.NewVerificationCodeRepository(db, log)
	messages := repository.NewMessageLogRepository(db, log)

	gateway := telegram.NewGateway(settings, messages, cfg.Telegram, log)
	responder := telegram.NewResponder()
	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	processor := reading.NewProcessor(readings, tariffs, lock.NewRedisLocker(redisClient, log), log)
	reporter := reading.NewReporter(readings, log)

	webhook := telegram.NewHandler(
		telegram.NewResolver(settings, log),
		telegram.NewRedisDeduper(redisClient, log),
		gateway,
		responder,
		processor,
		reporter,
		tariffs,
		users,
		errHandler,
		cfg.Telegram.WebhookSecret,
		log,
	)

	handshake := verification.NewService(codes, settings, gateway, responder, log)
	handshakeAPI := verification.NewHTTPHandler(handshake, log)

	mailer := email.NewSMTPSender(cfg.SMTP, log)
	reminderBatch := reminder.NewScheduler(
		settings, readings, mailer, gateway,
		cfg.Reminder.Parallelism, cfg.Reminder.PerCallTimeout, log,
	)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	jobScheduler := jobs.NewScheduler(redisOpt, log)
	if err := jobScheduler.RegisterTasks(cfg.Reminder.Cron); err != nil {
		return fmt.Errorf("register scheduled tasks: %w", err)
	}
	jobScheduler.Run()
	defer jobScheduler.Shutdown()

	worker := jobs.NewWorker(redisOpt, map[string]int{jobs.QueueDefault: 3, jobs.QueueLow: 1}, log)
	worker.RegisterHandler(jobs.TaskTypeReadingReminder, handlers.NewReadingReminderHandler(reminderBatch, log))
	go func() {
		if err := worker.Run(); err != nil {
			log.Error("jobs worker stopped", slog.Any("error", err))
		}
	}()
	defer worker.Shutdown()

	checker := health.NewChecker(log)
	checker.AddCheck("database", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(redisClient))

	router := chi.NewRouter()
	router.Use(logger.Middleware)
	router.Post("/telegram/webhook", webhook.ServeHTTP)
	router.Post("/api/verification/initiate", handshakeAPI.Initiate)
	router.Post("/api/verification/verify", handshakeAPI.Verify)
	router.Get("/healthz", checker.Handler())
	router.Handle("/metrics", promhttp.Handler())

	server := graceful.NewServer(log, &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}, cfg.Server.ShutdownTimeout)

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("meterbot stopped")

	return nil
}
