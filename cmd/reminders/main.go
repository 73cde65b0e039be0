// Command reminders runs one reading reminder batch and exits. It is the
// cron-friendly alternative to the in-process scheduler; the exit code is
// non-zero when at least one user could not be reached on any channel.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/stromtracker/meterbot/internal/email"
	"github.com/stromtracker/meterbot/internal/reminder"
	"github.com/stromtracker/meterbot/internal/repository"
	"github.com/stromtracker/meterbot/internal/telegram"
	"github.com/stromtracker/meterbot/pkg/config"
	"github.com/stromtracker/meterbot/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	summary, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reminders: %v\n", err)
		os.Exit(1)
	}

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func run() (*reminder.Summary, error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logger, false)
	slog.SetDefault(log)

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	settings := repository.NewSettingsRepository(db, log)
	readings := repository.NewMeterReadingRepository(db, log)
	messages := repository.NewMessageLogRepository(db, log)

	gateway := telegram.NewGateway(settings, messages, cfg.Telegram, log)
	mailer := email.NewSMTPSender(cfg.SMTP, log)

	batch := reminder.NewScheduler(
		settings, readings, mailer, gateway,
		cfg.Reminder.Parallelism, cfg.Reminder.PerCallTimeout, log,
	)

	summary, err := batch.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run reminder batch: %w", err)
	}

	log.Info("reminder batch summary",
		slog.Int("sent", summary.Sent),
		slog.Int("failed", summary.Failed),
		slog.Int("total", summary.Total),
	)

	return summary, nil
}
