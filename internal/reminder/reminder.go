// Package reminder implements the end-of-month reading reminder batch.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stromtracker/meterbot/internal/domain"
	"github.com/stromtracker/meterbot/internal/email"
	"github.com/stromtracker/meterbot/internal/repository"
	"github.com/stromtracker/meterbot/pkg/metrics"
)

// Reasons a reminder becomes due.
const (
	ReasonFirstReading  = "first_reading"
	ReasonMonthRollover = "month_rollover"
)

// ChatSender is the slice of the message gateway the batch needs.
type ChatSender interface {
	Send(ctx context.Context, chatID int64, text string) bool
}

// Summary is the batch result. A user counts as sent when at least one
// channel delivered.
type Summary struct {
	Sent   int
	Failed int
	Total  int
}

// Scheduler selects due users and delivers reminders over email and
// Telegram independently.
type Scheduler struct {
	settings    repository.SettingsRepository
	readings    repository.MeterReadingRepository
	mail        email.Sender
	chat        ChatSender
	parallelism int
	callTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time
}

// NewScheduler constructs the reminder Scheduler.
func NewScheduler(
	settings repository.SettingsRepository,
	readings repository.MeterReadingRepository,
	mail email.Sender,
	chat ChatSender,
	parallelism int,
	callTimeout time.Duration,
	log *slog.Logger,
) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}

	return &Scheduler{
		settings:    settings,
		readings:    readings,
		mail:        mail,
		chat:        chat,
		parallelism: parallelism,
		callTimeout: callTimeout,
		log:         log,
		now:         time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run executes one batch. Users are processed with bounded parallelism;
// one slow provider call never stalls the rest.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	targets, err := s.settings.RemindableUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("select remindable users: %w", err)
	}

	today := s.now()

	var sent, failed, total atomic.Int64
	sem := make(chan struct{}, s.parallelism)
	var wg sync.WaitGroup

	for i := range targets {
		target := targets[i]

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			reason, due, err := s.due(ctx, &target, today)
			if err != nil {
				s.log.Error("reminder due check failed",
					slog.Int64("user_id", target.UserID), slog.Any("error", err))
				return
			}
			if !due {
				return
			}

			total.Add(1)
			if s.deliver(ctx, &target, reason) {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
		}()
	}

	wg.Wait()

	summary := &Summary{
		Sent:   int(sent.Load()),
		Failed: int(failed.Load()),
		Total:  int(total.Load()),
	}

	s.log.Info("reminder batch finished",
		slog.Int("sent", summary.Sent),
		slog.Int("failed", summary.Failed),
		slog.Int("total", summary.Total),
	)

	return summary, nil
}

// due reports whether the user needs a reminder today. A user with no
// reading ever is always due; otherwise the latest reading's month must
// lie strictly before the current month and today must have entered the
// final reminder window of the month.
func (s *Scheduler) due(ctx context.Context, target *domain.ReminderTarget, today time.Time) (string, bool, error) {
	latest, err := s.readings.FindLatest(ctx, target.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrReadingNotFound) {
			return ReasonFirstReading, true, nil
		}
		return "", false, err
	}

	if !monthBefore(latest.ReadingDate, today) {
		return "", false, nil
	}

	days := daysInMonth(today)
	windowStart := days - target.ReminderDays + 1
	if today.Day() < windowStart {
		return "", false, nil
	}

	return ReasonMonthRollover, true, nil
}

// deliver attempts both channels independently and reports whether at
// least one succeeded. Only then is the reminder timestamp persisted.
func (s *Scheduler) deliver(ctx context.Context, target *domain.ReminderTarget, reason string) bool {
	delivered := false

	if target.EmailNotifications && target.Email != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := s.mail.Send(callCtx, target.Email, emailSubject, reminderBody(target.Name, reason))
		cancel()

		if err != nil {
			metrics.RecordReminder("email", "failed")
			s.log.Error("reminder mail failed",
				slog.Int64("user_id", target.UserID), slog.Any("error", err))
		} else {
			metrics.RecordReminder("email", "sent")
			delivered = true
		}
	}

	if target.TelegramUsable() {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		ok := s.chat.Send(callCtx, target.TelegramChatID, reminderBody(target.Name, reason))
		cancel()

		if ok {
			metrics.RecordReminder("telegram", "sent")
			delivered = true
		} else {
			metrics.RecordReminder("telegram", "failed")
		}
	}

	if delivered {
		if err := s.settings.MarkReminderSent(ctx, target.UserID, s.now()); err != nil {
			s.log.Error("mark reminder sent failed",
				slog.Int64("user_id", target.UserID), slog.Any("error", err))
		}
	}

	return delivered
}

const emailSubject = "Erinnerung: Zählerstand erfassen"

func reminderBody(name, reason string) string {
	greeting := "Hallo"
	if name != "" {
		greeting = "Hallo " + name
	}

	if reason == ReasonFirstReading {
		return fmt.Sprintf(
			"%s,\n\ndu hast noch keinen Zählerstand erfasst. Trage deinen ersten Stand ein, damit Verbrauch und Kosten berechnet werden können.",
			greeting,
		)
	}

	return fmt.Sprintf(
		"%s,\n\nder Monat geht zu Ende und für diesen Monat fehlt noch ein Zählerstand. Bitte trage deinen aktuellen Stand ein.",
		greeting,
	)
}

func monthBefore(a, b time.Time) bool {
	return a.Year() < b.Year() || (a.Year() == b.Year() && a.Month() < b.Month())
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
