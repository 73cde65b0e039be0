package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stromtracker/meterbot/internal/domain"
)

// ErrSettingsNotFound indicates that no notification settings row matched.
var ErrSettingsNotFound = errors.New("notification settings not found")

// SettingsRepository defines persistence operations for notification
// settings and the reminder selection query.
type SettingsRepository interface {
	FindByChatID(ctx context.Context, chatID int64) (*domain.NotificationSettings, error)
	FindByUserID(ctx context.Context, userID int64) (*domain.NotificationSettings, error)
	SetChatID(ctx context.Context, userID, chatID int64) error
	MarkVerified(ctx context.Context, userID int64) error
	RemindableUsers(ctx context.Context) ([]domain.ReminderTarget, error)
	MarkReminderSent(ctx context.Context, userID int64, sentAt time.Time) error
}

type settingsRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSettingsRepository creates a SQL-backed settings repository.
func NewSettingsRepository(db *sql.DB, log *slog.Logger) SettingsRepository {
	return &settingsRepository{db: db, log: log}
}

const settingsColumns = `
	user_id, telegram_enabled, telegram_bot_token, telegram_bot_username,
	COALESCE(telegram_chat_id, 0), telegram_verified, email_notifications,
	reading_reminder_enabled, reading_reminder_days, last_reminder_sent_at,
	updated_at
`

// FindByChatID resolves settings by the provider-assigned chat identifier.
func (r *settingsRepository) FindByChatID(ctx context.Context, chatID int64) (*domain.NotificationSettings, error) {
	query := `
		SELECT ` + settingsColumns + `
		FROM notification_settings
		WHERE telegram_chat_id = $1
	`

	return r.queryOne(ctx, query, chatID)
}

// FindByUserID returns the settings row owned by the user.
func (r *settingsRepository) FindByUserID(ctx context.Context, userID int64) (*domain.NotificationSettings, error) {
	query := `
		SELECT ` + settingsColumns + `
		FROM notification_settings
		WHERE user_id = $1
	`

	return r.queryOne(ctx, query, userID)
}

// SetChatID stores the chat id against the user and resets the verified
// flag; verification happens separately through the handshake.
func (r *settingsRepository) SetChatID(ctx context.Context, userID, chatID int64) error {
	const query = `
		UPDATE notification_settings
		SET telegram_chat_id = $1, telegram_verified = FALSE, updated_at = $2
		WHERE user_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, chatID, time.Now().UTC(), userID)
	if err != nil {
		r.logError("set chat id", userID, err)
		return fmt.Errorf("set chat id: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrSettingsNotFound
	}

	return nil
}

// MarkVerified flips the verified flag after a successful handshake.
func (r *settingsRepository) MarkVerified(ctx context.Context, userID int64) error {
	const query = `
		UPDATE notification_settings
		SET telegram_verified = TRUE, updated_at = $1
		WHERE user_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		r.logError("mark verified", userID, err)
		return fmt.Errorf("mark verified: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrSettingsNotFound
	}

	return nil
}

// RemindableUsers selects every user eligible for a reading reminder on
// at least one channel.
func (r *settingsRepository) RemindableUsers(ctx context.Context) ([]domain.ReminderTarget, error) {
	const query = `
		SELECT u.id, u.name, u.email,
			s.email_notifications, s.telegram_enabled, s.telegram_verified,
			COALESCE(s.telegram_chat_id, 0), s.reading_reminder_days
		FROM notification_settings s
		JOIN users u ON u.id = s.user_id
		WHERE s.reading_reminder_enabled = TRUE
			AND (s.email_notifications = TRUE
				OR (s.telegram_enabled = TRUE AND s.telegram_verified = TRUE))
		ORDER BY u.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logError("remindable users", 0, err)
		return nil, fmt.Errorf("select remindable users: %w", err)
	}
	defer rows.Close()

	var targets []domain.ReminderTarget
	for rows.Next() {
		var t domain.ReminderTarget
		if err := rows.Scan(
			&t.UserID,
			&t.Name,
			&t.Email,
			&t.EmailNotifications,
			&t.TelegramEnabled,
			&t.TelegramVerified,
			&t.TelegramChatID,
			&t.ReminderDays,
		); err != nil {
			return nil, fmt.Errorf("scan remindable user: %w", err)
		}
		targets = append(targets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate remindable users: %w", err)
	}

	return targets, nil
}

// MarkReminderSent records the delivery timestamp after at least one
// channel succeeded.
func (r *settingsRepository) MarkReminderSent(ctx context.Context, userID int64, sentAt time.Time) error {
	const query = `
		UPDATE notification_settings
		SET last_reminder_sent_at = $1, updated_at = $1
		WHERE user_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, sentAt.UTC(), userID); err != nil {
		r.logError("mark reminder sent", userID, err)
		return fmt.Errorf("mark reminder sent: %w", err)
	}

	return nil
}

func (r *settingsRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.NotificationSettings, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	var s domain.NotificationSettings
	err := row.Scan(
		&s.UserID,
		&s.TelegramEnabled,
		&s.TelegramBotToken,
		&s.TelegramBotUsername,
		&s.TelegramChatID,
		&s.TelegramVerified,
		&s.EmailNotifications,
		&s.ReadingReminderEnabled,
		&s.ReadingReminderDays,
		&s.LastReminderSentAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("select notification settings: %w", err)
	}

	return &s, nil
}

func (r *settingsRepository) logError(op string, userID int64, err error) {
	if r.log == nil || err == nil {
		return
	}

	r.log.Error("settings repository failure",
		slog.String("operation", op),
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)
}
