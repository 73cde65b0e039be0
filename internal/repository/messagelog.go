package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/stromtracker/meterbot/internal/domain"
)

// MessageLogRepository appends outbound delivery attempts. Entries are
// never updated or read back by business logic.
type MessageLogRepository interface {
	Insert(ctx context.Context, entry *domain.MessageLogEntry) error
}

type messageLogRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewMessageLogRepository creates a SQL-backed message log repository.
func NewMessageLogRepository(db *sql.DB, log *slog.Logger) MessageLogRepository {
	return &messageLogRepository{db: db, log: log}
}

// Insert appends one delivery attempt record.
func (r *messageLogRepository) Insert(ctx context.Context, entry *domain.MessageLogEntry) error {
	const query = `
		INSERT INTO telegram_message_log
			(chat_id, text, provider_message_id, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.ChatID,
		entry.Text,
		entry.ProviderMessageID,
		entry.Status,
		entry.Error,
		createdAt,
	)
	if err != nil {
		if r.log != nil {
			r.log.Error("failed to append message log", slog.Int64("chat_id", entry.ChatID), slog.Any("error", err))
		}
		return fmt.Errorf("insert message log: %w", err)
	}

	return nil
}
