package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stromtracker/meterbot/internal/domain"
)

// ErrNoPendingCode indicates that the user has no pending verification code.
var ErrNoPendingCode = errors.New("no pending verification code")

// VerificationCodeRepository stores the single pending handshake code per
// user. Issuing a new code replaces any previous pending one.
type VerificationCodeRepository interface {
	UpsertPending(ctx context.Context, code *domain.VerificationCode) error
	FindPending(ctx context.Context, userID int64) (*domain.VerificationCode, error)
	MarkUsed(ctx context.Context, userID int64) error
}

type verificationCodeRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewVerificationCodeRepository creates a SQL-backed code repository.
func NewVerificationCodeRepository(db *sql.DB, log *slog.Logger) VerificationCodeRepository {
	return &verificationCodeRepository{db: db, log: log}
}

// UpsertPending stores code as the sole pending code for the user.
func (r *verificationCodeRepository) UpsertPending(ctx context.Context, code *domain.VerificationCode) error {
	const query = `
		INSERT INTO verification_codes (user_id, code, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET code = $2, status = $3, created_at = $4, expires_at = $5
	`

	_, err := r.db.ExecContext(ctx, query,
		code.UserID,
		code.Code,
		domain.CodeStatusPending,
		code.CreatedAt.UTC(),
		code.ExpiresAt.UTC(),
	)
	if err != nil {
		r.logError("upsert pending code", code.UserID, err)
		return fmt.Errorf("upsert verification code: %w", err)
	}

	return nil
}

// FindPending returns the user's pending code, if one exists.
func (r *verificationCodeRepository) FindPending(ctx context.Context, userID int64) (*domain.VerificationCode, error) {
	const query = `
		SELECT user_id, code, status, created_at, expires_at
		FROM verification_codes
		WHERE user_id = $1 AND status = $2
	`

	row := r.db.QueryRowContext(ctx, query, userID, domain.CodeStatusPending)

	var code domain.VerificationCode
	err := row.Scan(&code.UserID, &code.Code, &code.Status, &code.CreatedAt, &code.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoPendingCode
		}

		r.logError("find pending code", userID, err)
		return nil, fmt.Errorf("select verification code: %w", err)
	}

	return &code, nil
}

// MarkUsed consumes the pending code so it can never match again.
func (r *verificationCodeRepository) MarkUsed(ctx context.Context, userID int64) error {
	const query = `
		UPDATE verification_codes
		SET status = $1
		WHERE user_id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, domain.CodeStatusUsed, userID, domain.CodeStatusPending)
	if err != nil {
		r.logError("mark code used", userID, err)
		return fmt.Errorf("mark verification code used: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNoPendingCode
	}

	return nil
}

func (r *verificationCodeRepository) logError(op string, userID int64, err error) {
	if r.log == nil || err == nil {
		return
	}

	r.log.Error("verification code repository failure",
		slog.String("operation", op),
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)
}
