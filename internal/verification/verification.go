// Package verification implements the handshake that binds a Telegram
// chat id to a user account via a one-time code.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/stromtracker/meterbot/internal/domain"
	apperrors "github.com/stromtracker/meterbot/internal/errors"
	"github.com/stromtracker/meterbot/internal/repository"
)

// codeTTL bounds how long a pending code stays redeemable.
const codeTTL = 10 * time.Minute

// ChatGateway is the slice of the message gateway the handshake needs.
type ChatGateway interface {
	ValidateChat(ctx context.Context, token string, chatID int64) error
	SendDirect(ctx context.Context, token string, chatID int64, text string) bool
}

// CodeRenderer formats the message that carries the code into the chat.
type CodeRenderer interface {
	VerificationCode(code string) string
}

// Service issues and checks verification codes. One pending code per
// user; issuing again overwrites the previous one.
type Service struct {
	codes    repository.VerificationCodeRepository
	settings repository.SettingsRepository
	gateway  ChatGateway
	renderer CodeRenderer
	log      *slog.Logger
	now      func() time.Time
}

// NewService constructs the handshake Service.
func NewService(
	codes repository.VerificationCodeRepository,
	settings repository.SettingsRepository,
	gateway ChatGateway,
	renderer CodeRenderer,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		codes:    codes,
		settings: settings,
		gateway:  gateway,
		renderer: renderer,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate validates the chat against the provider, stores the chat id
// unverified, issues a fresh pending code and delivers it to the chat.
// Any failing step raises; nothing is left half-bound on the happy path
// the user retries through.
func (s *Service) Initiate(ctx context.Context, userID, chatID int64) error {
	settings, err := s.settings.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSettingsNotFound) {
			return apperrors.NewValidationError(
				"no notification settings for user",
				"Bitte hinterlege zuerst deinen Bot-Token in den Profileinstellungen.",
			)
		}
		return apperrors.NewPersistenceError("load notification settings", err)
	}

	if settings.TelegramBotToken == "" {
		return apperrors.NewValidationError(
			"bot token missing",
			"Bitte hinterlege zuerst deinen Bot-Token in den Profileinstellungen.",
		)
	}

	if err := s.gateway.ValidateChat(ctx, settings.TelegramBotToken, chatID); err != nil {
		return apperrors.NewProviderError(fmt.Errorf("validate chat: %w", err))
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	issued := s.now()
	record := &domain.VerificationCode{
		UserID:    userID,
		Code:      code,
		Status:    domain.CodeStatusPending,
		CreatedAt: issued,
		ExpiresAt: issued.Add(codeTTL),
	}
	if err := s.codes.UpsertPending(ctx, record); err != nil {
		return apperrors.NewPersistenceError("store verification code", err)
	}

	if err := s.settings.SetChatID(ctx, userID, chatID); err != nil {
		return apperrors.NewPersistenceError("store chat id", err)
	}

	if !s.gateway.SendDirect(ctx, settings.TelegramBotToken, chatID, s.renderer.VerificationCode(code)) {
		return apperrors.NewProviderError(errors.New("deliver verification code: send failed"))
	}

	s.log.Info("verification initiated",
		slog.Int64("user_id", userID),
		slog.Int64("chat_id", chatID),
	)

	return nil
}

// Verify compares code against the pending one. Exact match marks the
// chat verified and consumes the code; any mismatch leaves the pending
// code in place for a retry.
func (s *Service) Verify(ctx context.Context, userID int64, code string) (bool, error) {
	pending, err := s.codes.FindPending(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoPendingCode) {
			return false, nil
		}
		return false, apperrors.NewPersistenceError("load pending code", err)
	}

	if s.now().After(pending.ExpiresAt) {
		s.log.Info("verification code expired", slog.Int64("user_id", userID))
		return false, nil
	}

	if pending.Code != code {
		return false, nil
	}

	if err := s.settings.MarkVerified(ctx, userID); err != nil {
		return false, apperrors.NewPersistenceError("mark chat verified", err)
	}
	if err := s.codes.MarkUsed(ctx, userID); err != nil {
		return false, apperrors.NewPersistenceError("consume verification code", err)
	}

	s.log.Info("chat verified", slog.Int64("user_id", userID))

	return true, nil
}

// generateCode draws a uniform 6-digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
