package telegram

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stromtracker/meterbot/internal/domain"
	"github.com/stromtracker/meterbot/internal/repository"
)

// ErrUnauthorized indicates that the chat id does not map to a verified,
// enabled account with a bot token.
var ErrUnauthorized = errors.New("chat is not authorized")

// Resolver maps an inbound chat id to the owning user's notification
// settings. It is the gate in front of every other component.
type Resolver struct {
	settings repository.SettingsRepository
	log      *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(settings repository.SettingsRepository, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{settings: settings, log: log}
}

// Resolve looks up the chat id and enforces the routing invariant:
// enabled AND verified AND non-empty bot token. When a settings row
// exists but fails the invariant, it is returned alongside
// ErrUnauthorized so the caller can still address the onboarding reply
// through the stored token.
func (r *Resolver) Resolve(ctx context.Context, chatID int64) (*domain.NotificationSettings, error) {
	settings, err := r.settings.FindByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrSettingsNotFound) {
			r.log.Info("unknown chat id", slog.Int64("chat_id", chatID))
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if !settings.TelegramUsable() {
		r.log.Info("chat id fails routing invariant",
			slog.Int64("chat_id", chatID),
			slog.Bool("enabled", settings.TelegramEnabled),
			slog.Bool("verified", settings.TelegramVerified),
		)
		return settings, ErrUnauthorized
	}

	return settings, nil
}
