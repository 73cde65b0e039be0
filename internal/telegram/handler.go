package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/stromtracker/meterbot/internal/errors"
	"github.com/stromtracker/meterbot/internal/intent"
	"github.com/stromtracker/meterbot/internal/reading"
	"github.com/stromtracker/meterbot/internal/repository"
	"github.com/stromtracker/meterbot/pkg/metrics"
)

// Handler processes provider webhook calls. One call is one logical
// transaction; the response is always 200 so the provider never retries
// what we have consciously dropped.
type Handler struct {
	resolver  *Resolver
	deduper   Deduper
	gateway   *Gateway
	responder *Responder
	processor *reading.Processor
	reporter  *reading.Reporter
	tariffs   repository.TariffRepository
	users     repository.UserRepository
	errs      *apperrors.Handler
	secret    string
	log       *slog.Logger
	now       func() time.Time
}

// NewHandler constructs the webhook Handler.
func NewHandler(
	resolver *Resolver,
	deduper Deduper,
	gateway *Gateway,
	responder *Responder,
	processor *reading.Processor,
	reporter *reading.Reporter,
	tariffs repository.TariffRepository,
	users repository.UserRepository,
	errs *apperrors.Handler,
	secret string,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if deduper == nil {
		deduper = NewNopDeduper()
	}

	return &Handler{
		resolver:  resolver,
		deduper:   deduper,
		gateway:   gateway,
		responder: responder,
		processor: processor,
		reporter:  reporter,
		tariffs:   tariffs,
		users:     users,
		errs:      errs,
		secret:    secret,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the time source for tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// ServeHTTP implements the webhook endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.ObserveWebhook(time.Since(start)) }()

	if h.secret != "" && r.URL.Query().Get("secret") != h.secret {
		h.log.Warn("webhook secret mismatch", slog.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		// Malformed payloads are dropped, not retried.
		h.log.Warn("malformed webhook payload", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	h.process(r.Context(), &update)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) process(ctx context.Context, update *Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	if update.UpdateID != 0 && h.deduper.Seen(ctx, update.UpdateID) {
		h.log.Info("duplicate update dropped", slog.Int64("update_id", update.UpdateID))
		return
	}

	chatID := update.Message.Chat.ID

	settings, err := h.resolver.Resolve(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			// A known chat with a stored token still gets the onboarding
			// reply; a completely unknown chat cannot be addressed at all.
			if settings != nil && settings.TelegramBotToken != "" {
				h.gateway.SendDirect(ctx, settings.TelegramBotToken, chatID, h.responder.NotAuthorized())
			}
			return
		}

		h.errs.Handle(ctx, err)
		return
	}

	parsed := intent.Parse(update.Message.Text)
	metrics.RecordIntent(parsed.Kind.String())

	h.log.Info("inbound message",
		slog.Int64("chat_id", chatID),
		slog.Int64("user_id", settings.UserID),
		slog.String("intent", parsed.Kind.String()),
	)

	reply := h.dispatch(ctx, settings.UserID, parsed)
	if reply == "" {
		return
	}

	h.gateway.SendDirect(ctx, settings.TelegramBotToken, chatID, reply)
}

// dispatch maps one parsed intent to its reply text. The switch is
// exhaustive over the intent kinds.
func (h *Handler) dispatch(ctx context.Context, userID int64, in intent.Intent) string {
	switch in.Kind {
	case intent.KindStart:
		name := ""
		if user, err := h.users.FindByID(ctx, userID); err == nil {
			name = user.Name
		}
		return h.responder.Welcome(name)

	case intent.KindHelp:
		return h.responder.Help()

	case intent.KindStatus:
		report, err := h.reporter.Status(ctx, userID)
		if err != nil {
			return h.errs.Handle(ctx, err)
		}
		return h.responder.Status(report)

	case intent.KindStats:
		report, err := h.reporter.Stats(ctx, userID)
		if err != nil {
			return h.errs.Handle(ctx, err)
		}
		return h.responder.Stats(report)

	case intent.KindTariff:
		tariff, err := h.tariffs.FindActive(ctx, userID, h.now())
		if err != nil {
			if errors.Is(err, repository.ErrNoActiveTariff) {
				return h.responder.NoTariff()
			}
			return h.errs.Handle(ctx, err)
		}
		return h.responder.TariffInfo(tariff)

	case intent.KindReading:
		out, err := h.processor.Process(ctx, userID, in.Value, in.Raw)
		if err != nil {
			return h.rejectionOrError(ctx, err)
		}
		metrics.RecordReading("saved")
		return h.responder.ReadingSaved(out)

	case intent.KindCorrection:
		out, err := h.processor.Correct(ctx, userID, in.Value, in.Raw)
		if err != nil {
			return h.rejectionOrError(ctx, err)
		}
		metrics.RecordReading("corrected")
		return h.responder.CorrectionSaved(out)

	case intent.KindDeletion:
		removed, err := h.processor.DeleteLatest(ctx, userID)
		if err != nil {
			return h.rejectionOrError(ctx, err)
		}
		metrics.RecordReading("deleted")
		return h.responder.DeletionDone(removed)

	case intent.KindUnknownCommand:
		return h.responder.UnknownCommand(in.Command)

	default:
		return h.responder.Unrecognized()
	}
}

func (h *Handler) rejectionOrError(ctx context.Context, err error) string {
	var rej *reading.Rejection
	if errors.As(err, &rej) {
		metrics.RecordReading("rejected")
		h.log.Info("reading rejected", slog.String("reason", rej.Reason.String()))
		return h.responder.Rejected(rej)
	}

	metrics.RecordReading("error")
	return h.errs.Handle(ctx, err)
}
