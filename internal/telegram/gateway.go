package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/stromtracker/meterbot/internal/domain"
	"github.com/stromtracker/meterbot/internal/repository"
	"github.com/stromtracker/meterbot/pkg/config"
	"github.com/stromtracker/meterbot/pkg/metrics"
)

// maxLoggedRunes caps the text stored per message log entry.
const maxLoggedRunes = 500

// demoMarker is recorded in the log detail of demo sends.
const demoMarker = "demo mode, not delivered"

// Gateway delivers outbound messages through each user's personal bot.
// Every send attempt, real or demo, leaves exactly one message log entry.
type Gateway struct {
	settings repository.SettingsRepository
	messages repository.MessageLogRepository
	client   *http.Client
	baseURL  string
	log      *slog.Logger
}

// NewGateway constructs a Gateway.
func NewGateway(
	settings repository.SettingsRepository,
	messages repository.MessageLogRepository,
	cfg config.TelegramConfig,
	log *slog.Logger,
) *Gateway {
	if log == nil {
		log = slog.Default()
	}

	return &Gateway{
		settings: settings,
		messages: messages,
		client:   &http.Client{Timeout: cfg.SendTimeout},
		baseURL:  strings.TrimRight(cfg.APIBaseURL, "/"),
		log:      log,
	}
}

// Send resolves the chat's owner, enforces the delivery invariant
// (enabled, verified, token present) and delivers the text. The check is
// independent of the webhook resolver because callers like the reminder
// batch never go through it. Failures are logged, never raised.
func (g *Gateway) Send(ctx context.Context, chatID int64, text string) bool {
	settings, err := g.settings.FindByChatID(ctx, chatID)
	if err != nil {
		if !errors.Is(err, repository.ErrSettingsNotFound) {
			g.log.Error("load notification settings", slog.Int64("chat_id", chatID), slog.Any("error", err))
		}
		return false
	}

	if !settings.TelegramUsable() {
		g.log.Info("send skipped, telegram not usable", slog.Int64("chat_id", chatID))
		return false
	}

	return g.SendDirect(ctx, settings.TelegramBotToken, settings.TelegramChatID, text)
}

// SendDirect delivers text to a chat through an explicit bot token,
// bypassing the settings lookup. The webhook handler uses it to reply
// within an already resolved conversation.
func (g *Gateway) SendDirect(ctx context.Context, token string, chatID int64, text string) bool {
	entry := &domain.MessageLogEntry{
		ChatID: chatID,
		Text:   truncateRunes(text, maxLoggedRunes),
	}

	if token == domain.DemoToken {
		entry.Status = domain.MessageStatusSent
		entry.Error = demoMarker
		g.logEntry(ctx, entry)
		metrics.RecordOutbound(domain.MessageStatusSent)
		g.log.Info("demo send", slog.Int64("chat_id", chatID))
		return true
	}

	messageID, err := g.sendMessage(ctx, token, chatID, text)
	if err != nil {
		entry.Status = domain.MessageStatusFailed
		entry.Error = err.Error()
		g.logEntry(ctx, entry)
		metrics.RecordOutbound(domain.MessageStatusFailed)
		g.log.Error("telegram send failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		return false
	}

	entry.Status = domain.MessageStatusSent
	entry.ProviderMessageID = &messageID
	g.logEntry(ctx, entry)
	metrics.RecordOutbound(domain.MessageStatusSent)

	return true
}

// ValidateChat asks the provider whether the token can see the chat.
// The demo token always validates.
func (g *Gateway) ValidateChat(ctx context.Context, token string, chatID int64) error {
	if token == domain.DemoToken {
		return nil
	}

	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))

	env, err := g.call(ctx, token, "getChat", form)
	if err != nil {
		return err
	}
	if !env.OK {
		return fmt.Errorf("chat not reachable: %s", env.Description)
	}

	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, token string, chatID int64, text string) (int64, error) {
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")
	form.Set("disable_web_page_preview", "true")

	env, err := g.call(ctx, token, "sendMessage", form)
	if err != nil {
		return 0, err
	}
	if !env.OK {
		return 0, fmt.Errorf("provider rejected message: %s", env.Description)
	}

	return env.Result.MessageID, nil
}

func (g *Gateway) call(ctx context.Context, token, method string, form url.Values) (*apiEnvelope, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", g.baseURL, token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}

	return &env, nil
}

// logEntry appends to the message log. Logging is best effort: a failed
// insert must not turn a delivered message into an error.
func (g *Gateway) logEntry(ctx context.Context, entry *domain.MessageLogEntry) {
	if err := g.messages.Insert(ctx, entry); err != nil {
		g.log.Error("message log insert failed", slog.Int64("chat_id", entry.ChatID), slog.Any("error", err))
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
