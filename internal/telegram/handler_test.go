package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stromtracker/meterbot/internal/domain"
	apperrors "github.com/stromtracker/meterbot/internal/errors"
	"github.com/stromtracker/meterbot/internal/lock"
	"github.com/stromtracker/meterbot/internal/reading"
	"github.com/stromtracker/meterbot/internal/repository"
	"github.com/stromtracker/meterbot/pkg/config"
)

type mockReadings struct{ mock.Mock }

func (m *mockReadings) FindLatest(ctx context.Context, userID int64) (*domain.MeterReading, error) {
	args := m.Called(ctx, userID)
	if r := args.Get(0); r != nil {
		return r.(*domain.MeterReading), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReadings) FindLatestBefore(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error) {
	args := m.Called(ctx, userID, date)
	if r := args.Get(0); r != nil {
		return r.(*domain.MeterReading), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReadings) FindForDate(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error) {
	args := m.Called(ctx, userID, date)
	if r := args.Get(0); r != nil {
		return r.(*domain.MeterReading), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReadings) Insert(ctx context.Context, r *domain.MeterReading) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockReadings) Update(ctx context.Context, r *domain.MeterReading) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockReadings) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockReadings) ConsumptionBetween(ctx context.Context, userID int64, from, to time.Time) (*repository.MonthStats, error) {
	args := m.Called(ctx, userID, from, to)
	if s := args.Get(0); s != nil {
		return s.(*repository.MonthStats), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTariffs struct{ mock.Mock }

func (m *mockTariffs) FindActive(ctx context.Context, userID int64, date time.Time) (*domain.TariffPeriod, error) {
	args := m.Called(ctx, userID, date)
	if tr := args.Get(0); tr != nil {
		return tr.(*domain.TariffPeriod), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUsers struct{ mock.Mock }

func (m *mockUsers) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

type memoryDeduper struct{ seen map[int64]bool }

func (d *memoryDeduper) Seen(_ context.Context, id int64) bool {
	if d.seen[id] {
		return true
	}
	d.seen[id] = true
	return false
}

type handlerFixture struct {
	handler  *Handler
	settings *mockSettings
	messages *mockMessages
	readings *mockReadings
	tariffs  *mockTariffs
	users    *mockUsers
}

const webhookSecret = "s3cret"

var handlerToday = time.Date(2026, 8, 28, 14, 5, 0, 0, time.UTC)

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	clock := func() time.Time { return handlerToday }

	settings := &mockSettings{}
	messages := &mockMessages{}
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	users := &mockUsers{}

	gateway := NewGateway(settings, messages, config.TelegramConfig{
		APIBaseURL:  "http://unreachable.invalid",
		SendTimeout: time.Second,
	}, nil)

	processor := reading.NewProcessor(readings, tariffs, lock.NewNopLocker(), nil).WithClock(clock)
	reporter := reading.NewReporter(readings, nil).WithClock(clock)

	handler := NewHandler(
		NewResolver(settings, nil),
		&memoryDeduper{seen: map[int64]bool{}},
		gateway,
		NewResponder().WithClock(clock),
		processor,
		reporter,
		tariffs,
		users,
		apperrors.NewHandler(nil, false),
		webhookSecret,
		nil,
	).WithClock(clock)

	return &handlerFixture{
		handler:  handler,
		settings: settings,
		messages: messages,
		readings: readings,
		tariffs:  tariffs,
		users:    users,
	}
}

func (f *handlerFixture) post(t *testing.T, secret, body string) *httptest.ResponseRecorder {
	t.Helper()

	url := "/telegram/webhook"
	if secret != "" {
		url += "?secret=" + secret
	}

	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func webhookBody(updateID, chatID int64, text string) string {
	id := strconv.FormatInt(updateID, 10)
	chat := strconv.FormatInt(chatID, 10)
	return `{"update_id":` + id + `,"message":{"message_id":1,"chat":{"id":` + chat + `},"text":"` + text + `"}}`
}

func verifiedDemoSettings(userID, chatID int64) *domain.NotificationSettings {
	return &domain.NotificationSettings{
		UserID:           userID,
		TelegramEnabled:  true,
		TelegramVerified: true,
		TelegramBotToken: domain.DemoToken,
		TelegramChatID:   chatID,
	}
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, "wrong", webhookBody(1, 42, "12450"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.messages.entries)
}

func TestWebhookMalformedPayloadIsNoOp(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, webhookSecret, `{"update_id": not json`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.messages.entries)
}

func TestWebhookMissingTextIsNoOp(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, webhookSecret, `{"update_id":5,"message":{"message_id":1,"chat":{"id":42}}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.messages.entries)
}

func TestWebhookUnverifiedChatGetsOnboardingReply(t *testing.T) {
	f := newHandlerFixture(t)

	f.settings.On("FindByChatID", mock.Anything, int64(42)).Return(&domain.NotificationSettings{
		UserID:           7,
		TelegramEnabled:  true,
		TelegramVerified: false,
		TelegramBotToken: domain.DemoToken,
		TelegramChatID:   42,
	}, nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil)

	rec := f.post(t, webhookSecret, webhookBody(1, 42, "12450"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.messages.entries, 1)
	assert.Contains(t, f.messages.entries[0].Text, "nicht freigeschaltet")

	f.readings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestWebhookUnknownChatIsSilentlyDropped(t *testing.T) {
	f := newHandlerFixture(t)

	f.settings.On("FindByChatID", mock.Anything, int64(42)).Return(nil, repository.ErrSettingsNotFound)

	rec := f.post(t, webhookSecret, webhookBody(1, 42, "12450"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.messages.entries)
}

func TestWebhookDemoReadingFlow(t *testing.T) {
	f := newHandlerFixture(t)

	f.settings.On("FindByChatID", mock.Anything, int64(42)).Return(verifiedDemoSettings(7, 42), nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil)

	f.readings.On("FindLatest", mock.Anything, int64(7)).Return(nil, repository.ErrReadingNotFound)
	f.readings.On("FindForDate", mock.Anything, int64(7), mock.Anything).Return(nil, repository.ErrReadingNotFound)
	f.readings.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.tariffs.On("FindActive", mock.Anything, int64(7), mock.Anything).Return(&domain.TariffPeriod{
		RatePerKwh:     0.30,
		BasicFee:       10,
		MonthlyPayment: 80,
	}, nil)

	rec := f.post(t, webhookSecret, webhookBody(1, 42, "15000"))

	assert.Equal(t, http.StatusOK, rec.Code)
	f.readings.AssertCalled(t, "Insert", mock.Anything, mock.Anything)

	require.Len(t, f.messages.entries, 1)
	entry := f.messages.entries[0]
	assert.Equal(t, domain.MessageStatusSent, entry.Status)
	assert.Contains(t, entry.Error, "demo")
	assert.Contains(t, entry.Text, "Zählerstand erfasst")
	assert.Contains(t, entry.Text, "15.000 kWh")
}

func TestWebhookDuplicateUpdateDropped(t *testing.T) {
	f := newHandlerFixture(t)

	f.settings.On("FindByChatID", mock.Anything, int64(42)).Return(verifiedDemoSettings(7, 42), nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.users.On("FindByID", mock.Anything, int64(7)).Return(&domain.User{ID: 7, Name: "Max"}, nil)

	f.post(t, webhookSecret, webhookBody(99, 42, "/start"))
	f.post(t, webhookSecret, webhookBody(99, 42, "/start"))

	assert.Len(t, f.messages.entries, 1, "retried update must not produce a second reply")
}

func TestWebhookUnknownCommandReply(t *testing.T) {
	f := newHandlerFixture(t)

	f.settings.On("FindByChatID", mock.Anything, int64(42)).Return(verifiedDemoSettings(7, 42), nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil)

	f.post(t, webhookSecret, webhookBody(2, 42, "/frobnicate"))

	require.Len(t, f.messages.entries, 1)
	assert.Contains(t, f.messages.entries[0].Text, "/frobnicate")
}

func TestWebhookStatusReply(t *testing.T) {
	f := newHandlerFixture(t)

	f.settings.On("FindByChatID", mock.Anything, int64(42)).Return(verifiedDemoSettings(7, 42), nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil)

	f.readings.On("FindLatest", mock.Anything, int64(7)).Return(&domain.MeterReading{
		UserID:      7,
		MeterValue:  12450,
		ReadingDate: time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC),
	}, nil)
	f.readings.On("ConsumptionBetween", mock.Anything, int64(7), mock.Anything, mock.Anything).
		Return(&repository.MonthStats{Total: 1234, Count: 40}, nil)

	f.post(t, webhookSecret, webhookBody(3, 42, "status"))

	require.Len(t, f.messages.entries, 1)
	assert.Contains(t, f.messages.entries[0].Text, "12.450 kWh am 23.08.2026")
	assert.Contains(t, f.messages.entries[0].Text, "Vor 5 Tagen")
}

func TestWebhookTariffReply(t *testing.T) {
	f := newHandlerFixture(t)

	f.settings.On("FindByChatID", mock.Anything, int64(42)).Return(verifiedDemoSettings(7, 42), nil)
	f.messages.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.tariffs.On("FindActive", mock.Anything, int64(7), mock.Anything).Return(nil, repository.ErrNoActiveTariff)

	f.post(t, webhookSecret, webhookBody(4, 42, "tarif"))

	require.Len(t, f.messages.entries, 1)
	assert.Contains(t, f.messages.entries[0].Text, "kein aktiver Stromtarif")
}
