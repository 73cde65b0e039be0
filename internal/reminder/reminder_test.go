package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stromtracker/meterbot/internal/domain"
	"github.com/stromtracker/meterbot/internal/repository"
)

type mockSettings struct{ mock.Mock }

func (m *mockSettings) FindByChatID(ctx context.Context, chatID int64) (*domain.NotificationSettings, error) {
	args := m.Called(ctx, chatID)
	if s := args.Get(0); s != nil {
		return s.(*domain.NotificationSettings), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSettings) FindByUserID(ctx context.Context, userID int64) (*domain.NotificationSettings, error) {
	args := m.Called(ctx, userID)
	if s := args.Get(0); s != nil {
		return s.(*domain.NotificationSettings), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSettings) SetChatID(ctx context.Context, userID, chatID int64) error {
	return m.Called(ctx, userID, chatID).Error(0)
}

func (m *mockSettings) MarkVerified(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockSettings) RemindableUsers(ctx context.Context) ([]domain.ReminderTarget, error) {
	args := m.Called(ctx)
	if t := args.Get(0); t != nil {
		return t.([]domain.ReminderTarget), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSettings) MarkReminderSent(ctx context.Context, userID int64, sentAt time.Time) error {
	return m.Called(ctx, userID, sentAt).Error(0)
}

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

type fakeMail struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeMail) Send(_ context.Context, to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeChat struct {
	mu   sync.Mutex
	sent []int64
	ok   bool
}

func (f *fakeChat) Send(_ context.Context, chatID int64, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID)
	return f.ok
}

// 2026-08-28 in a 31-day month.
var batchToday = time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

func newScheduler(settings *mockSettings, readings *mockReadings, mail *fakeMail, chat *fakeChat) *Scheduler {
	return NewScheduler(settings, readings, mail, chat, 2, time.Second, nil).
		WithClock(func() time.Time { return batchToday })
}

func emailTarget(userID int64) domain.ReminderTarget {
	return domain.ReminderTarget{
		UserID:             userID,
		Name:               "Max",
		Email:              "max@example.org",
		EmailNotifications: true,
		ReminderDays:       5,
	}
}

func telegramTarget(userID, chatID int64) domain.ReminderTarget {
	return domain.ReminderTarget{
		UserID:           userID,
		Name:             "Max",
		TelegramEnabled:  true,
		TelegramVerified: true,
		TelegramChatID:   chatID,
		ReminderDays:     5,
	}
}

func lastMonthReading() *domain.MeterReading {
	return &domain.MeterReading{
		ReadingDate: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		MeterValue:  12000,
	}
}

func TestDueDateLogic(t *testing.T) {
	tests := []struct {
		name         string
		latest       *domain.MeterReading
		reminderDays int
		today        time.Time
		wantDue      bool
		wantReason   string
	}{
		{
			name:         "no reading ever is always due",
			latest:       nil,
			reminderDays: 5,
			today:        time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
			wantDue:      true,
			wantReason:   ReasonFirstReading,
		},
		{
			name:         "previous month inside window",
			latest:       lastMonthReading(),
			reminderDays: 5,
			today:        time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
			wantDue:      true,
			wantReason:   ReasonMonthRollover,
		},
		{
			name:         "window opens exactly at days_in_month minus reminder_days plus one",
			latest:       lastMonthReading(),
			reminderDays: 5,
			today:        time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), // 31-5+1
			wantDue:      true,
			wantReason:   ReasonMonthRollover,
		},
		{
			name:         "previous month before window",
			latest:       lastMonthReading(),
			reminderDays: 5,
			today:        time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC),
			wantDue:      false,
		},
		{
			name: "reading in current month never due",
			latest: &domain.MeterReading{
				ReadingDate: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC),
			},
			reminderDays: 5,
			today:        time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
			wantDue:      false,
		},
		{
			name: "previous year counts as before",
			latest: &domain.MeterReading{
				ReadingDate: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			},
			reminderDays: 5,
			today:        time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC), // 31-5+1=27
			wantDue:      true,
			wantReason:   ReasonMonthRollover,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readings := &mockReadings{}
			if tt.latest == nil {
				readings.On("FindLatest", mock.Anything, int64(7)).Return(nil, repository.ErrReadingNotFound)
			} else {
				readings.On("FindLatest", mock.Anything, int64(7)).Return(tt.latest, nil)
			}

			s := newScheduler(&mockSettings{}, readings, &fakeMail{}, &fakeChat{}).
				WithClock(func() time.Time { return tt.today })

			target := emailTarget(7)
			target.ReminderDays = tt.reminderDays

			reason, due, err := s.due(context.Background(), &target, tt.today)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDue, due)
			if tt.wantDue {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestRunSendsAndMarks(t *testing.T) {
	settings := &mockSettings{}
	readings := &mockReadings{}
	mail := &fakeMail{}
	chat := &fakeChat{ok: true}

	settings.On("RemindableUsers", mock.Anything).Return([]domain.ReminderTarget{emailTarget(7)}, nil)
	settings.On("MarkReminderSent", mock.Anything, int64(7), mock.Anything).Return(nil)
	readings.On("FindLatest", mock.Anything, int64(7)).Return(nil, repository.ErrReadingNotFound)

	summary, err := newScheduler(settings, readings, mail, chat).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &Summary{Sent: 1, Failed: 0, Total: 1}, summary)
	assert.Equal(t, []string{"max@example.org"}, mail.sent)
	settings.AssertCalled(t, "MarkReminderSent", mock.Anything, int64(7), mock.Anything)
}

func TestRunAtLeastOneChannelCountsAsSent(t *testing.T) {
	settings := &mockSettings{}
	readings := &mockReadings{}
	mail := &fakeMail{err: errors.New("relay down")}
	chat := &fakeChat{ok: true}

	target := emailTarget(7)
	target.TelegramEnabled = true
	target.TelegramVerified = true
	target.TelegramChatID = 42

	settings.On("RemindableUsers", mock.Anything).Return([]domain.ReminderTarget{target}, nil)
	settings.On("MarkReminderSent", mock.Anything, int64(7), mock.Anything).Return(nil)
	readings.On("FindLatest", mock.Anything, int64(7)).Return(nil, repository.ErrReadingNotFound)

	summary, err := newScheduler(settings, readings, mail, chat).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, []int64{42}, chat.sent)
}

func TestRunAllChannelsFailingCountsAsFailed(t *testing.T) {
	settings := &mockSettings{}
	readings := &mockReadings{}
	mail := &fakeMail{err: errors.New("relay down")}
	chat := &fakeChat{ok: false}

	target := emailTarget(7)
	target.TelegramEnabled = true
	target.TelegramVerified = true
	target.TelegramChatID = 42

	settings.On("RemindableUsers", mock.Anything).Return([]domain.ReminderTarget{target}, nil)
	readings.On("FindLatest", mock.Anything, int64(7)).Return(nil, repository.ErrReadingNotFound)

	summary, err := newScheduler(settings, readings, mail, chat).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &Summary{Sent: 0, Failed: 1, Total: 1}, summary)
	settings.AssertNotCalled(t, "MarkReminderSent", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunSkipsUsersNotDue(t *testing.T) {
	settings := &mockSettings{}
	readings := &mockReadings{}
	mail := &fakeMail{}
	chat := &fakeChat{ok: true}

	settings.On("RemindableUsers", mock.Anything).Return([]domain.ReminderTarget{
		emailTarget(7),
		emailTarget(8),
	}, nil)
	settings.On("MarkReminderSent", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// User 7 already has a reading this month, user 8 has none at all.
	readings.On("FindLatest", mock.Anything, int64(7)).Return(&domain.MeterReading{
		ReadingDate: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
	}, nil)
	readings.On("FindLatest", mock.Anything, int64(8)).Return(nil, repository.ErrReadingNotFound)

	summary, err := newScheduler(settings, readings, mail, chat).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &Summary{Sent: 1, Failed: 0, Total: 1}, summary)
}

func TestRunContinuesPastSlowUsers(t *testing.T) {
	settings := &mockSettings{}
	readings := &mockReadings{}
	mail := &fakeMail{}
	chat := &fakeChat{ok: true}

	targets := []domain.ReminderTarget{telegramTarget(1, 11), telegramTarget(2, 12), telegramTarget(3, 13)}
	settings.On("RemindableUsers", mock.Anything).Return(targets, nil)
	settings.On("MarkReminderSent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	for _, target := range targets {
		readings.On("FindLatest", mock.Anything, target.UserID).Return(nil, repository.ErrReadingNotFound)
	}

	summary, err := newScheduler(settings, readings, mail, chat).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Sent)
	assert.ElementsMatch(t, []int64{11, 12, 13}, chat.sent)
}
