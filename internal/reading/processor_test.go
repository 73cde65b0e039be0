package reading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stromtracker/meterbot/internal/domain"
	"github.com/stromtracker/meterbot/internal/repository"
)

const testUserID int64 = 42

var testToday = time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

type mockReadings struct {
	mock.Mock
}

func (m *mockReadings) FindLatest(ctx context.Context, userID int64) (*domain.MeterReading, error) {
	args := m.Called(ctx, userID)
	reading, _ := args.Get(0).(*domain.MeterReading)
	return reading, args.Error(1)
}

func (m *mockReadings) FindLatestBefore(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error) {
	args := m.Called(ctx, userID, date)
	reading, _ := args.Get(0).(*domain.MeterReading)
	return reading, args.Error(1)
}

func (m *mockReadings) FindForDate(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error) {
	args := m.Called(ctx, userID, date)
	reading, _ := args.Get(0).(*domain.MeterReading)
	return reading, args.Error(1)
}

func (m *mockReadings) Insert(ctx context.Context, reading *domain.MeterReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *mockReadings) Update(ctx context.Context, reading *domain.MeterReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *mockReadings) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockReadings) ConsumptionBetween(ctx context.Context, userID int64, from, to time.Time) (*repository.MonthStats, error) {
	args := m.Called(ctx, userID, from, to)
	stats, _ := args.Get(0).(*repository.MonthStats)
	return stats, args.Error(1)
}

type mockTariffs struct {
	mock.Mock
}

func (m *mockTariffs) FindActive(ctx context.Context, userID int64, asOf time.Time) (*domain.TariffPeriod, error) {
	args := m.Called(ctx, userID, asOf)
	tariff, _ := args.Get(0).(*domain.TariffPeriod)
	return tariff, args.Error(1)
}

func testTariff() *domain.TariffPeriod {
	return &domain.TariffPeriod{
		ID:             1,
		UserID:         testUserID,
		RatePerKwh:     0.30,
		BasicFee:       10,
		MonthlyPayment: 80,
		ValidFrom:      time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestProcessor(readings *mockReadings, tariffs *mockTariffs) *Processor {
	return NewProcessor(readings, tariffs, nil, nil).WithClock(func() time.Time { return testToday })
}

func priorReading(value float64, daysAgo int) *domain.MeterReading {
	return &domain.MeterReading{
		ID:          7,
		UserID:      testUserID,
		ReadingDate: testToday.AddDate(0, 0, -daysAgo),
		MeterValue:  value,
	}
}

func TestProcess_RangeRejection(t *testing.T) {
	for _, value := range []float64{0, 999, 1000000, -5} {
		readings := &mockReadings{}
		tariffs := &mockTariffs{}
		p := newTestProcessor(readings, tariffs)

		_, err := p.Process(context.Background(), testUserID, value, "x")

		var rej *Rejection
		require.ErrorAs(t, err, &rej, "value %v", value)
		assert.Equal(t, ReasonOutOfRange, rej.Reason)
		readings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	}
}

func TestProcess_MonotonicityRejection(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).Return(priorReading(12000, 3), nil).Once()

	p := newTestProcessor(readings, tariffs)
	_, err := p.Process(context.Background(), testUserID, 11500, "11500")

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonNotMonotonic, rej.Reason)
	assert.Equal(t, float64(12000), rej.PriorValue)
	assert.Equal(t, float64(11500), rej.Candidate)
	readings.AssertExpectations(t)
}

func TestProcess_ImplausibleConsumptionRejection(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).Return(priorReading(12000, 3), nil).Once()

	p := newTestProcessor(readings, tariffs)
	_, err := p.Process(context.Background(), testUserID, 14001, "14001")

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonImplausibleConsumption, rej.Reason)
	assert.Equal(t, float64(2001), rej.Consumption)
}

func TestProcess_DuplicateTodayRejection(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).Return(priorReading(12000, 0), nil).Once()
	readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).
		Return(priorReading(12000, 0), nil).Once()

	p := newTestProcessor(readings, tariffs)
	_, err := p.Process(context.Background(), testUserID, 12500, "12500")

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonDuplicateToday, rej.Reason)
}

func TestProcess_NoActiveTariffRejection(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()
	readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()
	tariffs.On("FindActive", mock.Anything, testUserID, mock.Anything).
		Return((*domain.TariffPeriod)(nil), repository.ErrNoActiveTariff).Once()

	p := newTestProcessor(readings, tariffs)
	_, err := p.Process(context.Background(), testUserID, 15000, "15000")

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonNoActiveTariff, rej.Reason)
}

func TestProcess_FirstReading(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()
	readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()
	tariffs.On("FindActive", mock.Anything, testUserID, mock.Anything).Return(testTariff(), nil).Once()
	readings.On("Insert", mock.Anything, mock.MatchedBy(func(r *domain.MeterReading) bool {
		return r.MeterValue == 15000 && r.Consumption == nil
	})).Return(nil).Once()

	p := newTestProcessor(readings, tariffs)
	outcome, err := p.Process(context.Background(), testUserID, 15000, "15000")

	require.NoError(t, err)
	assert.Nil(t, outcome.Previous)
	assert.Nil(t, outcome.DailyAverage)
	require.NotNil(t, outcome.Reading.Cost)
	assert.Equal(t, 0.0, *outcome.Reading.Cost)
	require.NotNil(t, outcome.Reading.TotalBill)
	assert.Equal(t, 10.0, *outcome.Reading.TotalBill)
	readings.AssertExpectations(t)
}

func TestProcess_WithPriorReadingComputesBilling(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).Return(priorReading(12000, 5), nil).Once()
	readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()
	tariffs.On("FindActive", mock.Anything, testUserID, mock.Anything).Return(testTariff(), nil).Once()
	readings.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()

	p := newTestProcessor(readings, tariffs)
	outcome, err := p.Process(context.Background(), testUserID, 12500, "12500")

	require.NoError(t, err)
	require.NotNil(t, outcome.Reading.Consumption)
	assert.InDelta(t, 500, *outcome.Reading.Consumption, 1e-9)
	assert.InDelta(t, 150, *outcome.Reading.Cost, 1e-9)
	assert.InDelta(t, 160, *outcome.Reading.TotalBill, 1e-9)
	assert.InDelta(t, 80, *outcome.Reading.PaymentDifference, 1e-9)
	require.NotNil(t, outcome.DailyAverage)
	assert.InDelta(t, 100, *outcome.DailyAverage, 1e-9)
	assert.Contains(t, outcome.Reading.Notes, "Erfasst via Telegram-Bot: 12500")
}

func TestProcess_InsertConflictBecomesDuplicate(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).Return(priorReading(12000, 5), nil).Once()
	readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()
	tariffs.On("FindActive", mock.Anything, testUserID, mock.Anything).Return(testTariff(), nil).Once()
	readings.On("Insert", mock.Anything, mock.Anything).Return(repository.ErrDuplicateReading).Once()

	p := newTestProcessor(readings, tariffs)
	_, err := p.Process(context.Background(), testUserID, 12500, "12500")

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonDuplicateToday, rej.Reason)
}

func todaysReading(value float64, notes string) *domain.MeterReading {
	consumption := 500.0
	return &domain.MeterReading{
		ID:          9,
		UserID:      testUserID,
		ReadingDate: testToday.Truncate(24 * time.Hour),
		MeterValue:  value,
		Consumption: &consumption,
		Notes:       notes,
	}
}

func TestCorrect_RecomputesAgainstPriorDayBaseline(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).
		Return(todaysReading(12500, "Erfasst via Telegram-Bot: 12500"), nil).Once()
	readings.On("FindLatestBefore", mock.Anything, testUserID, mock.Anything).
		Return(priorReading(12000, 5), nil).Once()
	tariffs.On("FindActive", mock.Anything, testUserID, mock.Anything).Return(testTariff(), nil).Once()

	var updated *domain.MeterReading
	readings.On("Update", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		updated = args.Get(1).(*domain.MeterReading)
	}).Return(nil).Once()

	p := newTestProcessor(readings, tariffs)
	outcome, err := p.Correct(context.Background(), testUserID, 12600, "korrektur: 12600")

	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, float64(12600), updated.MeterValue)
	require.NotNil(t, updated.Consumption)
	assert.InDelta(t, 600, *updated.Consumption, 1e-9)
	assert.InDelta(t, 180, *updated.Cost, 1e-9)
	assert.Contains(t, updated.Notes, "Erfasst via Telegram-Bot: 12500")
	assert.Contains(t, updated.Notes, "| Korrigiert via Bot: korrektur: 12600")
	require.NotNil(t, outcome.DailyAverage)
}

func TestCorrect_IdempotentValues(t *testing.T) {
	// Applying the same correction twice yields identical stored values.
	run := func(current *domain.MeterReading) *domain.MeterReading {
		readings := &mockReadings{}
		tariffs := &mockTariffs{}
		readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).Return(current, nil).Once()
		readings.On("FindLatestBefore", mock.Anything, testUserID, mock.Anything).
			Return(priorReading(12000, 5), nil).Once()
		tariffs.On("FindActive", mock.Anything, testUserID, mock.Anything).Return(testTariff(), nil).Once()

		var updated *domain.MeterReading
		readings.On("Update", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			updated = args.Get(1).(*domain.MeterReading)
		}).Return(nil).Once()

		p := newTestProcessor(readings, tariffs)
		_, err := p.Correct(context.Background(), testUserID, 12600, "fix 12600")
		require.NoError(t, err)
		return updated
	}

	first := run(todaysReading(12500, "original"))
	second := run(first)

	assert.Equal(t, first.MeterValue, second.MeterValue)
	assert.Equal(t, *first.Consumption, *second.Consumption)
	assert.Equal(t, *first.Cost, *second.Cost)
	assert.Equal(t, *first.TotalBill, *second.TotalBill)
}

func TestCorrect_NoReadingToday(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindForDate", mock.Anything, testUserID, mock.Anything).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()

	p := newTestProcessor(readings, tariffs)
	_, err := p.Correct(context.Background(), testUserID, 12600, "fix 12600")

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonNoReadingToday, rej.Reason)
}

func TestDeleteLatest_ReportsRemovedDate(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	old := priorReading(12000, 11)
	readings.On("FindLatest", mock.Anything, testUserID).Return(old, nil).Once()
	readings.On("Delete", mock.Anything, old.ID).Return(nil).Once()

	p := newTestProcessor(readings, tariffs)
	removed, err := p.DeleteLatest(context.Background(), testUserID)

	require.NoError(t, err)
	// Deletion is "undo latest", even when the latest entry is days old.
	assert.Equal(t, old.ReadingDate, removed.ReadingDate)
	readings.AssertExpectations(t)
}

func TestDeleteLatest_NothingToDelete(t *testing.T) {
	readings := &mockReadings{}
	tariffs := &mockTariffs{}
	readings.On("FindLatest", mock.Anything, testUserID).
		Return((*domain.MeterReading)(nil), repository.ErrReadingNotFound).Once()

	p := newTestProcessor(readings, tariffs)
	_, err := p.DeleteLatest(context.Background(), testUserID)

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonNothingToDelete, rej.Reason)
}
