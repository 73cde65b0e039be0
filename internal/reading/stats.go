package reading

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stromtracker/meterbot/internal/domain"
	apperrors "github.com/stromtracker/meterbot/internal/errors"
	"github.com/stromtracker/meterbot/internal/repository"
)

// StatusReport summarizes the user's latest reading and year-to-date
// consumption for the status reply.
type StatusReport struct {
	Latest          *domain.MeterReading
	DaysSince       int
	YearConsumption float64
}

// StatsReport aggregates month and year consumption for the stats reply.
type StatsReport struct {
	MonthTotal     float64
	MonthCount     int
	Projection     float64
	PrevMonthTotal float64
	YearTotal      float64
	YearDailyAvg   float64
}

// Reporter assembles read-only consumption summaries.
type Reporter struct {
	readings repository.MeterReadingRepository
	log      *slog.Logger
	now      func() time.Time
}

// NewReporter constructs a Reporter.
func NewReporter(readings repository.MeterReadingRepository, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}

	return &Reporter{readings: readings, log: log, now: time.Now}
}

// WithClock overrides the time source for tests.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Status returns the latest reading together with year-to-date figures.
// Latest is nil when the user has never recorded a reading.
func (r *Reporter) Status(ctx context.Context, userID int64) (*StatusReport, error) {
	today := r.now()

	latest, err := r.readings.FindLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrReadingNotFound) {
			return &StatusReport{}, nil
		}
		return nil, apperrors.NewPersistenceError("load latest reading", err)
	}

	yearStart := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	yearStats, err := r.readings.ConsumptionBetween(ctx, userID, yearStart, today)
	if err != nil {
		return nil, apperrors.NewPersistenceError("sum year consumption", err)
	}

	days := int(truncateDay(today).Sub(truncateDay(latest.ReadingDate)).Hours() / 24)

	return &StatusReport{
		Latest:          latest,
		DaysSince:       days,
		YearConsumption: yearStats.Total,
	}, nil
}

// Stats aggregates the current month, the prior month, and the year,
// including a linear month-end projection.
func (r *Reporter) Stats(ctx context.Context, userID int64) (*StatsReport, error) {
	today := r.now()

	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	month, err := r.readings.ConsumptionBetween(ctx, userID, monthStart, today)
	if err != nil {
		return nil, apperrors.NewPersistenceError("sum month consumption", err)
	}

	prevMonthEnd := monthStart.AddDate(0, 0, -1)
	prevMonthStart := time.Date(prevMonthEnd.Year(), prevMonthEnd.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevMonth, err := r.readings.ConsumptionBetween(ctx, userID, prevMonthStart, prevMonthEnd)
	if err != nil {
		return nil, apperrors.NewPersistenceError("sum previous month consumption", err)
	}

	yearStart := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	year, err := r.readings.ConsumptionBetween(ctx, userID, yearStart, today)
	if err != nil {
		return nil, apperrors.NewPersistenceError("sum year consumption", err)
	}

	daysInMonth := time.Date(today.Year(), today.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	avgDaily := month.Total / float64(today.Day())

	return &StatsReport{
		MonthTotal:     month.Total,
		MonthCount:     month.Count,
		Projection:     avgDaily * float64(daysInMonth),
		PrevMonthTotal: prevMonth.Total,
		YearTotal:      year.Total,
		YearDailyAvg:   year.Total / float64(today.YearDay()),
	}, nil
}
