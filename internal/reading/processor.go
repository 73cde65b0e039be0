// Package reading implements the meter reading transaction: validation,
// consumption and cost derivation, and persistence.
package reading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stromtracker/meterbot/internal/domain"
	apperrors "github.com/stromtracker/meterbot/internal/errors"
	"github.com/stromtracker/meterbot/internal/intent"
	"github.com/stromtracker/meterbot/internal/lock"
	"github.com/stromtracker/meterbot/internal/repository"
)

// MaxDailyConsumption is the plausibility ceiling for the delta between
// two readings. Larger jumps are almost always typos.
const MaxDailyConsumption = 2000

// Outcome is the confirmation payload of a stored or corrected reading.
type Outcome struct {
	Reading  *domain.MeterReading
	Previous *domain.MeterReading
	Tariff   *domain.TariffPeriod

	// DailyAverage is consumption per day since the previous reading,
	// present only when a previous reading exists.
	DailyAverage *float64
}

// Processor validates, derives and persists meter readings. All writes
// for one user are serialized through the locker; the storage-level
// unique constraint backs the same guarantee.
type Processor struct {
	readings repository.MeterReadingRepository
	tariffs  repository.TariffRepository
	locker   lock.UserLocker
	log      *slog.Logger
	now      func() time.Time
}

// NewProcessor constructs a Processor.
func NewProcessor(
	readings repository.MeterReadingRepository,
	tariffs repository.TariffRepository,
	locker lock.UserLocker,
	log *slog.Logger,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if locker == nil {
		locker = lock.NewNopLocker()
	}

	return &Processor{
		readings: readings,
		tariffs:  tariffs,
		locker:   locker,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests pin "today" with it.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process stores a new reading dated today. Validation order is fixed;
// the first failing check wins.
func (p *Processor) Process(ctx context.Context, userID int64, value float64, rawText string) (*Outcome, error) {
	release, err := p.locker.Acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, &Rejection{Reason: ReasonBusy, Candidate: value}
		}
		return nil, apperrors.NewPersistenceError("acquire reading lock", err)
	}
	defer release()

	if !intent.InMeterRange(value) {
		return nil, &Rejection{Reason: ReasonOutOfRange, Candidate: value}
	}

	today := p.now()

	prior, err := p.readings.FindLatest(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrReadingNotFound) {
		return nil, apperrors.NewPersistenceError("load latest reading", err)
	}

	consumption := 0.0
	if prior != nil {
		if value <= prior.MeterValue {
			return nil, &Rejection{Reason: ReasonNotMonotonic, Candidate: value, PriorValue: prior.MeterValue}
		}

		consumption = value - prior.MeterValue
		if consumption > MaxDailyConsumption {
			return nil, &Rejection{
				Reason:      ReasonImplausibleConsumption,
				Candidate:   value,
				PriorValue:  prior.MeterValue,
				Consumption: consumption,
			}
		}
	}

	if _, err := p.readings.FindForDate(ctx, userID, today); err == nil {
		return nil, &Rejection{Reason: ReasonDuplicateToday, Candidate: value}
	} else if !errors.Is(err, repository.ErrReadingNotFound) {
		return nil, apperrors.NewPersistenceError("check duplicate reading", err)
	}

	tariff, err := p.tariffs.FindActive(ctx, userID, today)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveTariff) {
			return nil, &Rejection{Reason: ReasonNoActiveTariff, Candidate: value}
		}
		return nil, apperrors.NewPersistenceError("load active tariff", err)
	}

	record := &domain.MeterReading{
		UserID:      userID,
		ReadingDate: today,
		MeterValue:  value,
		Notes:       fmt.Sprintf("Erfasst via Telegram-Bot: %s", rawText),
	}
	if prior != nil {
		record.Consumption = &consumption
	}
	applyTariff(record, consumption, tariff)

	if err := p.readings.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateReading) {
			// Lost the race against a concurrent webhook; same outcome
			// as the explicit duplicate check.
			return nil, &Rejection{Reason: ReasonDuplicateToday, Candidate: value}
		}
		return nil, apperrors.NewPersistenceError("insert reading", err)
	}

	p.log.Info("meter reading stored",
		slog.Int64("user_id", userID),
		slog.Float64("meter_value", value),
		slog.Float64("consumption", consumption),
	)

	return &Outcome{
		Reading:      record,
		Previous:     prior,
		Tariff:       tariff,
		DailyAverage: dailyAverage(prior, record.ReadingDate, consumption),
	}, nil
}

// Correct overwrites today's reading with a new value. The baseline for
// consumption is the most recent prior-day reading, not the value being
// replaced. Monotonicity and duplicate rules do not apply: this is an
// explicit overwrite.
func (p *Processor) Correct(ctx context.Context, userID int64, value float64, rawText string) (*Outcome, error) {
	release, err := p.locker.Acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, &Rejection{Reason: ReasonBusy, Candidate: value}
		}
		return nil, apperrors.NewPersistenceError("acquire reading lock", err)
	}
	defer release()

	if !intent.InMeterRange(value) {
		return nil, &Rejection{Reason: ReasonOutOfRange, Candidate: value}
	}

	today := p.now()

	current, err := p.readings.FindForDate(ctx, userID, today)
	if err != nil {
		if errors.Is(err, repository.ErrReadingNotFound) {
			return nil, &Rejection{Reason: ReasonNoReadingToday, Candidate: value}
		}
		return nil, apperrors.NewPersistenceError("load today's reading", err)
	}

	baseline, err := p.readings.FindLatestBefore(ctx, userID, today)
	if err != nil && !errors.Is(err, repository.ErrReadingNotFound) {
		return nil, apperrors.NewPersistenceError("load baseline reading", err)
	}

	tariff, err := p.tariffs.FindActive(ctx, userID, today)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveTariff) {
			return nil, &Rejection{Reason: ReasonNoActiveTariff, Candidate: value}
		}
		return nil, apperrors.NewPersistenceError("load active tariff", err)
	}

	consumption := 0.0
	if baseline != nil {
		consumption = value - baseline.MeterValue
	}

	current.MeterValue = value
	current.Consumption = nil
	if baseline != nil {
		current.Consumption = &consumption
	}
	applyTariff(current, consumption, tariff)
	current.Notes = fmt.Sprintf("%s | Korrigiert via Bot: %s", current.Notes, rawText)

	if err := p.readings.Update(ctx, current); err != nil {
		return nil, apperrors.NewPersistenceError("update reading", err)
	}

	p.log.Info("meter reading corrected",
		slog.Int64("user_id", userID),
		slog.Float64("meter_value", value),
	)

	return &Outcome{
		Reading:      current,
		Previous:     baseline,
		Tariff:       tariff,
		DailyAverage: dailyAverage(baseline, current.ReadingDate, consumption),
	}, nil
}

// DeleteLatest removes the single most recent reading regardless of its
// date and returns the removed row so the reply can state which date was
// affected.
func (p *Processor) DeleteLatest(ctx context.Context, userID int64) (*domain.MeterReading, error) {
	release, err := p.locker.Acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, &Rejection{Reason: ReasonBusy}
		}
		return nil, apperrors.NewPersistenceError("acquire reading lock", err)
	}
	defer release()

	latest, err := p.readings.FindLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrReadingNotFound) {
			return nil, &Rejection{Reason: ReasonNothingToDelete}
		}
		return nil, apperrors.NewPersistenceError("load latest reading", err)
	}

	if err := p.readings.Delete(ctx, latest.ID); err != nil {
		return nil, apperrors.NewPersistenceError("delete reading", err)
	}

	p.log.Info("meter reading deleted",
		slog.Int64("user_id", userID),
		slog.Time("reading_date", latest.ReadingDate),
	)

	return latest, nil
}

func applyTariff(r *domain.MeterReading, consumption float64, tariff *domain.TariffPeriod) {
	cost := consumption * tariff.RatePerKwh
	totalBill := cost + tariff.BasicFee
	paymentDifference := totalBill - tariff.MonthlyPayment

	r.Cost = &cost
	r.TotalBill = &totalBill
	r.PaymentDifference = &paymentDifference
}

func dailyAverage(prior *domain.MeterReading, date time.Time, consumption float64) *float64 {
	if prior == nil {
		return nil
	}

	days := int(truncateDay(date).Sub(truncateDay(prior.ReadingDate)).Hours() / 24)
	if days <= 0 {
		return nil
	}

	avg := consumption / float64(days)
	return &avg
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
