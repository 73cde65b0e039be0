// Package repository contains the SQL persistence layer.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/stromtracker/meterbot/internal/domain"
)

// ErrDuplicateReading signals that a reading for the same user and date
// already exists. The unique constraint turns the check-then-insert race
// into this error instead of corrupt data.
var ErrDuplicateReading = errors.New("reading for this date already exists")

// ErrReadingNotFound indicates that no matching reading row exists.
var ErrReadingNotFound = errors.New("reading not found")

const pqUniqueViolation = "23505"

// MonthStats aggregates consumption over a date range.
type MonthStats struct {
	Total float64
	Count int
}

// MeterReadingRepository defines persistence operations for meter readings.
type MeterReadingRepository interface {
	FindLatest(ctx context.Context, userID int64) (*domain.MeterReading, error)
	FindLatestBefore(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error)
	FindForDate(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error)
	Insert(ctx context.Context, reading *domain.MeterReading) error
	Update(ctx context.Context, reading *domain.MeterReading) error
	Delete(ctx context.Context, id int64) error
	ConsumptionBetween(ctx context.Context, userID int64, from, to time.Time) (*MonthStats, error)
}

type meterReadingRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewMeterReadingRepository creates a SQL-backed meter reading repository.
func NewMeterReadingRepository(db *sql.DB, log *slog.Logger) MeterReadingRepository {
	return &meterReadingRepository{db: db, log: log}
}

const readingColumns = `
	id, user_id, reading_date, meter_value, consumption, cost,
	total_bill, payment_difference, notes, created_at, updated_at
`

// FindLatest returns the most recent reading for the user regardless of date.
func (r *meterReadingRepository) FindLatest(ctx context.Context, userID int64) (*domain.MeterReading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM meter_readings
		WHERE user_id = $1
		ORDER BY reading_date DESC
		LIMIT 1
	`

	return r.queryOne(ctx, query, userID)
}

// FindLatestBefore returns the most recent reading strictly before date.
func (r *meterReadingRepository) FindLatestBefore(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM meter_readings
		WHERE user_id = $1 AND reading_date < $2
		ORDER BY reading_date DESC
		LIMIT 1
	`

	return r.queryOne(ctx, query, userID, toDate(date))
}

// FindForDate returns the reading recorded exactly on date, if any.
func (r *meterReadingRepository) FindForDate(ctx context.Context, userID int64, date time.Time) (*domain.MeterReading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM meter_readings
		WHERE user_id = $1 AND reading_date = $2
	`

	return r.queryOne(ctx, query, userID, toDate(date))
}

// Insert persists a new reading. A same-day duplicate is reported as
// ErrDuplicateReading.
func (r *meterReadingRepository) Insert(ctx context.Context, reading *domain.MeterReading) error {
	const query = `
		INSERT INTO meter_readings
			(user_id, reading_date, meter_value, consumption, cost,
			 total_bill, payment_difference, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`

	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, query,
		reading.UserID,
		toDate(reading.ReadingDate),
		reading.MeterValue,
		reading.Consumption,
		reading.Cost,
		reading.TotalBill,
		reading.PaymentDifference,
		reading.Notes,
		now,
	).Scan(&reading.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateReading
		}

		r.logError("insert reading", reading.UserID, err)
		return fmt.Errorf("insert reading: %w", err)
	}

	reading.CreatedAt = now
	reading.UpdatedAt = now

	return nil
}

// Update overwrites the derived fields and notes of an existing reading.
func (r *meterReadingRepository) Update(ctx context.Context, reading *domain.MeterReading) error {
	const query = `
		UPDATE meter_readings
		SET meter_value = $1, consumption = $2, cost = $3, total_bill = $4,
			payment_difference = $5, notes = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		reading.MeterValue,
		reading.Consumption,
		reading.Cost,
		reading.TotalBill,
		reading.PaymentDifference,
		reading.Notes,
		time.Now().UTC(),
		reading.ID,
	)
	if err != nil {
		r.logError("update reading", reading.UserID, err)
		return fmt.Errorf("update reading %d: %w", reading.ID, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrReadingNotFound
	}

	return nil
}

// Delete removes a reading row by id.
func (r *meterReadingRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM meter_readings WHERE id = $1`, id)
	if err != nil {
		r.logError("delete reading", 0, err)
		return fmt.Errorf("delete reading %d: %w", id, err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrReadingNotFound
	}

	return nil
}

// ConsumptionBetween sums recorded consumption in [from, to].
func (r *meterReadingRepository) ConsumptionBetween(ctx context.Context, userID int64, from, to time.Time) (*MonthStats, error) {
	const query = `
		SELECT COALESCE(SUM(consumption), 0), COUNT(*)
		FROM meter_readings
		WHERE user_id = $1 AND reading_date BETWEEN $2 AND $3
	`

	var stats MonthStats
	err := r.db.QueryRowContext(ctx, query, userID, toDate(from), toDate(to)).
		Scan(&stats.Total, &stats.Count)
	if err != nil {
		r.logError("consumption between", userID, err)
		return nil, fmt.Errorf("sum consumption: %w", err)
	}

	return &stats, nil
}

func (r *meterReadingRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.MeterReading, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	var reading domain.MeterReading
	err := row.Scan(
		&reading.ID,
		&reading.UserID,
		&reading.ReadingDate,
		&reading.MeterValue,
		&reading.Consumption,
		&reading.Cost,
		&reading.TotalBill,
		&reading.PaymentDifference,
		&reading.Notes,
		&reading.CreatedAt,
		&reading.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("select reading: %w", err)
	}

	return &reading, nil
}

func (r *meterReadingRepository) logError(op string, userID int64, err error) {
	if r.log == nil || err == nil {
		return
	}

	r.log.Error("meter reading repository failure",
		slog.String("operation", op),
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)
}

// toDate strips the time-of-day so DATE columns compare cleanly.
func toDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
