package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stromtracker/meterbot/internal/domain"
)

// ErrNoActiveTariff indicates that no tariff covers the requested date.
var ErrNoActiveTariff = errors.New("no active tariff")

// TariffRepository defines read access to tariff periods. Tariffs are
// managed by the web UI; the core only looks them up.
type TariffRepository interface {
	FindActive(ctx context.Context, userID int64, asOf time.Time) (*domain.TariffPeriod, error)
}

type tariffRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewTariffRepository creates a SQL-backed tariff repository.
func NewTariffRepository(db *sql.DB, log *slog.Logger) TariffRepository {
	return &tariffRepository{db: db, log: log}
}

// FindActive returns the tariff whose validity window contains asOf.
func (r *tariffRepository) FindActive(ctx context.Context, userID int64, asOf time.Time) (*domain.TariffPeriod, error) {
	const query = `
		SELECT id, user_id, rate_per_kwh, basic_fee, monthly_payment, valid_from, valid_to
		FROM tariff_periods
		WHERE user_id = $1
			AND valid_from <= $2
			AND (valid_to IS NULL OR valid_to >= $2)
		ORDER BY valid_from DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, userID, toDate(asOf))

	var tariff domain.TariffPeriod
	err := row.Scan(
		&tariff.ID,
		&tariff.UserID,
		&tariff.RatePerKwh,
		&tariff.BasicFee,
		&tariff.MonthlyPayment,
		&tariff.ValidFrom,
		&tariff.ValidTo,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveTariff
		}

		if r.log != nil {
			r.log.Error("tariff lookup failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return nil, fmt.Errorf("select active tariff: %w", err)
	}

	return &tariff, nil
}
