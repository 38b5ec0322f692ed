package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-ingestion-service/internal/models"
	apperrors "portfolio-ingestion-service/pkg/errors"
)

const upsertMetricSQL = `INSERT INTO portfolio_metrics
	(account_code, date, portfolio_value, nav, pnl, drawdown_pct, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_code, date) DO UPDATE SET
		portfolio_value = excluded.portfolio_value,
		nav = excluded.nav,
		pnl = excluded.pnl,
		drawdown_pct = excluded.drawdown_pct,
		updated_at = excluded.updated_at`

// SaveMetrics upserts a metric series in one transaction and returns the
// number of records written.
func (s *Store) SaveMetrics(ctx context.Context, records []models.MetricRecord) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.StorageError(apperrors.CodeStorageUnavailable, "save metrics", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertMetricSQL)
	if err != nil {
		return 0, apperrors.StorageError(apperrors.CodeWriteFailed, "save metrics", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		v := r.Values()
		if _, err = stmt.ExecContext(ctx, v[0], v[5], v[1], v[2], v[3], v[4], now); err != nil {
			return 0, apperrors.StorageError(apperrors.CodeWriteFailed, "save metrics", err).
				WithContext("account", r.AccountCode).
				WithContext("date", v[5])
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, apperrors.StorageError(apperrors.CodeWriteFailed, "save metrics", err)
	}

	s.logger.WithField("records", len(records)).Info("Saved metric series")
	return len(records), nil
}

// LoadMetrics returns the stored series of an account ordered by date.
func (s *Store) LoadMetrics(ctx context.Context, account string) ([]models.MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, portfolio_value, nav, pnl, drawdown_pct FROM portfolio_metrics
		 WHERE account_code = ? ORDER BY date`, account)
	if err != nil {
		return nil, apperrors.StorageError(apperrors.CodeStorageUnavailable, "load metrics", err)
	}
	defer rows.Close()

	var records []models.MetricRecord
	for rows.Next() {
		var date, value, nav, pnl, drawdown string
		if err := rows.Scan(&date, &value, &nav, &pnl, &drawdown); err != nil {
			return nil, apperrors.StorageError(apperrors.CodeStorageUnavailable, "load metrics", err)
		}
		record := models.MetricRecord{AccountCode: account}
		if record.Date, err = time.Parse(models.ISODate, date); err != nil {
			return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "load metrics", err)
		}
		for dst, src := range map[*decimal.Decimal]string{
			&record.PortfolioValue: value,
			&record.NAV:            nav,
			&record.PnL:            pnl,
			&record.DrawdownPct:    drawdown,
		} {
			if *dst, err = decimal.NewFromString(src); err != nil {
				return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "load metrics", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError(apperrors.CodeStorageUnavailable, "load metrics", err)
	}
	return records, nil
}
