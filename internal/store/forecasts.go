package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/checkpointcast/internal/models"
)

// SaveForecasts replaces the forecast rows for each
// (target_date, model_run_date) pair present in the batch, inside one
// transaction. A re-run of the same model day overwrites itself
// cleanly instead of accumulating duplicates.
func (s *Store) SaveForecasts(records []models.ForecastRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin forecast tx: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]bool)
	for _, r := range records {
		key := dateKey(r.TargetDate) + "|" + dateKey(r.ModelRunDate)
		if !seen[key] {
			if _, err := tx.Exec(
				`DELETE FROM prediction_history WHERE target_date = ? AND model_run_date = ?`,
				dateKey(r.TargetDate), dateKey(r.ModelRunDate),
			); err != nil {
				return fmt.Errorf("clear forecast %s: %w", key, err)
			}
			seen[key] = true
		}
	}

	for _, r := range records {
		if _, err := tx.Exec(`
			INSERT INTO prediction_history (target_date, model_run_date, predicted_throughput, baseline_prediction, weather_index, predicted_cancel_rate, is_holiday, holiday_name, flight_volume, rule_trace, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, dateKey(r.TargetDate), dateKey(r.ModelRunDate), r.PredictedThroughput, r.BaselinePrediction, r.WeatherIndex, r.PredictedCancelRate, r.IsHoliday, r.HolidayName, r.FlightVolume, r.RuleTrace, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert forecast %s: %w", dateKey(r.TargetDate), err)
		}
	}

	return tx.Commit()
}

const forecastColumns = `target_date, model_run_date, predicted_throughput, baseline_prediction, weather_index, predicted_cancel_rate, is_holiday, holiday_name, flight_volume, rule_trace, created_at`

// CurrentForecasts returns the freshest forecast per target date in the
// range: the row from the latest model run, breaking run-date ties by
// insertion order.
func (s *Store) CurrentForecasts(start, end time.Time) ([]models.ForecastRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+forecastColumns+`
		FROM prediction_history p
		WHERE target_date >= ? AND target_date <= ?
		  AND id = (
			SELECT MAX(id) FROM prediction_history
			WHERE target_date = p.target_date
			  AND model_run_date = (
				SELECT MAX(model_run_date) FROM prediction_history WHERE target_date = p.target_date
			  )
		  )
		ORDER BY target_date ASC
	`, dateKey(start), dateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForecasts(rows)
}

// ForecastHistory returns every run's prediction for one target date,
// oldest run first, so forecast evolution stays visible.
func (s *Store) ForecastHistory(target time.Time) ([]models.ForecastRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+forecastColumns+`
		FROM prediction_history
		WHERE target_date = ?
		ORDER BY model_run_date ASC, id ASC
	`, dateKey(target))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForecasts(rows)
}

func scanForecasts(rows *sql.Rows) ([]models.ForecastRecord, error) {
	var out []models.ForecastRecord
	for rows.Next() {
		var r models.ForecastRecord
		var target, run string
		if err := rows.Scan(&target, &run, &r.PredictedThroughput, &r.BaselinePrediction, &r.WeatherIndex, &r.PredictedCancelRate, &r.IsHoliday, &r.HolidayName, &r.FlightVolume, &r.RuleTrace, &r.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if r.TargetDate, err = parseDate(target); err != nil {
			return nil, fmt.Errorf("parse target date %q: %w", target, err)
		}
		if r.ModelRunDate, err = parseDate(run); err != nil {
			return nil, fmt.Errorf("parse run date %q: %w", run, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertNowcast(n models.NowcastResult) error {
	_, err := s.db.Exec(`
		INSERT INTO sniper_predictions (target_date, predicted_value, flight_volume_used, cancel_velocity, weather_index_used, is_fallback, is_data_outage, model_version, rule_trace, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dateKey(n.TargetDate), n.PredictedValue, n.FlightVolumeUsed, n.CancelVelocity, n.WeatherIndexUsed, n.IsFallback, n.IsDataOutage, n.ModelVersion, n.RuleTrace, time.Now().UTC())
	return err
}

// LatestNowcast returns the most recently written nowcast for a target
// date, or nil when none exists.
func (s *Store) LatestNowcast(target time.Time) (*models.NowcastResult, error) {
	row := s.db.QueryRow(`
		SELECT target_date, predicted_value, flight_volume_used, cancel_velocity, weather_index_used, is_fallback, is_data_outage, model_version, rule_trace, created_at
		FROM sniper_predictions
		WHERE target_date = ?
		ORDER BY id DESC
		LIMIT 1
	`, dateKey(target))

	var n models.NowcastResult
	var date string
	err := row.Scan(&date, &n.PredictedValue, &n.FlightVolumeUsed, &n.CancelVelocity, &n.WeatherIndexUsed, &n.IsFallback, &n.IsDataOutage, &n.ModelVersion, &n.RuleTrace, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if n.TargetDate, err = parseDate(date); err != nil {
		return nil, err
	}
	return &n, nil
}

// Validation joins each current forecast in the range against the
// actual throughput that later published for the same date.
func (s *Store) Validation(start, end time.Time) ([]models.ValidationRow, error) {
	forecasts, err := s.CurrentForecasts(start, end)
	if err != nil {
		return nil, err
	}

	out := make([]models.ValidationRow, 0, len(forecasts))
	for _, f := range forecasts {
		v := models.ValidationRow{Date: f.TargetDate, Predicted: f.PredictedThroughput}
		var actual sql.NullInt64
		err := s.db.QueryRow(`SELECT throughput FROM traffic WHERE date = ?`, dateKey(f.TargetDate)).Scan(&actual)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		v.Actual = actual
		if actual.Valid && actual.Int64 > 0 {
			v.ErrorPct = sql.NullFloat64{
				Float64: 100 * (f.PredictedThroughput - float64(actual.Int64)) / float64(actual.Int64),
				Valid:   true,
			}
		}
		out = append(out, v)
	}
	return out, nil
}
