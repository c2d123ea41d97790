package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/checkpointcast/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// dateKey normalises a time to the canonical YYYY-MM-DD form used for
// every DATE column, so equality joins and MAX() behave.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func (s *Store) UpsertTraffic(obs models.DailyObservation) error {
	_, err := s.db.Exec(`
		INSERT INTO traffic (date, throughput, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			throughput = excluded.throughput,
			updated_at = excluded.updated_at
	`, dateKey(obs.Date), obs.Throughput, time.Now().UTC())
	return err
}

func (s *Store) GetTraffic(start, end time.Time) ([]models.DailyObservation, error) {
	rows, err := s.db.Query(`
		SELECT date, throughput, updated_at
		FROM traffic
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, dateKey(start), dateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DailyObservation
	for rows.Next() {
		var obs models.DailyObservation
		var date string
		if err := rows.Scan(&date, &obs.Throughput, &obs.UpdatedAt); err != nil {
			return nil, err
		}
		if obs.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parse traffic date %q: %w", date, err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// LatestTrafficDate returns the most recent date with published
// throughput, or ok=false when the table holds none.
func (s *Store) LatestTrafficDate() (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(date) FROM traffic WHERE throughput IS NOT NULL`).Scan(&date)
	if err != nil {
		return time.Time{}, false, err
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	d, err := parseDate(date.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

func (s *Store) UpsertHubWeather(w models.HubWeather) error {
	_, err := s.db.Exec(`
		INSERT INTO weather (date, airport, snowfall_cm, wind_speed_kmh, precipitation_mm, min_temp_c, mean_temp_c, is_forecast)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, airport) DO UPDATE SET
			snowfall_cm = excluded.snowfall_cm,
			wind_speed_kmh = excluded.wind_speed_kmh,
			precipitation_mm = excluded.precipitation_mm,
			min_temp_c = excluded.min_temp_c,
			mean_temp_c = excluded.mean_temp_c,
			is_forecast = excluded.is_forecast
	`, dateKey(w.Date), w.Airport, w.SnowfallCM, w.WindSpeedKMH, w.PrecipitationMM, w.MinTempC, w.MeanTempC, w.IsForecast)
	return err
}

func (s *Store) GetHubWeather(start, end time.Time) ([]models.HubWeather, error) {
	rows, err := s.db.Query(`
		SELECT date, airport, snowfall_cm, wind_speed_kmh, precipitation_mm, min_temp_c, mean_temp_c, is_forecast
		FROM weather
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, airport ASC
	`, dateKey(start), dateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HubWeather
	for rows.Next() {
		var w models.HubWeather
		var date string
		if err := rows.Scan(&date, &w.Airport, &w.SnowfallCM, &w.WindSpeedKMH, &w.PrecipitationMM, &w.MinTempC, &w.MeanTempC, &w.IsForecast); err != nil {
			return nil, err
		}
		if w.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parse weather date %q: %w", date, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) UpsertWeatherIndex(idx models.WeatherDailyIndex) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_weather_index (date, national_severity, severity_lag1, severity_lag2, severity_lag3, revenge_index)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			national_severity = excluded.national_severity,
			severity_lag1 = excluded.severity_lag1,
			severity_lag2 = excluded.severity_lag2,
			severity_lag3 = excluded.severity_lag3,
			revenge_index = excluded.revenge_index
	`, dateKey(idx.Date), idx.NationalSeverity, idx.Lag1, idx.Lag2, idx.Lag3, idx.RevengeIndex)
	return err
}

func (s *Store) GetWeatherIndexes(start, end time.Time) ([]models.WeatherDailyIndex, error) {
	rows, err := s.db.Query(`
		SELECT date, national_severity, severity_lag1, severity_lag2, severity_lag3, revenge_index
		FROM daily_weather_index
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, dateKey(start), dateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WeatherDailyIndex
	for rows.Next() {
		var idx models.WeatherDailyIndex
		var date string
		if err := rows.Scan(&date, &idx.NationalSeverity, &idx.Lag1, &idx.Lag2, &idx.Lag3, &idx.RevengeIndex); err != nil {
			return nil, err
		}
		if idx.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parse index date %q: %w", date, err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (s *Store) GetWeatherIndex(date time.Time) (*models.WeatherDailyIndex, error) {
	row := s.db.QueryRow(`
		SELECT date, national_severity, severity_lag1, severity_lag2, severity_lag3, revenge_index
		FROM daily_weather_index
		WHERE date = ?
	`, dateKey(date))

	var idx models.WeatherDailyIndex
	var d string
	err := row.Scan(&d, &idx.NationalSeverity, &idx.Lag1, &idx.Lag2, &idx.Lag3, &idx.RevengeIndex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if idx.Date, err = parseDate(d); err != nil {
		return nil, err
	}
	return &idx, nil
}

func (s *Store) UpsertCancellationRate(c models.CancellationRateEstimate) error {
	_, err := s.db.Exec(`
		INSERT INTO cancellation_rates (date, rate, source, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			rate = excluded.rate,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, dateKey(c.Date), c.Rate, c.Source, time.Now().UTC())
	return err
}

func (s *Store) GetCancellationRates(start, end time.Time) ([]models.CancellationRateEstimate, error) {
	rows, err := s.db.Query(`
		SELECT date, rate, source, updated_at
		FROM cancellation_rates
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, dateKey(start), dateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CancellationRateEstimate
	for rows.Next() {
		var c models.CancellationRateEstimate
		var date string
		if err := rows.Scan(&date, &c.Rate, &c.Source, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if c.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parse rate date %q: %w", date, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertFlightStats(f models.FlightVolumeObservation) error {
	_, err := s.db.Exec(`
		INSERT INTO flight_stats (date, airport, arrivals, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, airport) DO UPDATE SET
			arrivals = excluded.arrivals,
			fetched_at = excluded.fetched_at
	`, dateKey(f.Date), f.Airport, f.Arrivals, f.FetchedAt)
	return err
}

// FlightVolumeTotal sums per-airport arrivals for one date. Totals
// built from fewer than minAirports reporting hubs are flagged low
// confidence so callers never mistake a partial fetch for a collapse
// in traffic.
func (s *Store) FlightVolumeTotal(date time.Time, minAirports int) (*models.FlightVolumeTotal, error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(SUM(arrivals), 0), COUNT(*)
		FROM flight_stats
		WHERE date = ? AND arrivals IS NOT NULL
	`, dateKey(date))

	t := models.FlightVolumeTotal{Date: date}
	if err := row.Scan(&t.Total, &t.AirportCount); err != nil {
		return nil, err
	}
	if t.AirportCount == 0 {
		return nil, nil
	}
	t.LowConfidence = t.AirportCount < minAirports
	return &t, nil
}

// FlightVolumeTotals returns daily national totals for the range,
// oldest first, with the same low-confidence flagging as
// FlightVolumeTotal. Used for the rolling volume baseline.
func (s *Store) FlightVolumeTotals(start, end time.Time, minAirports int) ([]models.FlightVolumeTotal, error) {
	rows, err := s.db.Query(`
		SELECT date, COALESCE(SUM(arrivals), 0), COUNT(*)
		FROM flight_stats
		WHERE date >= ? AND date <= ? AND arrivals IS NOT NULL
		GROUP BY date
		ORDER BY date ASC
	`, dateKey(start), dateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FlightVolumeTotal
	for rows.Next() {
		var t models.FlightVolumeTotal
		var date string
		if err := rows.Scan(&date, &t.Total, &t.AirportCount); err != nil {
			return nil, err
		}
		if t.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("parse flight date %q: %w", date, err)
		}
		t.LowConfidence = t.AirportCount < minAirports
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) LatestFlightStatsDate() (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(date) FROM flight_stats WHERE arrivals IS NOT NULL`).Scan(&date)
	if err != nil {
		return time.Time{}, false, err
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	d, err := parseDate(date.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

// LastRun returns the recorded completion time for a fetch scope, with
// ok=false when the scope has never run.
func (s *Store) LastRun(scope string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRow(`SELECT last_run FROM fetch_metadata WHERE scope = ?`, scope).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *Store) SetLastRun(scope string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO fetch_metadata (scope, last_run)
		VALUES (?, ?)
		ON CONFLICT(scope) DO UPDATE SET last_run = excluded.last_run
	`, scope, t.UTC())
	return err
}

// SaveArtifact stores a serialized model under a stable name,
// replacing any prior version.
func (s *Store) SaveArtifact(name, payload string, trainedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO model_artifacts (name, payload, trained_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			trained_at = excluded.trained_at
	`, name, payload, trainedAt.UTC())
	return err
}

// LoadArtifact returns the stored payload, or "" when no artifact of
// that name exists.
func (s *Store) LoadArtifact(name string) (string, time.Time, error) {
	var payload string
	var trainedAt time.Time
	err := s.db.QueryRow(`SELECT payload, trained_at FROM model_artifacts WHERE name = ?`, name).Scan(&payload, &trainedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return payload, trainedAt, nil
}
