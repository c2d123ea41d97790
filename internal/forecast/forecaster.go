// Package forecast trains the primary throughput model and emits the
// multi-day forecast, post-processed by the Blind Flight Protocol
// circuit breaker.
package forecast

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lox/checkpointcast/internal/features"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/regress"
	"github.com/lox/checkpointcast/internal/store"
)

const (
	// DefaultHorizon is how many days ahead each run forecasts.
	DefaultHorizon = 14

	// History before this date predates the published throughput
	// series and never enters training.
	historyStart = "2019-01-01"

	minTrainingRows = 120

	// Totals built from fewer reporting airports than this are
	// partial fetches, not demand signal.
	minReportingAirports = 10
)

type Forecaster struct {
	store   *store.Store
	trainer regress.Trainer
}

func New(st *store.Store) *Forecaster {
	return &Forecaster{store: st, trainer: regress.NewGBMTrainer()}
}

// NewWithTrainer exists for tests substituting a cheap estimator.
func NewWithTrainer(st *store.Store, trainer regress.Trainer) *Forecaster {
	return &Forecaster{store: st, trainer: trainer}
}

// Run retrains on the full history and persists a fresh forecast for
// runDate+1 through runDate+horizon.
func (f *Forecaster) Run(runDate time.Time, horizon int) ([]models.ForecastRecord, error) {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	runDate = midnight(runDate)

	in, dates, err := f.loadInputs(runDate, horizon)
	if err != nil {
		return nil, err
	}

	rows := features.Build(dates, in)

	var x [][]float64
	var y []float64
	for _, r := range rows {
		if r.Complete && r.HasTarget && !r.Date.After(runDate) {
			x = append(x, r.Vector())
			y = append(y, r.Target)
		}
	}
	if len(x) < minTrainingRows {
		metrics.TrainingRuns.WithLabelValues("primary", "insufficient_data").Inc()
		return nil, fmt.Errorf("forecast: %d training rows, need %d", len(x), minTrainingRows)
	}

	log.Printf("forecast: training on %d rows through %s", len(x), runDate.Format("2006-01-02"))
	model, err := f.trainer.Train(x, y)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("primary", "error").Inc()
		return nil, fmt.Errorf("forecast: train: %w", err)
	}
	metrics.TrainingRuns.WithLabelValues("primary", "ok").Inc()

	byDate := make(map[string]features.Row, len(rows))
	for _, r := range rows {
		byDate[r.Date.Format("2006-01-02")] = r
	}

	var records []models.ForecastRecord
	for i := 1; i <= horizon; i++ {
		target := runDate.AddDate(0, 0, i)
		r, ok := byDate[target.Format("2006-01-02")]
		if !ok {
			continue
		}

		raw := model.Predict(r.Vector())
		prev := byDate[target.AddDate(0, 0, -1).Format("2006-01-02")]
		result := Apply(ProtocolInput{
			Raw:                raw,
			Baseline:           r.Lag7Clean,
			WeatherToday:       r.WeatherIndex,
			WeatherYesterday:   prev.WeatherIndex,
			TomorrowCancelRate: r.Lead1ShadowCancelRate,
		})
		for _, rule := range result.Rules {
			metrics.ProtocolRulesFired.WithLabelValues(rule).Inc()
		}

		rec := models.ForecastRecord{
			TargetDate:          target,
			ModelRunDate:        runDate,
			PredictedThroughput: result.Value,
			BaselinePrediction:  sql.NullFloat64{Float64: raw, Valid: true},
			WeatherIndex:        sql.NullFloat64{Float64: r.WeatherIndex, Valid: true},
			PredictedCancelRate: sql.NullFloat64{Float64: r.PredictedCancelRate, Valid: true},
			IsHoliday:           r.Holiday.IsHoliday,
		}
		if r.Holiday.HolidayName != "" {
			rec.HolidayName = sql.NullString{String: r.Holiday.HolidayName, Valid: true}
		}
		if r.FlightVolume > 0 {
			rec.FlightVolume = sql.NullInt64{Int64: int64(r.FlightVolume), Valid: true}
		}
		if trace := result.Trace(); trace != "" {
			rec.RuleTrace = sql.NullString{String: trace, Valid: true}
		}
		records = append(records, rec)
	}

	if err := f.store.SaveForecasts(records); err != nil {
		return nil, fmt.Errorf("forecast: persist: %w", err)
	}
	metrics.ForecastsEmitted.Add(float64(len(records)))
	log.Printf("forecast: wrote %d predictions for run %s", len(records), runDate.Format("2006-01-02"))
	return records, nil
}

// loadInputs reads every series the feature builder joins, spanning
// training history through the forecast horizon.
func (f *Forecaster) loadInputs(runDate time.Time, horizon int) (features.Inputs, []time.Time, error) {
	start, _ := time.Parse("2006-01-02", historyStart)
	end := runDate.AddDate(0, 0, horizon+1) // +1 so lead features resolve

	in := features.Inputs{
		Traffic:      map[string]float64{},
		WeatherIndex: map[string]float64{},
		RevengeIndex: map[string]float64{},
		CancelRate:   map[string]float64{},
		FlightVolume: map[string]float64{},
	}

	traffic, err := f.store.GetTraffic(start, end)
	if err != nil {
		return in, nil, fmt.Errorf("forecast: load traffic: %w", err)
	}
	for _, obs := range traffic {
		if obs.Throughput.Valid {
			in.Traffic[obs.Date.Format("2006-01-02")] = float64(obs.Throughput.Int64)
		}
	}

	indexes, err := f.store.GetWeatherIndexes(start, end)
	if err != nil {
		return in, nil, fmt.Errorf("forecast: load weather indexes: %w", err)
	}
	for _, idx := range indexes {
		key := idx.Date.Format("2006-01-02")
		in.WeatherIndex[key] = idx.NationalSeverity
		in.RevengeIndex[key] = idx.RevengeIndex
	}

	rates, err := f.store.GetCancellationRates(start, end)
	if err != nil {
		return in, nil, fmt.Errorf("forecast: load cancel rates: %w", err)
	}
	for _, r := range rates {
		in.CancelRate[r.Date.Format("2006-01-02")] = r.Rate
	}

	totals, err := f.store.FlightVolumeTotals(start, end, minReportingAirports)
	if err != nil {
		return in, nil, fmt.Errorf("forecast: load flight volumes: %w", err)
	}
	for _, t := range totals {
		if !t.LowConfidence {
			in.FlightVolume[t.Date.Format("2006-01-02")] = float64(t.Total)
		}
	}

	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return in, dates, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
