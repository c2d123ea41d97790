// Package nowcast produces the same-day throughput prediction. Unlike
// the daily forecast it folds in live flight volume, degrades through
// an explicit fallback ladder when feeds are stale, and always emits a
// number with provenance flags rather than failing.
package nowcast

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/lox/checkpointcast/internal/features"
	"github.com/lox/checkpointcast/internal/metrics"
	"github.com/lox/checkpointcast/internal/models"
	"github.com/lox/checkpointcast/internal/regress"
	"github.com/lox/checkpointcast/internal/store"
)

const (
	// ModelVersion tags every emitted row so consumers can tell which
	// generation of the engine produced it.
	ModelVersion = "sniper-2"

	historyStart = "2019-01-01"

	minTrainingRows      = 120
	minReportingAirports = 10
	volumeWindowDays     = 30

	// Blind adjustment: no usable flight signal, weather only.
	blindSevereSeverity   = 35.0
	blindHighSeverity     = 20.0
	blindElevatedSeverity = 15.0
	blindSeverePenalty    = 0.60
	blindHighPenalty      = 0.80
	blindElevatedPenalty  = 0.90

	// Visible adjustment: live volume shows cancellations directly.
	visibleHighVelocity     = 0.50
	visibleElevatedVelocity = 0.20
	visibleHighPenalty      = 0.50
	visibleElevatedPenalty  = 0.80
	weatherOverrideSevere   = 0.70
	weatherOverrideHigh     = 0.85
)

// VolumeFetcher re-fetches one day of per-airport arrivals when the
// stored totals fail the credibility gate.
type VolumeFetcher interface {
	FetchDay(ctx context.Context, date time.Time) ([]models.FlightVolumeObservation, error)
}

type Engine struct {
	store   *store.Store
	fetcher VolumeFetcher // nil disables JIT re-fetch
	trainer regress.Trainer
}

func New(st *store.Store, fetcher VolumeFetcher) *Engine {
	return &Engine{store: st, fetcher: fetcher, trainer: regress.NewGBMTrainer()}
}

// NewWithTrainer exists for tests substituting a cheap estimator.
func NewWithTrainer(st *store.Store, fetcher VolumeFetcher, trainer regress.Trainer) *Engine {
	return &Engine{store: st, fetcher: fetcher, trainer: trainer}
}

// TargetDate picks the day the nowcast predicts: the first date after
// the published throughput series, clamped to the freshest flight
// data; yesterday when no throughput exists at all.
func (e *Engine) TargetDate(now time.Time) (time.Time, error) {
	latest, ok, err := e.store.LatestTrafficDate()
	if err != nil {
		return time.Time{}, fmt.Errorf("nowcast: latest traffic date: %w", err)
	}
	if !ok {
		return midnight(now).AddDate(0, 0, -1), nil
	}

	target := latest.AddDate(0, 0, 1)
	flightMax, haveFlights, err := e.store.LatestFlightStatsDate()
	if err != nil {
		return time.Time{}, fmt.Errorf("nowcast: latest flight date: %w", err)
	}
	if haveFlights && target.After(flightMax) {
		target = flightMax
	}
	return target, nil
}

// Run produces and persists one nowcast. It returns an error only on
// storage failure; missing upstream data degrades through the ladder
// instead.
func (e *Engine) Run(ctx context.Context, now time.Time) (*models.NowcastResult, error) {
	target, err := e.TargetDate(now)
	if err != nil {
		return nil, err
	}

	resolution, err := e.resolveTargetVolume(ctx, target)
	if err != nil {
		return nil, err
	}

	ma30, err := e.volumeBaseline(target)
	if err != nil {
		return nil, err
	}
	velocity := 1 - resolution.Volume/ma30

	severity := 0.0
	if idx, err := e.store.GetWeatherIndex(target); err != nil {
		return nil, fmt.Errorf("nowcast: weather index: %w", err)
	} else if idx != nil {
		severity = idx.NationalSeverity
	}

	raw, err := e.predict(target, resolution.Volume)
	if err != nil {
		return nil, err
	}

	mult, rules := adjust(resolution, velocity, severity)
	rules = append(rules, resolution.trace())

	result := &models.NowcastResult{
		TargetDate:       target,
		PredictedValue:   raw * mult,
		CancelVelocity:   sql.NullFloat64{Float64: velocity, Valid: true},
		WeatherIndexUsed: sql.NullFloat64{Float64: severity, Valid: true},
		IsFallback:       resolution.IsFallback,
		IsDataOutage:     resolution.IsDataOutage,
		ModelVersion:     ModelVersion,
	}
	if resolution.Source == "same_day" || resolution.Source == "yesterday" {
		result.FlightVolumeUsed = sql.NullInt64{Int64: int64(resolution.Volume), Valid: true}
	}
	if len(rules) > 0 {
		result.RuleTrace = sql.NullString{String: strings.Join(rules, ","), Valid: true}
	}

	if err := e.store.InsertNowcast(*result); err != nil {
		return nil, fmt.Errorf("nowcast: persist: %w", err)
	}
	metrics.NowcastsEmitted.WithLabelValues(fmt.Sprintf("%t", result.IsFallback)).Inc()
	log.Printf("nowcast: %s predicted %.0f (volume=%s velocity=%.2f severity=%.0f)",
		target.Format("2006-01-02"), result.PredictedValue, resolution.Source, velocity, severity)
	return result, nil
}

// resolveTargetVolume reads today's total, re-fetches just-in-time
// when it fails the gate, then walks the fallback ladder.
func (e *Engine) resolveTargetVolume(ctx context.Context, target time.Time) (volumeResolution, error) {
	sameDay, haveSameDay, err := e.credibleTotal(target)
	if err != nil {
		return volumeResolution{}, err
	}

	if (!haveSameDay || sameDay < minCredibleVolume) && e.fetcher != nil {
		log.Printf("nowcast: volume gate failed for %s, re-fetching", target.Format("2006-01-02"))
		obs, err := e.fetcher.FetchDay(ctx, target)
		if err != nil {
			log.Printf("nowcast: jit fetch failed: %v", err)
		} else {
			for _, o := range obs {
				if err := e.store.UpsertFlightStats(o); err != nil {
					return volumeResolution{}, fmt.Errorf("nowcast: store jit stats: %w", err)
				}
			}
			sameDay, haveSameDay, err = e.credibleTotal(target)
			if err != nil {
				return volumeResolution{}, err
			}
		}
	}

	yesterday, haveYesterday, err := e.credibleTotal(target.AddDate(0, 0, -1))
	if err != nil {
		return volumeResolution{}, err
	}

	mean, err := e.historicalMeanVolume(target)
	if err != nil {
		return volumeResolution{}, err
	}

	return resolveVolume(sameDay, yesterday, haveSameDay, haveYesterday, mean), nil
}

func (e *Engine) credibleTotal(date time.Time) (float64, bool, error) {
	total, err := e.store.FlightVolumeTotal(date, minReportingAirports)
	if err != nil {
		return 0, false, fmt.Errorf("nowcast: volume total: %w", err)
	}
	if total == nil || total.LowConfidence {
		return 0, false, nil
	}
	return float64(total.Total), true, nil
}

// volumeBaseline is the 30-day mean of credible totals before the
// target, or the default when none exist.
func (e *Engine) volumeBaseline(target time.Time) (float64, error) {
	totals, err := e.store.FlightVolumeTotals(target.AddDate(0, 0, -volumeWindowDays), target.AddDate(0, 0, -1), minReportingAirports)
	if err != nil {
		return 0, fmt.Errorf("nowcast: volume baseline: %w", err)
	}
	var vals []float64
	for _, t := range totals {
		if !t.LowConfidence {
			vals = append(vals, float64(t.Total))
		}
	}
	if len(vals) == 0 {
		return defaultVolumeBaseline, nil
	}
	mean, err := stats.Mean(stats.Float64Data(vals))
	if err != nil {
		return defaultVolumeBaseline, nil
	}
	return mean, nil
}

func (e *Engine) historicalMeanVolume(target time.Time) (float64, error) {
	return e.volumeBaseline(target)
}

// predict fast-trains on the full feature table with flight volume
// appended, then scores the target date.
func (e *Engine) predict(target time.Time, targetVolume float64) (float64, error) {
	start, _ := time.Parse("2006-01-02", historyStart)
	in, dates, err := e.loadInputs(start, target)
	if err != nil {
		return 0, err
	}

	rows := features.Build(dates, in)

	var x [][]float64
	var y []float64
	var targetRow *features.Row
	for i := range rows {
		r := &rows[i]
		if r.Date.Equal(target) {
			targetRow = r
			continue
		}
		if r.Complete && r.HasTarget {
			x = append(x, append(r.Vector(), r.FlightVolume))
			y = append(y, r.Target)
		}
	}
	if targetRow == nil {
		return 0, fmt.Errorf("nowcast: target %s missing from feature table", target.Format("2006-01-02"))
	}
	if len(x) < minTrainingRows {
		metrics.TrainingRuns.WithLabelValues("sniper", "insufficient_data").Inc()
		return 0, fmt.Errorf("nowcast: %d training rows, need %d", len(x), minTrainingRows)
	}

	model, err := e.trainer.Train(x, y)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("sniper", "error").Inc()
		return 0, fmt.Errorf("nowcast: train: %w", err)
	}
	metrics.TrainingRuns.WithLabelValues("sniper", "ok").Inc()

	return model.Predict(append(targetRow.Vector(), targetVolume)), nil
}

func (e *Engine) loadInputs(start, target time.Time) (features.Inputs, []time.Time, error) {
	in := features.Inputs{
		Traffic:      map[string]float64{},
		WeatherIndex: map[string]float64{},
		RevengeIndex: map[string]float64{},
		CancelRate:   map[string]float64{},
		FlightVolume: map[string]float64{},
	}
	end := target.AddDate(0, 0, 1)

	traffic, err := e.store.GetTraffic(start, end)
	if err != nil {
		return in, nil, fmt.Errorf("nowcast: load traffic: %w", err)
	}
	for _, obs := range traffic {
		if obs.Throughput.Valid {
			in.Traffic[obs.Date.Format("2006-01-02")] = float64(obs.Throughput.Int64)
		}
	}

	indexes, err := e.store.GetWeatherIndexes(start, end)
	if err != nil {
		return in, nil, fmt.Errorf("nowcast: load weather indexes: %w", err)
	}
	for _, idx := range indexes {
		key := idx.Date.Format("2006-01-02")
		in.WeatherIndex[key] = idx.NationalSeverity
		in.RevengeIndex[key] = idx.RevengeIndex
	}

	rates, err := e.store.GetCancellationRates(start, end)
	if err != nil {
		return in, nil, fmt.Errorf("nowcast: load cancel rates: %w", err)
	}
	for _, r := range rates {
		in.CancelRate[r.Date.Format("2006-01-02")] = r.Rate
	}

	totals, err := e.store.FlightVolumeTotals(start, end, minReportingAirports)
	if err != nil {
		return in, nil, fmt.Errorf("nowcast: load flight volumes: %w", err)
	}
	for _, t := range totals {
		if !t.LowConfidence {
			in.FlightVolume[t.Date.Format("2006-01-02")] = float64(t.Total)
		}
	}

	var dates []time.Time
	for d := start; !d.After(target); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return in, dates, nil
}

// adjust picks the disruption multiplier. Blind mode (fallback volume)
// trusts weather alone; visible mode reads cancellation velocity from
// the live volume, with severe weather able to override to the worse
// multiplier.
func adjust(res volumeResolution, velocity, severity float64) (float64, []string) {
	if res.IsFallback {
		switch {
		case severity >= blindSevereSeverity:
			return blindSeverePenalty, []string{"blind:severe"}
		case severity >= blindHighSeverity:
			return blindHighPenalty, []string{"blind:high"}
		case severity >= blindElevatedSeverity:
			return blindElevatedPenalty, []string{"blind:elevated"}
		}
		return 1.0, nil
	}

	velMult := 1.0
	var rules []string
	switch {
	case velocity >= visibleHighVelocity:
		velMult = visibleHighPenalty
		rules = append(rules, "velocity:high")
	case velocity >= visibleElevatedVelocity:
		velMult = visibleElevatedPenalty
		rules = append(rules, "velocity:elevated")
	}

	weatherMult := 1.0
	switch {
	case severity >= blindSevereSeverity:
		weatherMult = weatherOverrideSevere
	case severity >= blindHighSeverity:
		weatherMult = weatherOverrideHigh
	}

	if weatherMult < velMult {
		return weatherMult, append(rules, "weather_override")
	}
	return velMult, rules
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
