// Package shadow estimates the daily system-wide flight cancellation
// rate from aggregated hub weather. The estimate feeds the primary
// throughput model as a feature; it is never shown as a forecast of
// its own.
package shadow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/checkpointcast/internal/regress"
	"github.com/lox/checkpointcast/internal/weather"
)

const (
	// Training rows inside this window are excluded: cancellations
	// then were driven by collapse in demand, not weather.
	pandemicStart = "2020-03-01"
	pandemicEnd   = "2021-12-31"

	minTrainingRows = 60

	ridgeAlpha = 1.0
)

// ArtifactName keys the serialized model in the artifact store.
const ArtifactName = "shadow_cancel_model"

// Model is a fitted cancellation-rate estimator. Once trained it is
// immutable; retraining produces a new Model.
type Model struct {
	Ridge     *regress.RidgeModel `json:"ridge"`
	TrainedAt time.Time           `json:"trained_at"`
	Rows      int                 `json:"rows"`
}

// Train fits a new model from aggregated daily weather joined against
// observed cancellation rates by date. Pandemic-era rows are masked
// out before fitting.
func Train(aggs []weather.DailyAggregate, observedRates map[string]float64, now time.Time) (*Model, error) {
	pStart, _ := time.Parse("2006-01-02", pandemicStart)
	pEnd, _ := time.Parse("2006-01-02", pandemicEnd)

	var x [][]float64
	var y []float64
	for _, agg := range aggs {
		rate, ok := observedRates[agg.Date.Format("2006-01-02")]
		if !ok {
			continue
		}
		if !agg.Date.Before(pStart) && !agg.Date.After(pEnd) {
			continue
		}
		x = append(x, featureVector(agg))
		y = append(y, rate)
	}

	if len(x) < minTrainingRows {
		return nil, fmt.Errorf("shadow: %d usable rows, need %d", len(x), minTrainingRows)
	}

	fitted, err := regress.NewRidgeTrainer(ridgeAlpha).Train(x, y)
	if err != nil {
		return nil, fmt.Errorf("shadow: train: %w", err)
	}

	return &Model{
		Ridge:     fitted.(*regress.RidgeModel),
		TrainedAt: now.UTC(),
		Rows:      len(x),
	}, nil
}

// Predict returns the estimated cancellation rate for one day's
// aggregated weather, clipped to [0, 1].
func (m *Model) Predict(agg weather.DailyAggregate) float64 {
	rate := m.Ridge.Predict(featureVector(agg))
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

// Encode serializes the model for the artifact store.
func (m *Model) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("shadow: encode: %w", err)
	}
	return string(b), nil
}

// Decode restores a model from a stored artifact payload.
func Decode(payload string) (*Model, error) {
	var m Model
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("shadow: decode: %w", err)
	}
	if m.Ridge == nil {
		return nil, fmt.Errorf("shadow: decode: empty artifact")
	}
	return &m, nil
}

// featureVector orders the weather aggregate into the model's input.
// Snow enters squared as well: impact grows faster than depth.
func featureVector(agg weather.DailyAggregate) []float64 {
	return []float64{
		agg.MaxSnow,
		agg.MeanSnow,
		agg.MaxSnow * agg.MaxSnow,
		agg.MeanSnow * agg.MeanSnow,
		agg.MaxWind,
		agg.MeanWind,
		agg.MaxPrecip,
		agg.MeanPrecip,
		agg.MinTemp,
		agg.MeanTemp,
		agg.NationalSeverity,
		float64(agg.Date.Month()),
		float64(agg.Date.YearDay()),
	}
}
