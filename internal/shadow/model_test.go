package shadow

import (
	"testing"
	"time"

	"github.com/lox/checkpointcast/internal/weather"
)

// syntheticHistory builds two years of daily aggregates where the
// cancellation rate tracks snowfall, with the pandemic window carrying
// absurd rates that must not leak into the fit.
func syntheticHistory() ([]weather.DailyAggregate, map[string]float64) {
	var aggs []weather.DailyAggregate
	rates := map[string]float64{}

	start := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 730; i++ {
		d := start.AddDate(0, 0, i)
		snow := float64(i % 10) // 0..9cm cycling
		agg := weather.DailyAggregate{
			Date:             d,
			MaxSnow:          snow,
			MeanSnow:         snow / 2,
			MaxWind:          20,
			MeanWind:         15,
			MinTemp:          5,
			MeanTemp:         10,
			NationalSeverity: snow,
		}
		aggs = append(aggs, agg)

		key := d.Format("2006-01-02")
		if key >= pandemicStart && key <= pandemicEnd {
			rates[key] = 0.95 // demand collapse, not weather
		} else {
			rates[key] = 0.01 + 0.01*snow
		}
	}
	return aggs, rates
}

func TestTrain_MasksPandemicWindow(t *testing.T) {
	aggs, rates := syntheticHistory()
	model, err := Train(aggs, rates, time.Now())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	// A calm day should predict a small rate. If pandemic rows leaked
	// into the fit the intercept would be dragged far upward.
	calm := weather.DailyAggregate{
		Date: time.Date(2022, time.June, 15, 0, 0, 0, 0, time.UTC),
		MaxWind: 20, MeanWind: 15, MinTemp: 5, MeanTemp: 10,
	}
	if got := model.Predict(calm); got > 0.10 {
		t.Errorf("calm-day rate = %f, want < 0.10 (pandemic rows leaked?)", got)
	}

	// Heavy snow should predict a clearly higher rate than calm.
	stormy := calm
	stormy.MaxSnow = 9
	stormy.MeanSnow = 4.5
	stormy.NationalSeverity = 9
	if model.Predict(stormy) <= model.Predict(calm) {
		t.Error("stormy day should predict a higher rate than a calm day")
	}
}

func TestPredict_Clipped(t *testing.T) {
	aggs, rates := syntheticHistory()
	model, err := Train(aggs, rates, time.Now())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	extreme := weather.DailyAggregate{
		Date:    time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		MaxSnow: 500, MeanSnow: 250, MaxWind: 300, MeanWind: 200,
		MaxPrecip: 500, MeanPrecip: 300, MinTemp: -60, MeanTemp: -40,
		NationalSeverity: 400,
	}
	got := model.Predict(extreme)
	if got < 0 || got > 1 {
		t.Errorf("Predict = %f, want within [0, 1]", got)
	}
}

func TestTrain_RefusesThinHistory(t *testing.T) {
	aggs, rates := syntheticHistory()
	if _, err := Train(aggs[:30], rates, time.Now()); err == nil {
		t.Error("expected error with fewer rows than the minimum")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	aggs, rates := syntheticHistory()
	model, err := Train(aggs, rates, time.Now())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	payload, err := model.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	probe := weather.DailyAggregate{
		Date:    time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		MaxSnow: 4, MeanSnow: 2, MaxWind: 30, MeanWind: 20, MinTemp: -3, MeanTemp: 1,
		NationalSeverity: 8,
	}
	if model.Predict(probe) != restored.Predict(probe) {
		t.Error("restored model predicts differently")
	}

	if _, err := Decode("{}"); err == nil {
		t.Error("decoding an empty artifact should fail")
	}
}
