// Package models holds the row structs shared between the store, the
// ingestion clients and the API layer.
package models

import (
	"database/sql"
	"time"
)

// Hub is one monitored airport with the coordinates used for weather
// lookups.
type Hub struct {
	Code string
	Name string
	Lat  float64
	Lon  float64
}

// DailyObservation is one day of official checkpoint throughput.
type DailyObservation struct {
	Date       time.Time
	Throughput sql.NullInt64
	UpdatedAt  time.Time
}

// HubWeather is one hub's raw daily weather observation or forecast.
type HubWeather struct {
	Date            time.Time
	Airport         string
	SnowfallCM      sql.NullFloat64
	WindSpeedKMH    sql.NullFloat64
	PrecipitationMM sql.NullFloat64
	MinTempC        sql.NullFloat64
	MeanTempC       sql.NullFloat64
	IsForecast      bool
}

// WeatherDailyIndex is the national severity reduction for one date,
// with backward lags and the revenge-travel composite.
type WeatherDailyIndex struct {
	Date             time.Time
	NationalSeverity float64
	Lag1             float64
	Lag2             float64
	Lag3             float64
	RevengeIndex     float64
}

// CancellationRateEstimate is a daily system-wide cancellation rate,
// either observed (from the historical extracts) or predicted by the
// shadow model.
type CancellationRateEstimate struct {
	Date      time.Time
	Rate      float64
	Source    string // "observed" or "predicted"
	UpdatedAt time.Time
}

// FlightVolumeObservation is one airport's arrival count for one date.
type FlightVolumeObservation struct {
	Date      time.Time
	Airport   string
	Arrivals  sql.NullInt64
	FetchedAt time.Time
}

// FlightVolumeTotal is the national aggregate of per-airport arrival
// counts. LowConfidence marks totals built from too few airports to
// trust; they must never be read as a real collapse in volume.
type FlightVolumeTotal struct {
	Date          time.Time
	Total         int64
	AirportCount  int
	LowConfidence bool
}

// ForecastRecord is one emitted prediction, keyed by
// (TargetDate, ModelRunDate). The same target accumulates one row per
// run so forecast evolution stays queryable.
type ForecastRecord struct {
	TargetDate           time.Time
	ModelRunDate         time.Time
	PredictedThroughput  float64
	BaselinePrediction   sql.NullFloat64
	WeatherIndex         sql.NullFloat64
	PredictedCancelRate  sql.NullFloat64
	IsHoliday            bool
	HolidayName          sql.NullString
	FlightVolume         sql.NullInt64
	RuleTrace            sql.NullString
	CreatedAt            time.Time
}

// NowcastResult is one same-day prediction with its provenance flags.
type NowcastResult struct {
	TargetDate       time.Time
	PredictedValue   float64
	FlightVolumeUsed sql.NullInt64
	CancelVelocity   sql.NullFloat64
	WeatherIndexUsed sql.NullFloat64
	IsFallback       bool
	IsDataOutage     bool
	ModelVersion     string
	RuleTrace        sql.NullString
	CreatedAt        time.Time
}

// MarketSnapshot is one observation of a prediction-market outcome.
type MarketSnapshot struct {
	CapturedAt   time.Time
	EventSlug    string
	OutcomeLabel string
	Probability  float64
	Volume       sql.NullFloat64
}

// AirportEvent is a ground stop, ground delay program or closure pulled
// from the national airspace status feed.
type AirportEvent struct {
	Airport   string
	EventType string
	Reason    sql.NullString
	AvgDelay  sql.NullString
	StartedAt sql.NullString
	SeenAt    time.Time
	Active    bool
}

// ValidationRow pairs a forecast with the actual that later arrived for
// the same date.
type ValidationRow struct {
	Date      time.Time
	Predicted float64
	Actual    sql.NullInt64
	ErrorPct  sql.NullFloat64
}
