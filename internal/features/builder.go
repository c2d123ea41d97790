// Package features assembles the date-indexed training and scoring
// table for the throughput model: calendar components, holiday
// structure, weather severity, shadow cancellation estimates and the
// family of throughput lags.
package features

import (
	"time"

	"github.com/lox/checkpointcast/internal/holiday"
)

const (
	// lag_7_clean walks back in week-long hops until it lands on a
	// non-holiday, giving a demand baseline uncontaminated by a
	// holiday falling on the same weekday.
	maxCleanHops = 4

	lagWeek = 7
	lagYear = 364 // same weekday one year back
)

// Inputs are the per-date series the builder joins, keyed by
// YYYY-MM-DD.
type Inputs struct {
	Traffic      map[string]float64 // published daily throughput
	WeatherIndex map[string]float64 // national severity
	RevengeIndex map[string]float64
	CancelRate   map[string]float64 // shadow cancellation estimates
	FlightVolume map[string]float64 // national arrival totals
}

// Row is one date's assembled feature set.
type Row struct {
	Date    time.Time
	Holiday holiday.FeatureRow

	Target    float64
	HasTarget bool

	Lag7           float64
	Lag364         float64
	Lag7Clean      float64
	LagHolidayYoY  float64
	Lag7Adjusted   float64
	Lag364Adjusted float64

	WeatherIndex          float64
	PredictedCancelRate   float64
	RevengeIndex          float64
	Lead1ShadowCancelRate float64
	FlightVolume          float64

	OffPeakWorkday bool
	IsWeekend      bool

	// Complete marks rows whose core lags resolved; incomplete rows
	// are scored but never trained on.
	Complete bool
}

// FeatureNames is the column order of Vector.
var FeatureNames = []string{
	"day_of_week", "month", "day_of_month", "day_of_year",
	"is_weekend", "off_peak_workday",
	"is_holiday", "is_travel_window", "holiday_tier", "holiday_intensity",
	"days_to_nearest_holiday", "is_long_weekend", "is_spring_break",
	"weather_index", "predicted_cancel_rate", "revenge_index",
	"lead_1_shadow_cancel_rate",
	"lag_7_clean", "lag_holiday_yoy", "lag_7_adjusted", "lag_364_adjusted",
}

// Vector orders the row into the trainer's input, matching
// FeatureNames.
func (r Row) Vector() []float64 {
	return []float64{
		float64(r.Date.Weekday()),
		float64(r.Date.Month()),
		float64(r.Date.Day()),
		float64(r.Date.YearDay()),
		boolF(r.IsWeekend),
		boolF(r.OffPeakWorkday),
		boolF(r.Holiday.IsHoliday),
		boolF(r.Holiday.IsTravelWindow),
		float64(r.Holiday.Tier),
		float64(r.Holiday.Intensity),
		float64(r.Holiday.DaysToNearest),
		boolF(r.Holiday.IsLongWeekend),
		boolF(r.Holiday.IsSpringBreak),
		r.WeatherIndex,
		r.PredictedCancelRate,
		r.RevengeIndex,
		r.Lead1ShadowCancelRate,
		r.Lag7Clean,
		r.LagHolidayYoY,
		r.Lag7Adjusted,
		r.Lag364Adjusted,
	}
}

// Build assembles one Row per input date. Dates must not need to be
// contiguous; lags resolve through the Traffic map directly.
func Build(dates []time.Time, in Inputs) []Row {
	holidays := holiday.Features(dates)
	rows := make([]Row, len(dates))

	for i, d := range dates {
		key := d.Format("2006-01-02")
		r := Row{Date: d, Holiday: holidays[i]}

		if v, ok := in.Traffic[key]; ok {
			r.Target = v
			r.HasTarget = true
		}

		r.WeatherIndex = in.WeatherIndex[key]
		r.RevengeIndex = in.RevengeIndex[key]
		r.PredictedCancelRate = in.CancelRate[key]
		r.Lead1ShadowCancelRate = in.CancelRate[d.AddDate(0, 0, 1).Format("2006-01-02")]
		r.FlightVolume = in.FlightVolume[key]

		var ok7, ok364 bool
		r.Lag7, ok7 = lagValue(in.Traffic, d, lagWeek)

		// Fixed-date holidays align by date, not weekday: Christmas
		// compares to last Christmas, not to the same weekday.
		yearLag := lagYear
		if holiday.FixedDate(d) {
			yearLag = 365
		}
		r.Lag364, ok364 = lagValue(in.Traffic, d, yearLag)

		r.Lag7Clean = cleanWeekLag(in.Traffic, d, r.Lag7)
		r.LagHolidayYoY = holidayYoY(in.Traffic, d, holidays[i], r.Lag364)

		r.Lag7Adjusted = adjustLag(r.Lag7, in.CancelRate, d, lagWeek)
		r.Lag364Adjusted = adjustLag(r.Lag364, in.CancelRate, d, yearLag)

		wd := d.Weekday()
		r.IsWeekend = wd == time.Saturday || wd == time.Sunday
		r.OffPeakWorkday = offPeakWorkday(d)

		r.Complete = ok7 && ok364
		rows[i] = r
	}
	return rows
}

func lagValue(traffic map[string]float64, d time.Time, days int) (float64, bool) {
	v, ok := traffic[d.AddDate(0, 0, -days).Format("2006-01-02")]
	return v, ok
}

// cleanWeekLag hops back a week at a time, up to maxCleanHops, until
// the landing date is not an exact holiday. Falls back to the plain
// week lag when every hop lands on one.
func cleanWeekLag(traffic map[string]float64, d time.Time, fallback float64) float64 {
	for hop := 1; hop <= maxCleanHops; hop++ {
		cand := d.AddDate(0, 0, -lagWeek*hop)
		if holiday.FeatureFor(cand).IsHoliday {
			continue
		}
		if v, ok := traffic[cand.Format("2006-01-02")]; ok {
			return v
		}
	}
	return fallback
}

// holidayYoY aligns exact holiday days to the same named holiday one
// year earlier, so Thanksgiving compares to Thanksgiving even though
// it moves. Non-holiday days use the plain year lag.
func holidayYoY(traffic map[string]float64, d time.Time, row holiday.FeatureRow, fallback float64) float64 {
	if !row.IsHoliday {
		return fallback
	}
	for _, ev := range holiday.Events(d.Year()-1, d.Year()-1) {
		if ev.Name == primaryName(row.HolidayName) {
			if v, ok := traffic[ev.Date.Format("2006-01-02")]; ok {
				return v
			}
			break
		}
	}
	return fallback
}

// primaryName strips the concatenated overlap suffix, keeping the
// first (highest precedence) name.
func primaryName(name string) string {
	for i := 0; i+2 < len(name); i++ {
		if name[i:i+3] == " / " {
			return name[:i]
		}
	}
	return name
}

// adjustLag deflates a throughput lag by the cancellation rate that
// prevailed on the lagged day, approximating the demand that would
// have flown in clear weather.
func adjustLag(lag float64, rates map[string]float64, d time.Time, days int) float64 {
	rate := rates[d.AddDate(0, 0, -days).Format("2006-01-02")]
	return lag * (1 - rate)
}

// offPeakWorkday marks the structurally quietest travel days:
// mid-week in the dead months.
func offPeakWorkday(d time.Time) bool {
	switch d.Month() {
	case time.January, time.February, time.September, time.October:
	default:
		return false
	}
	return d.Weekday() == time.Tuesday || d.Weekday() == time.Wednesday
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
