package weather

import (
	"sort"
	"time"

	"github.com/lox/checkpointcast/internal/models"
)

// Threshold scoring for a single hub. Tiers are additive so a deeper
// violation always scores more than a shallow one.
const (
	snowMinorCM  = 1.0
	snowMajorCM  = 5.0
	windMinorKMH = 29.0
	windMajorKMH = 45.0
	heavyRainMM  = 20.0
	freezingC    = 0.0
	deepFreezeC  = -10.0

	// A hub at or above this score counts as a "bad hub" for the
	// simultaneous-failure penalty.
	badHubScore = 3
)

// ScoreHub converts one hub's raw daily observation into a severity score.
func ScoreHub(snowCM, windKMH, precipMM, minTempC float64) int {
	score := 0
	if snowCM > snowMinorCM {
		score += 5
	}
	if snowCM > snowMajorCM {
		score += 3
	}
	if windKMH > windMinorKMH {
		score += 3
	}
	if windKMH > windMajorKMH {
		score += 2
	}
	if precipMM > heavyRainMM {
		score += 1
	}
	if minTempC < freezingC {
		score += 1
	}
	if minTempC < deepFreezeC {
		score += 1
	}
	return score
}

// NationalIndex reduces per-hub scores for one date into the national
// severity index: the sum of hub scores plus a penalty when several
// hubs fail at once, since simultaneous regional failures disrupt far
// more than one bad airport.
func NationalIndex(hubScores []int) int {
	base := 0
	badHubs := 0
	for _, s := range hubScores {
		base += s
		if s >= badHubScore {
			badHubs++
		}
	}
	switch {
	case badHubs >= 3:
		return base + 20
	case badHubs >= 2:
		return base + 10
	}
	return base
}

// DailyAggregate is the national reduction of all hub observations for
// one date, shaped for the shadow cancellation model.
type DailyAggregate struct {
	Date             time.Time
	MaxSnow          float64
	MeanSnow         float64
	MaxWind          float64
	MeanWind         float64
	MaxPrecip        float64
	MeanPrecip       float64
	MinTemp          float64
	MeanTemp         float64
	NationalSeverity float64
}

// Aggregate reduces per-hub daily observations into one DailyAggregate
// per date, sorted chronologically. Duplicate (date, airport) rows are
// de-duplicated keeping the last, so a re-fetch always replaces rather
// than appends.
func Aggregate(rows []models.HubWeather) []DailyAggregate {
	type key struct {
		date    string
		airport string
	}
	latest := make(map[key]models.HubWeather)
	for _, r := range rows {
		latest[key{r.Date.Format("2006-01-02"), r.Airport}] = r
	}

	byDate := make(map[string][]models.HubWeather)
	for k, r := range latest {
		byDate[k.date] = append(byDate[k.date], r)
	}

	var out []DailyAggregate
	for _, hubs := range byDate {
		agg := DailyAggregate{Date: hubs[0].Date, MinTemp: 99}
		var scores []int
		var sumSnow, sumWind, sumPrecip, sumTemp float64
		tempCount := 0
		for _, h := range hubs {
			snow := h.SnowfallCM.Float64
			wind := h.WindSpeedKMH.Float64
			precip := h.PrecipitationMM.Float64
			sumSnow += snow
			sumWind += wind
			sumPrecip += precip
			if snow > agg.MaxSnow {
				agg.MaxSnow = snow
			}
			if wind > agg.MaxWind {
				agg.MaxWind = wind
			}
			if precip > agg.MaxPrecip {
				agg.MaxPrecip = precip
			}
			if h.MinTempC.Valid {
				if h.MinTempC.Float64 < agg.MinTemp {
					agg.MinTemp = h.MinTempC.Float64
				}
				sumTemp += h.MinTempC.Float64
				tempCount++
			}
			scores = append(scores, ScoreHub(snow, wind, precip, minTempOrZero(h)))
		}
		n := float64(len(hubs))
		agg.MeanSnow = sumSnow / n
		agg.MeanWind = sumWind / n
		agg.MeanPrecip = sumPrecip / n
		if tempCount > 0 {
			agg.MeanTemp = sumTemp / float64(tempCount)
		} else {
			agg.MinTemp = 0
		}
		agg.NationalSeverity = float64(NationalIndex(scores))
		out = append(out, agg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func minTempOrZero(h models.HubWeather) float64 {
	if h.MinTempC.Valid {
		return h.MinTempC.Float64
	}
	return 0
}

// Indexes expands chronological DailyAggregates into WeatherDailyIndex
// rows carrying the backward severity lags and the revenge-travel
// composite. Days missing from the input contribute a neutral zero to
// the lags of their successors.
func Indexes(aggs []DailyAggregate) []models.WeatherDailyIndex {
	byDate := make(map[string]float64, len(aggs))
	for _, a := range aggs {
		byDate[a.Date.Format("2006-01-02")] = a.NationalSeverity
	}

	out := make([]models.WeatherDailyIndex, 0, len(aggs))
	for _, a := range aggs {
		lag := func(days int) float64 {
			return byDate[a.Date.AddDate(0, 0, -days).Format("2006-01-02")]
		}
		idx := models.WeatherDailyIndex{
			Date:             a.Date,
			NationalSeverity: a.NationalSeverity,
			Lag1:             lag(1),
			Lag2:             lag(2),
			Lag3:             lag(3),
		}
		idx.RevengeIndex = RevengeIndex(idx.Lag1, idx.Lag2, idx.Lag3)
		out = append(out, idx)
	}
	return out
}

// RevengeIndex weights the last three days of national severity into a
// forward-looking rebound signal: travellers displaced by a storm come
// back over the following days.
func RevengeIndex(lag1, lag2, lag3 float64) float64 {
	return 0.5*lag1 + 0.3*lag2 + 0.2*lag3
}
