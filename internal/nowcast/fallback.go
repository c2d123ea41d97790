package nowcast

import "fmt"

const (
	// Volumes below this are partial fetches, not a real day of
	// national arrivals; they trigger the fallback ladder.
	minCredibleVolume = 500

	// Volumes below this even after fallback mean the upstream feed
	// is down entirely.
	outageFloor = 100

	// Baseline volume when no history exists to average.
	defaultVolumeBaseline = 5000
)

// volumeResolution is the outcome of the fallback ladder: the volume
// the model will see and where it came from.
type volumeResolution struct {
	Volume       float64
	Source       string
	IsFallback   bool
	IsDataOutage bool
}

// resolveVolume walks the ladder in order: today's total, yesterday's
// total, then the historical mean. Each substitute must itself be
// credible before it is used.
func resolveVolume(sameDay, yesterday float64, haveSameDay, haveYesterday bool, historicalMean float64) volumeResolution {
	if haveSameDay && sameDay >= minCredibleVolume {
		return volumeResolution{Volume: sameDay, Source: "same_day"}
	}

	if haveYesterday && yesterday >= minCredibleVolume {
		return volumeResolution{Volume: yesterday, Source: "yesterday", IsFallback: true}
	}

	mean := historicalMean
	if mean <= 0 {
		mean = defaultVolumeBaseline
	}
	res := volumeResolution{Volume: mean, Source: "historical_mean", IsFallback: true}
	if mean < outageFloor {
		res.IsDataOutage = true
	}
	return res
}

func (r volumeResolution) trace() string {
	return fmt.Sprintf("volume:%s", r.Source)
}
