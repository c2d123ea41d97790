package forecast

import (
	"fmt"
	"strings"
)

// Circuit-breaker thresholds. The model has no training signal for
// rare severe disruptions, so these rules cap its output instead of
// trusting extrapolation.
const (
	protocolWeatherFloor     = 10.0 // severity where suppression starts
	protocolPerPointPenalty  = 0.02
	protocolMaxSuppression   = 0.80 // multiplier never drops below this
	protocolHangoverSeverity = 30.0
	protocolHangoverPenalty  = 0.90
	protocolFearCancelRate   = 0.20
	protocolFearPenalty      = 0.90
)

// ProtocolInput carries everything the circuit breaker inspects for
// one target date.
type ProtocolInput struct {
	Raw                float64 // model's raw prediction
	Baseline           float64 // lag-based demand baseline
	WeatherToday       float64 // severity index for the target date
	WeatherYesterday   float64 // severity index for the prior date
	TomorrowCancelRate float64 // shadow estimate one day ahead
}

// ProtocolResult is the adjusted prediction with the rules that fired.
type ProtocolResult struct {
	Value      float64
	Multiplier float64
	Rules      []string
}

// Trace renders the fired rules for persistence, empty when none.
func (r ProtocolResult) Trace() string {
	return strings.Join(r.Rules, ",")
}

// Apply runs the Blind Flight Protocol over a raw model prediction.
// The output never exceeds the raw prediction: the protocol only
// suppresses, it never inflates.
func Apply(in ProtocolInput) ProtocolResult {
	mult := 1.0
	var rules []string

	if in.WeatherToday >= protocolWeatherFloor {
		m := 1 - protocolPerPointPenalty*(in.WeatherToday-protocolWeatherFloor)
		if m < protocolMaxSuppression {
			m = protocolMaxSuppression
		}
		if m > 1 {
			m = 1
		}
		mult *= m
		rules = append(rules, fmt.Sprintf("today:%.2f", m))
	}

	if in.WeatherYesterday >= protocolHangoverSeverity {
		mult *= protocolHangoverPenalty
		rules = append(rules, "hangover")
	}

	if in.TomorrowCancelRate > protocolFearCancelRate {
		mult *= protocolFearPenalty
		rules = append(rules, "fear")
	}

	value := in.Raw * mult
	if mult < 1 && in.Baseline > 0 {
		// Anchor to the suppressed baseline when the model's raw
		// number already sits below it, whichever is lower.
		floored := in.Baseline * mult
		if in.Raw < floored {
			value = in.Raw
		} else {
			value = floored
			rules = append(rules, "floor")
		}
	}

	return ProtocolResult{Value: value, Multiplier: mult, Rules: rules}
}
