package forecast

import (
	"math"
	"strings"
	"testing"
)

func TestApply_NoRulesPassesThrough(t *testing.T) {
	result := Apply(ProtocolInput{Raw: 2000000, Baseline: 2100000, WeatherToday: 5})
	if result.Value != 2000000 {
		t.Errorf("Value = %f, want untouched 2000000", result.Value)
	}
	if result.Multiplier != 1.0 {
		t.Errorf("Multiplier = %f, want 1.0", result.Multiplier)
	}
	if len(result.Rules) != 0 {
		t.Errorf("Rules = %v, want none", result.Rules)
	}
}

func TestApply_TodayRuleScalesWithSeverity(t *testing.T) {
	tests := []struct {
		severity float64
		wantMult float64
	}{
		{10, 1.00}, // at the floor the penalty is zero
		{15, 0.90},
		{20, 0.80},
		{40, 0.80}, // capped at maximum suppression
	}
	for _, tt := range tests {
		result := Apply(ProtocolInput{Raw: 1000, WeatherToday: tt.severity})
		if math.Abs(result.Multiplier-tt.wantMult) > 1e-9 {
			t.Errorf("severity %f: Multiplier = %f, want %f", tt.severity, result.Multiplier, tt.wantMult)
		}
	}
}

func TestApply_HangoverAndFearStack(t *testing.T) {
	result := Apply(ProtocolInput{
		Raw:                1000,
		WeatherToday:       20, // 0.80
		WeatherYesterday:   35, // hangover 0.90
		TomorrowCancelRate: 0.25,
	})
	want := 0.80 * 0.90 * 0.90
	if math.Abs(result.Multiplier-want) > 1e-9 {
		t.Errorf("Multiplier = %f, want %f", result.Multiplier, want)
	}
	trace := result.Trace()
	for _, rule := range []string{"today", "hangover", "fear"} {
		if !strings.Contains(trace, rule) {
			t.Errorf("trace %q missing rule %q", trace, rule)
		}
	}
}

func TestApply_FloorAnchorsToBaseline(t *testing.T) {
	// Raw way above baseline: final anchors to baseline * mult.
	result := Apply(ProtocolInput{Raw: 3000000, Baseline: 2000000, WeatherToday: 20})
	want := 2000000 * 0.80
	if math.Abs(result.Value-want) > 1e-6 {
		t.Errorf("Value = %f, want baseline-anchored %f", result.Value, want)
	}
	if !strings.Contains(result.Trace(), "floor") {
		t.Errorf("trace %q missing floor rule", result.Trace())
	}

	// Raw already below the suppressed baseline: keep raw.
	result = Apply(ProtocolInput{Raw: 1000000, Baseline: 2000000, WeatherToday: 20})
	if result.Value != 1000000 {
		t.Errorf("Value = %f, want raw 1000000", result.Value)
	}
}

func TestApply_NeverIncreases(t *testing.T) {
	inputs := []ProtocolInput{
		{Raw: 1000, Baseline: 5000, WeatherToday: 50},
		{Raw: 1000, Baseline: 0, WeatherToday: 50, WeatherYesterday: 50, TomorrowCancelRate: 0.9},
		{Raw: 1000, Baseline: 900, WeatherToday: 12},
		{Raw: 1000, Baseline: 1100},
	}
	for _, in := range inputs {
		if got := Apply(in).Value; got > in.Raw {
			t.Errorf("Apply(%+v) = %f, exceeds raw %f", in, got, in.Raw)
		}
	}
}
