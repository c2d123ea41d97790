package holiday

import (
	"strings"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEaster(t *testing.T) {
	tests := []struct {
		year int
		want time.Time
	}{
		{2024, day(2024, time.March, 31)},
		{2025, day(2025, time.April, 20)},
		{2026, day(2026, time.April, 5)},
		{2019, day(2019, time.April, 21)},
	}
	for _, tt := range tests {
		if got := Easter(tt.year); !got.Equal(tt.want) {
			t.Errorf("Easter(%d) = %s, want %s", tt.year, got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
		}
	}
}

func TestEvents_MovableHolidays(t *testing.T) {
	events := Events(2024, 2024)
	byName := map[string]time.Time{}
	for _, ev := range events {
		byName[ev.Name] = ev.Date
	}

	tests := []struct {
		name string
		want time.Time
	}{
		{"Thanksgiving", day(2024, time.November, 28)},
		{"Memorial Day", day(2024, time.May, 27)},
		{"Labor Day", day(2024, time.September, 2)},
		{"Martin Luther King Jr. Day", day(2024, time.January, 15)},
		{"Super Bowl Sunday", day(2024, time.February, 11)},
		{"Good Friday", day(2024, time.March, 29)},
	}
	for _, tt := range tests {
		got, ok := byName[tt.name]
		if !ok {
			t.Fatalf("event %q missing", tt.name)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s = %s, want %s", tt.name, got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
		}
	}
}

func TestFeatureFor_ExactDayAndWindow(t *testing.T) {
	tests := []struct {
		date       time.Time
		exact      bool
		window     bool
		tier       int
		nameSubstr string
	}{
		{day(2024, time.December, 25), true, false, Tier1, "Christmas"},
		{day(2024, time.December, 23), false, true, Tier1, "Christmas"},
		{day(2024, time.September, 2), true, false, Tier2, "Labor Day"},
		{day(2024, time.September, 4), false, true, Tier2, "Labor Day"},
		{day(2024, time.August, 14), false, false, 0, ""},
	}
	for _, tt := range tests {
		row := FeatureFor(tt.date)
		if row.IsHoliday != tt.exact {
			t.Errorf("%s: IsHoliday = %v, want %v", tt.date.Format("2006-01-02"), row.IsHoliday, tt.exact)
		}
		if row.IsTravelWindow != tt.window {
			t.Errorf("%s: IsTravelWindow = %v, want %v", tt.date.Format("2006-01-02"), row.IsTravelWindow, tt.window)
		}
		if row.Tier != tt.tier {
			t.Errorf("%s: Tier = %d, want %d", tt.date.Format("2006-01-02"), row.Tier, tt.tier)
		}
		if tt.nameSubstr != "" && !strings.Contains(row.HolidayName, tt.nameSubstr) {
			t.Errorf("%s: HolidayName = %q, want substring %q", tt.date.Format("2006-01-02"), row.HolidayName, tt.nameSubstr)
		}
	}
}

func TestFeatureFor_TierConflictResolvesToTier1(t *testing.T) {
	// 2024-12-31 is New Year's Eve: inside the Tier-1 New Year's window
	// and one day off Christmas's window tail. The Tier-1 name must win.
	row := FeatureFor(day(2024, time.December, 31))
	if row.Tier != Tier1 {
		t.Fatalf("Tier = %d, want %d", row.Tier, Tier1)
	}
	if !strings.Contains(row.HolidayName, "New Year") {
		t.Errorf("HolidayName = %q, want New Year's window", row.HolidayName)
	}
}

func TestFeatureFor_EqualTierConcatenatesNames(t *testing.T) {
	// Good Friday 2026 (2026-04-03) sits two days before Easter Sunday,
	// inside Easter's Tier-2 window. Both names must survive.
	row := FeatureFor(day(2026, time.April, 3))
	if !strings.Contains(row.HolidayName, "Good Friday") || !strings.Contains(row.HolidayName, "Easter") {
		t.Errorf("HolidayName = %q, want both Good Friday and Easter", row.HolidayName)
	}
	if !row.IsHoliday {
		t.Errorf("IsHoliday = false, want true (Good Friday exact day)")
	}
}

func TestDaysToNearest_Clamped(t *testing.T) {
	start := day(2024, time.January, 1)
	var dates []time.Time
	for i := 0; i < 366; i++ {
		dates = append(dates, start.AddDate(0, 0, i))
	}
	for _, row := range Features(dates) {
		if row.DaysToNearest < -15 || row.DaysToNearest > 15 {
			t.Fatalf("%s: DaysToNearest = %d out of [-15,15]", row.Date.Format("2006-01-02"), row.DaysToNearest)
		}
	}
}

func TestDaysToNearest_Ramp(t *testing.T) {
	tests := []struct {
		date time.Time
		want int
	}{
		{day(2024, time.December, 25), 0},
		{day(2024, time.December, 22), -3}, // three days before Christmas
		{day(2024, time.December, 28), 3},  // three after Christmas, four before New Year's
		{day(2024, time.August, 14), -15}, // deep summer gap, clamped approach to Labor Day
	}
	for _, tt := range tests {
		row := FeatureFor(tt.date)
		if row.DaysToNearest != tt.want {
			t.Errorf("%s: DaysToNearest = %d, want %d", tt.date.Format("2006-01-02"), row.DaysToNearest, tt.want)
		}
	}
}

func TestSpringBreakAndLongWeekend(t *testing.T) {
	tests := []struct {
		date        time.Time
		springBreak bool
		longWeekend bool
	}{
		{day(2024, time.March, 16), true, false},  // March Saturday
		{day(2024, time.March, 18), false, false}, // March Monday
		{day(2024, time.July, 13), false, false},  // summer Saturday
		{day(2024, time.September, 2), false, true}, // Labor Day Monday
		{day(2024, time.March, 29), false, true},    // Good Friday: holiday on Friday
	}
	for _, tt := range tests {
		row := FeatureFor(tt.date)
		if row.IsSpringBreak != tt.springBreak {
			t.Errorf("%s: IsSpringBreak = %v, want %v", tt.date.Format("2006-01-02"), row.IsSpringBreak, tt.springBreak)
		}
		if row.IsLongWeekend != tt.longWeekend {
			t.Errorf("%s: IsLongWeekend = %v, want %v", tt.date.Format("2006-01-02"), row.IsLongWeekend, tt.longWeekend)
		}
	}
}

func TestIntensity(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"Christmas Day", 3},
		{"Thanksgiving", 3},
		{"New Year's Day", 3},
		{"Labor Day", 2},
		{"Independence Day", 2},
		{"Veterans Day", 1},
		{"", 0},
	}
	for _, tt := range tests {
		if got := Intensity(tt.name); got != tt.want {
			t.Errorf("Intensity(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestFixedDate(t *testing.T) {
	if !FixedDate(day(2024, time.December, 25)) {
		t.Error("Christmas should be a fixed-date holiday")
	}
	if !FixedDate(day(2024, time.November, 11)) {
		t.Error("Veterans Day should be a fixed-date holiday")
	}
	if FixedDate(day(2024, time.November, 28)) {
		t.Error("Thanksgiving moves; not fixed-date")
	}
}
