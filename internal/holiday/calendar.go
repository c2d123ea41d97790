package holiday

import (
	"sort"
	"strings"
	"time"
)

// Event tiers. Tier 1 events carry an extended travel window and win
// conflicts against tier 2 windows.
const (
	Tier1 = 1
	Tier2 = 2
)

const (
	tier1Window = 6
	tier2Window = 3

	// Distances beyond the window collapse to a fixed rail so the
	// feature is a bounded ramp instead of an unbounded count.
	distanceClamp = 15
)

// Event is a single whitelisted calendar event.
type Event struct {
	Date time.Time
	Name string
	Tier int
}

// FeatureRow is the derived holiday feature set for one date. It is a
// pure function of the date; callers may cache it but never persist it
// as ground truth.
type FeatureRow struct {
	Date             time.Time
	IsHoliday        bool
	IsExactDay       bool
	IsTravelWindow   bool
	HolidayName      string
	Tier             int
	Intensity        int
	DaysToNearest    int
	IsSpringBreak    bool
	IsLongWeekend    bool
}

// Events returns every whitelisted event with a date in [startYear, endYear].
func Events(startYear, endYear int) []Event {
	var events []Event
	for y := startYear; y <= endYear; y++ {
		events = append(events,
			Event{date(y, time.January, 1), "New Year's Day", Tier1},
			Event{date(y, time.July, 4), "Independence Day", Tier1},
			Event{nthWeekday(y, time.November, time.Thursday, 4), "Thanksgiving", Tier1},
			Event{date(y, time.December, 25), "Christmas Day", Tier1},

			Event{nthWeekday(y, time.January, time.Monday, 3), "Martin Luther King Jr. Day", Tier2},
			Event{nthWeekday(y, time.February, time.Monday, 3), "Washington's Birthday", Tier2},
			Event{lastWeekday(y, time.May, time.Monday), "Memorial Day", Tier2},
			Event{date(y, time.June, 19), "Juneteenth", Tier2},
			Event{nthWeekday(y, time.September, time.Monday, 1), "Labor Day", Tier2},
			Event{nthWeekday(y, time.October, time.Monday, 2), "Columbus Day", Tier2},
			Event{date(y, time.November, 11), "Veterans Day", Tier2},
		)

		e := Easter(y)
		events = append(events,
			Event{e, "Easter Sunday", Tier2},
			Event{e.AddDate(0, 0, -2), "Good Friday", Tier2},
		)

		sb := nthWeekday(y, time.February, time.Sunday, 2)
		events = append(events,
			Event{sb, "Super Bowl Sunday", Tier2},
			Event{sb.AddDate(0, 0, 1), "Super Bowl Monday", Tier2},
		)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events
}

// Features computes the holiday feature row for each input date. The
// event calendar is built one year beyond the input range in both
// directions so December/January boundaries resolve correctly.
func Features(dates []time.Time) []FeatureRow {
	if len(dates) == 0 {
		return nil
	}

	minYear, maxYear := dates[0].Year(), dates[0].Year()
	for _, d := range dates {
		if d.Year() < minYear {
			minYear = d.Year()
		}
		if d.Year() > maxYear {
			maxYear = d.Year()
		}
	}
	events := Events(minYear-1, maxYear+1)

	rows := make([]FeatureRow, len(dates))
	for i, d := range dates {
		rows[i] = featureFor(midnight(d), events)
	}
	return rows
}

// FeatureFor computes the feature row for a single date.
func FeatureFor(d time.Time) FeatureRow {
	return featureFor(midnight(d), Events(d.Year()-1, d.Year()+1))
}

func featureFor(d time.Time, events []Event) FeatureRow {
	row := FeatureRow{Date: d, DaysToNearest: distanceClamp}

	minAbs := 1 << 30
	for _, ev := range events {
		diff := daysBetween(ev.Date, d)
		if abs(diff) < minAbs {
			minAbs = abs(diff)
			row.DaysToNearest = clamp(diff)
		}

		window := tier2Window
		if ev.Tier == Tier1 {
			window = tier1Window
		}
		if abs(diff) > window {
			continue
		}

		exact := diff == 0
		switch {
		case row.Tier == 0 || ev.Tier < row.Tier:
			// First hit, or a higher tier displaces whatever was there.
			row.Tier = ev.Tier
			row.HolidayName = ev.Name
			row.IsExactDay = exact
		case ev.Tier == row.Tier:
			// Equal tier: keep both names rather than silently dropping one.
			if !strings.Contains(row.HolidayName, ev.Name) {
				row.HolidayName += " / " + ev.Name
			}
			row.IsExactDay = row.IsExactDay || exact
		}
	}

	if row.Tier != 0 {
		if row.IsExactDay {
			row.IsHoliday = true
		} else {
			row.IsTravelWindow = true
		}
	}
	row.Intensity = Intensity(row.HolidayName)

	wd := d.Weekday()
	if !row.IsHoliday && (d.Month() == time.March || d.Month() == time.April) &&
		(wd == time.Saturday || wd == time.Sunday) {
		row.IsSpringBreak = true
	}
	if row.IsHoliday && (wd == time.Monday || wd == time.Friday) {
		row.IsLongWeekend = true
	}

	return row
}

// Intensity scores how hard a holiday suppresses exact-day travel:
// 3 for the extreme-drop holidays, 2 for standard long weekends, 1 for
// any other named event or window day, 0 for none.
func Intensity(name string) int {
	if name == "" {
		return 0
	}
	lower := strings.ToLower(name)
	for _, h := range []string{"christmas", "thanksgiving", "new year"} {
		if strings.Contains(lower, h) {
			return 3
		}
	}
	for _, h := range []string{"labor", "memorial", "king", "washington", "independence"} {
		if strings.Contains(lower, h) {
			return 2
		}
	}
	return 1
}

// FixedDate reports whether d is one of the fixed-calendar holidays
// where exact-date alignment matters more than weekday alignment for
// year-over-year lags.
func FixedDate(d time.Time) bool {
	switch {
	case d.Month() == time.January && d.Day() == 1:
		return true
	case d.Month() == time.July && d.Day() == 4:
		return true
	case d.Month() == time.November && d.Day() == 11:
		return true
	case d.Month() == time.December && d.Day() == 25:
		return true
	}
	return false
}

// Easter returns Easter Sunday for the given year using the anonymous
// Gregorian computus.
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := date(year, month, 1)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(wd) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func clamp(d int) int {
	if d > distanceClamp-1 {
		return distanceClamp
	}
	if d < -(distanceClamp - 1) {
		return -distanceClamp
	}
	return d
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
