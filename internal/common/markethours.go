package common

import (
	"time"
)

// Run-window reasons reported by ShouldRun.
const (
	ReasonWeekend       = "weekend"
	ReasonHoliday       = "holiday"
	ReasonOptimalWindow = "optimal-window"
	ReasonAcceptable    = "acceptable"
	ReasonMarketHours   = "market-hours"
	ReasonOffWindow     = "off-window"
)

// MarketCalendar decides whether an ingestion run should start now.
// Defaults to US Eastern with the NYSE holiday schedule; both the location
// and the holiday set can be overridden.
type MarketCalendar struct {
	location *time.Location
	holidays map[string]bool // "2006-01-02" keys; nil means computed NYSE set
}

// NewMarketCalendar returns the default US Eastern calendar.
func NewMarketCalendar() *MarketCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	return &MarketCalendar{location: loc}
}

// WithLocation overrides the exchange-local timezone.
func (c *MarketCalendar) WithLocation(loc *time.Location) *MarketCalendar {
	c.location = loc
	return c
}

// WithHolidays overrides the holiday set with explicit YYYY-MM-DD dates.
func (c *MarketCalendar) WithHolidays(dates []string) *MarketCalendar {
	c.holidays = make(map[string]bool, len(dates))
	for _, d := range dates {
		c.holidays[d] = true
	}
	return c
}

// ShouldRun reports whether an ingestion run should start at the given
// instant, with the reason. Weekends and exchange holidays never run;
// 18:00-23:00 exchange-local is the optimal window, midnight-09:00 is
// acceptable, and regular market hours are refused.
func (c *MarketCalendar) ShouldRun(now time.Time) (bool, string) {
	local := now.In(c.location)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false, ReasonWeekend
	}

	if c.IsHoliday(local) {
		return false, ReasonHoliday
	}

	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes >= 18*60 && minutes < 23*60:
		return true, ReasonOptimalWindow
	case minutes < 9*60:
		return true, ReasonAcceptable
	case minutes >= 9*60+30 && minutes < 16*60:
		return false, ReasonMarketHours
	default:
		return false, ReasonOffWindow
	}
}

// IsHoliday reports whether the given date is an exchange holiday.
func (c *MarketCalendar) IsHoliday(t time.Time) bool {
	local := t.In(c.location)
	key := local.Format("2006-01-02")
	if c.holidays != nil {
		return c.holidays[key]
	}
	return nyseHolidays(local.Year())[key]
}

// IsBusinessDay reports whether the given date is a weekday and not a holiday.
func (c *MarketCalendar) IsBusinessDay(t time.Time) bool {
	local := t.In(c.location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(local)
}

// nyseHolidays computes the NYSE full-closure dates for a year,
// weekend observance applied.
func nyseHolidays(year int) map[string]bool {
	loc := time.UTC
	days := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, loc)), // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),              // MLK Day
		nthWeekday(year, time.February, time.Monday, 3),             // Washington's Birthday
		goodFriday(year),                                              // Good Friday
		lastWeekday(year, time.May, time.Monday),                      // Memorial Day
		observed(time.Date(year, time.June, 19, 0, 0, 0, 0, loc)),     // Juneteenth
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, loc)),      // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),              // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),             // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, loc)), // Christmas
	}

	out := make(map[string]bool, len(days))
	for _, d := range days {
		out[d.Format("2006-01-02")] = true
	}
	return out
}

// observed shifts a fixed-date holiday to Friday or Monday when it lands on a
// weekend, per exchange observance rules.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != weekday {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != weekday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday returns Good Friday via the Gregorian computus.
func goodFriday(year int) time.Time {
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
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
