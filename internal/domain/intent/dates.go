package intent

import (
	"strings"
	"time"
)

// timeWindow is an inclusive range of slot start times on one day.
type timeWindow struct {
	from, until time.Time
}

// partOfDay maps the coarse day parts onto fixed clock ranges. Both bounds
// apply to the slot start and are inclusive.
var partOfDay = map[string][2]int{
	"morning":   {8 * 60, 12 * 60},
	"afternoon": {12 * 60, 17 * 60},
	"evening":   {17 * 60, 21 * 60},
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// parseDate accepts a calendar date in YYYY-MM-DD form. Month and day may
// drop their leading zero.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	d, err := time.ParseInLocation("2006-1-2", s, loc)
	return d, err == nil
}

// interpretDay maps a day phrase onto a date relative to today. A weekday
// name always means its next occurrence strictly after today, so naming
// today's weekday selects the same day next week.
func interpretDay(phrase string, today time.Time) (time.Time, bool) {
	today = midnight(today)
	switch p := strings.ToLower(strings.TrimSpace(phrase)); p {
	case "today", "tdy":
		return today, true
	case "tomorrow", "tmrw", "tommorow":
		return today.AddDate(0, 0, 1), true
	default:
		wd, ok := weekdays[p]
		if !ok {
			return time.Time{}, false
		}
		delta := (int(wd) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta), true
	}
}

// exactTime is the window matching a single HH:MM start on day.
func exactTime(s string, day time.Time) (timeWindow, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return timeWindow{}, false
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
	return timeWindow{from: at, until: at}, true
}

func partWindow(part string, day time.Time) (timeWindow, bool) {
	r, ok := partOfDay[strings.ToLower(strings.TrimSpace(part))]
	if !ok {
		return timeWindow{}, false
	}
	at := func(min int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), min/60, min%60, 0, 0, day.Location())
	}
	return timeWindow{from: at(r[0]), until: at(r[1])}, true
}

func wholeDay(day time.Time) timeWindow {
	return timeWindow{from: day, until: day.AddDate(0, 0, 1).Add(-time.Nanosecond)}
}
