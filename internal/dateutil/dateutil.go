// Package dateutil holds the calendar arithmetic used by recurrence
// expansion and grid building. All functions are pure and keep the
// location of their input.
package dateutil

import (
	"fmt"
	"strings"
	"time"
)

// WeekStart is the first day of a displayed week.
type WeekStart time.Weekday

const (
	WeekStartMonday = WeekStart(time.Monday)
	WeekStartSunday = WeekStart(time.Sunday)
)

// ParseWeekStart accepts "monday" or "sunday"; anything else is an error.
func ParseWeekStart(s string) (WeekStart, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monday":
		return WeekStartMonday, nil
	case "sunday":
		return WeekStartSunday, nil
	}
	return WeekStartMonday, fmt.Errorf("unsupported week start %q", s)
}

func (w WeekStart) String() string {
	return strings.ToLower(time.Weekday(w).String())
}

// StartOfDay zeroes the time of day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfMonth returns the first day of t's month at midnight.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// EndOfMonth returns the last day of t's month at midnight.
func EndOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), DaysInMonth(t.Year(), t.Month()), 0, 0, 0, 0, t.Location())
}

// DaysInMonth reports the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// StartOfWeek returns midnight of the week-start day on or before t.
func StartOfWeek(t time.Time, ws WeekStart) time.Time {
	diff := (int(t.Weekday()) - int(ws) + 7) % 7
	return AddDays(StartOfDay(t), -diff)
}

// EndOfWeek returns midnight of the last day of t's week.
func EndOfWeek(t time.Time, ws WeekStart) time.Time {
	return AddDays(StartOfWeek(t, ws), 6)
}

// MonthDays returns the contiguous grid of dates from the week start on or
// before the first of the month through the week end on or after the last
// of the month. The length is always a multiple of 7.
func MonthDays(t time.Time, ws WeekStart) []time.Time {
	first := StartOfWeek(StartOfMonth(t), ws)
	last := EndOfWeek(EndOfMonth(t), ws)

	days := make([]time.Time, 0, 42)
	for d := first; !d.After(last); d = AddDays(d, 1) {
		days = append(days, d)
	}
	return days
}

// WeekDays returns the seven dates of t's week.
func WeekDays(t time.Time, ws WeekStart) []time.Time {
	first := StartOfWeek(t, ws)
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = AddDays(first, i)
	}
	return days
}

// IsSameDay compares calendar dates as seen in each instant's own location.
func IsSameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// IsToday reports whether t falls on the same calendar date as now, viewed
// in t's location.
func IsToday(t, now time.Time) bool {
	return IsSameDay(t, now.In(t.Location()))
}

// IsWeekend reports Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// AddDays adds n calendar days keeping the wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// AddWeeks adds n*7 calendar days.
func AddWeeks(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, 7*n)
}

// AddMonths adds n months. When the day of month does not exist in the
// target month it clamps to the last day instead of overflowing, so
// Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	// Normalize the target month without the day so time.Date cannot overflow.
	target := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if maxDay := DaysInMonth(target.Year(), target.Month()); d > maxDay {
		d = maxDay
	}
	hh, mm, ss := t.Clock()
	return time.Date(target.Year(), target.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// AddYears adds n years with the same clamping as AddMonths (Feb 29 + 1y
// is Feb 28).
func AddYears(t time.Time, n int) time.Time {
	return AddMonths(t, 12*n)
}

// DaysBetween counts whole calendar days from a to b (negative if b is
// before a). Both are compared by date in a's location.
func DaysBetween(a, b time.Time) int {
	a = StartOfDay(a)
	b = StartOfDay(b.In(a.Location()))
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// MonthsBetween counts calendar months from a to b ignoring the day.
func MonthsBetween(a, b time.Time) int {
	b = b.In(a.Location())
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
