// Package calendar buckets a projected occurrence list into the day, week,
// month and agenda structures used by grid views.
package calendar

import (
	"sort"
	"time"

	"schedcal/internal/dateutil"
	"schedcal/internal/model"
)

// Aggregator builds grids in one display location with one week-start
// convention. It is stateless and safe for concurrent use.
type Aggregator struct {
	loc       *time.Location
	weekStart dateutil.WeekStart
}

func NewAggregator(loc *time.Location, weekStart dateutil.WeekStart) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{loc: loc, weekStart: weekStart}
}

func (a *Aggregator) Location() *time.Location { return a.loc }

func (a *Aggregator) WeekStart() dateutil.WeekStart { return a.weekStart }

// MonthWindow is the [start, end) instant range covered by the month grid
// of anchor, leading and trailing days included.
func (a *Aggregator) MonthWindow(anchor time.Time) (time.Time, time.Time) {
	days := dateutil.MonthDays(anchor.In(a.loc), a.weekStart)
	return days[0], dateutil.AddDays(days[len(days)-1], 1)
}

// WeekWindow is the [start, end) range of anchor's week.
func (a *Aggregator) WeekWindow(anchor time.Time) (time.Time, time.Time) {
	start := dateutil.StartOfWeek(anchor.In(a.loc), a.weekStart)
	return start, dateutil.AddWeeks(start, 1)
}

// DayWindow is the [start, end) range of anchor's calendar date.
func (a *Aggregator) DayWindow(anchor time.Time) (time.Time, time.Time) {
	start := dateutil.StartOfDay(anchor.In(a.loc))
	return start, dateutil.AddDays(start, 1)
}

// BuildMonth lays out the month containing anchor as whole weeks. Days of
// the adjacent months are flagged IsOutsideCurrentMonth.
func (a *Aggregator) BuildMonth(anchor time.Time, occs []model.EventOccurrence, today time.Time) model.CalendarMonth {
	anchor = anchor.In(a.loc)
	buckets := a.bucket(occs)
	days := dateutil.MonthDays(anchor, a.weekStart)

	month := model.CalendarMonth{
		Year:  anchor.Year(),
		Month: anchor.Month(),
		Weeks: make([]model.CalendarWeek, 0, len(days)/7),
	}
	for i := 0; i < len(days); i += 7 {
		var week model.CalendarWeek
		for j := 0; j < 7; j++ {
			d := days[i+j]
			week[j] = a.day(d, buckets, today)
			week[j].IsOutsideCurrentMonth = d.Month() != anchor.Month() || d.Year() != anchor.Year()
		}
		month.Weeks = append(month.Weeks, week)
	}
	return month
}

// BuildWeek lays out the seven days of anchor's week.
func (a *Aggregator) BuildWeek(anchor time.Time, occs []model.EventOccurrence, today time.Time) model.CalendarWeek {
	buckets := a.bucket(occs)
	var week model.CalendarWeek
	for i, d := range dateutil.WeekDays(anchor.In(a.loc), a.weekStart) {
		week[i] = a.day(d, buckets, today)
	}
	return week
}

// BuildDay returns the single day containing date.
func (a *Aggregator) BuildDay(date time.Time, occs []model.EventOccurrence, today time.Time) model.CalendarDay {
	return a.day(dateutil.StartOfDay(date.In(a.loc)), a.bucket(occs), today)
}

// BuildAgenda returns only the days that carry occurrences, ascending.
func (a *Aggregator) BuildAgenda(occs []model.EventOccurrence, today time.Time) []model.CalendarDay {
	buckets := a.bucket(occs)
	keys := make([]dayKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].before(keys[j]) })

	out := make([]model.CalendarDay, 0, len(keys))
	for _, k := range keys {
		d := time.Date(k.y, k.m, k.d, 0, 0, 0, 0, a.loc)
		out = append(out, a.day(d, buckets, today))
	}
	return out
}

func (a *Aggregator) day(d time.Time, buckets map[dayKey][]model.EventOccurrence, today time.Time) model.CalendarDay {
	occs := buckets[keyOf(d)]
	if occs == nil {
		occs = []model.EventOccurrence{}
	}
	return model.CalendarDay{
		Date:        d,
		IsToday:     dateutil.IsToday(d, today),
		IsWeekend:   dateutil.IsWeekend(d),
		Occurrences: occs,
	}
}

type dayKey struct {
	y int
	m time.Month
	d int
}

func keyOf(t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{y, m, d}
}

func (k dayKey) before(o dayKey) bool {
	if k.y != o.y {
		return k.y < o.y
	}
	if k.m != o.m {
		return k.m < o.m
	}
	return k.d < o.d
}

// bucket assigns each occurrence to calendar dates. Timed occurrences land
// on the date of their start in the display location. All-day occurrences
// keep their own floating dates and span start through the date of
// end-1ns, inclusive.
func (a *Aggregator) bucket(occs []model.EventOccurrence) map[dayKey][]model.EventOccurrence {
	out := make(map[dayKey][]model.EventOccurrence)
	for _, o := range occs {
		if !o.AllDay {
			k := keyOf(o.Start.In(a.loc))
			out[k] = append(out[k], o)
			continue
		}
		first := dateutil.StartOfDay(o.Start)
		last := dateutil.StartOfDay(o.End.In(o.Start.Location()).Add(-time.Nanosecond))
		if last.Before(first) {
			last = first
		}
		for d := first; !d.After(last); d = dateutil.AddDays(d, 1) {
			k := keyOf(d)
			out[k] = append(out[k], o)
		}
	}
	for k := range out {
		sortDay(out[k])
	}
	return out
}

// sortDay orders a cell by start, then longer occurrences first, then
// event id.
func sortDay(occs []model.EventOccurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		a, b := occs[i], occs[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if da, db := a.Duration(), b.Duration(); da != db {
			return da > db
		}
		return a.SourceEventID < b.SourceEventID
	})
}
