// Package recurrence expands an event's recurrence rule into concrete
// occurrences. Expansion is pure and bounded: every call stops on the
// rule's COUNT/UNTIL, the window end, or the iteration cap.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"schedcal/internal/dateutil"
	"schedcal/internal/model"
)

const DefaultMaxIterations = 5000

var (
	ErrInvalidRule    = errors.New("invalid recurrence rule")
	ErrInvalidWindow  = errors.New("invalid expansion window")
	ErrUnbounded      = errors.New("unbounded expansion: rule has no COUNT or UNTIL and no window end")
	ErrIterationLimit = errors.New("expansion iteration limit exceeded")
)

// Config controls the expander's safety cap.
type Config struct {
	// MaxIterations caps the number of recurrence periods visited by a
	// single call. Zero means DefaultMaxIterations.
	MaxIterations int
}

// Expander turns an event and its rule into occurrences.
type Expander struct {
	maxIterations int
}

func NewExpander(cfg Config) *Expander {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Expander{maxIterations: cfg.MaxIterations}
}

// Cursor records where a previous expansion stopped. Period is the number
// of interval steps from the anchor; Emitted is how many occurrences were
// counted toward COUNT before that period.
type Cursor struct {
	Period  int `json:"period"`
	Emitted int `json:"emitted"`
}

// Expansion is the result of ExpandFrom.
type Expansion struct {
	Occurrences []model.EventOccurrence
	// Next resumes expansion at the first period not fully emitted.
	Next Cursor
	// Exhausted is true once the rule's own COUNT or UNTIL bound was hit,
	// or the event does not recur.
	Exhausted bool
}

// Validate rejects rules the expander cannot honor.
func Validate(r model.RecurrenceRule) error {
	switch r.Frequency {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly, model.FrequencyYearly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRule, r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidRule, r.Count)
	}
	for _, d := range r.ByWeekday {
		if !d.Valid() {
			return fmt.Errorf("%w: weekday %d outside MO..SU", ErrInvalidRule, int(d))
		}
	}
	return nil
}

// Expand returns the occurrences of ev intersecting [windowStart, windowEnd).
// A zero bound leaves that side of the window open.
func (x *Expander) Expand(ev model.Event, windowStart, windowEnd time.Time) ([]model.EventOccurrence, error) {
	res, err := x.ExpandFrom(ev, Cursor{}, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return res.Occurrences, nil
}

// ExpandFrom continues an expansion from cur. Passing the Next cursor of a
// previous call whose window ended at windowStart keeps COUNT accounting
// exact without re-walking earlier periods.
func (x *Expander) ExpandFrom(ev model.Event, cur Cursor, windowStart, windowEnd time.Time) (Expansion, error) {
	if err := ev.Validate(); err != nil {
		return Expansion{}, err
	}
	if !windowStart.IsZero() && !windowEnd.IsZero() && !windowEnd.After(windowStart) {
		return Expansion{}, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidWindow, windowEnd.Format(time.RFC3339), windowStart.Format(time.RFC3339))
	}
	if cur.Period < 0 || cur.Emitted < 0 {
		return Expansion{}, fmt.Errorf("%w: negative cursor", ErrInvalidWindow)
	}

	if ev.Recurrence == nil {
		res := Expansion{Exhausted: true, Next: Cursor{Period: 1, Emitted: 1}}
		if cur.Period == 0 && intersects(ev.Start, ev.End, windowStart, windowEnd) {
			res.Occurrences = []model.EventOccurrence{newOccurrence(ev, ev.Start)}
		}
		return res, nil
	}

	r := *ev.Recurrence
	if err := Validate(r); err != nil {
		return Expansion{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	if !r.Bounded() && windowEnd.IsZero() {
		return Expansion{}, fmt.Errorf("event %s: %w", ev.ID, ErrUnbounded)
	}

	p := newPeriodizer(ev, r)
	dur := ev.Duration()

	first := cur.Period
	if first == 0 && r.Count == 0 && !windowStart.IsZero() {
		first = p.skipTo(windowStart, dur)
	}

	res := Expansion{}
	emitted := cur.Emitted
	iterations := 0
	for k := first; ; k++ {
		iterations++
		if iterations > x.maxIterations {
			return Expansion{}, fmt.Errorf("event %s: %w (%d periods)", ev.ID, ErrIterationLimit, x.maxIterations)
		}

		periodEmitted := emitted
		for _, start := range p.candidates(k) {
			if start.Before(ev.Start) {
				continue
			}
			if r.Until != nil && start.After(*r.Until) {
				res.Exhausted = true
				res.Next = Cursor{Period: k, Emitted: emitted}
				return res, nil
			}
			if r.Count > 0 && emitted >= r.Count {
				res.Exhausted = true
				res.Next = Cursor{Period: k, Emitted: emitted}
				return res, nil
			}
			if !windowEnd.IsZero() && !start.Before(windowEnd) {
				res.Next = Cursor{Period: k, Emitted: periodEmitted}
				return res, nil
			}
			emitted++
			if windowStart.IsZero() || start.Add(dur).After(windowStart) {
				res.Occurrences = append(res.Occurrences, newOccurrence(ev, start))
			}
		}
	}
}

// intersects reports whether [start, end) overlaps [ws, we), treating a
// zero window bound as open.
func intersects(start, end, ws, we time.Time) bool {
	if !we.IsZero() && !start.Before(we) {
		return false
	}
	if !ws.IsZero() && !end.After(ws) {
		return false
	}
	return true
}

func newOccurrence(ev model.Event, start time.Time) model.EventOccurrence {
	return model.EventOccurrence{
		SourceEventID:   ev.ID,
		Start:           start,
		End:             start.Add(ev.Duration()),
		OriginalStart:   start,
		EffectiveStatus: ev.EffectiveStatus(),
		Title:           ev.Title,
		Description:     ev.Description,
		Location:        ev.Location,
		AllDay:          ev.AllDay,
		TargetRoles:     ev.TargetRoles,
		ParticipantIDs:  ev.ParticipantIDs,
	}
}

// periodizer produces the candidate starts of the k-th interval period.
type periodizer struct {
	anchor   time.Time
	rule     model.RecurrenceRule
	weekdays []model.Weekday // sorted, de-duplicated
	byDay    map[model.Weekday]bool
}

func newPeriodizer(ev model.Event, r model.RecurrenceRule) *periodizer {
	p := &periodizer{anchor: ev.Start, rule: r, byDay: make(map[model.Weekday]bool)}
	for _, d := range r.ByWeekday {
		if !p.byDay[d] {
			p.byDay[d] = true
			p.weekdays = append(p.weekdays, d)
		}
	}
	sort.Slice(p.weekdays, func(i, j int) bool { return p.weekdays[i] < p.weekdays[j] })
	return p
}

func (p *periodizer) candidates(k int) []time.Time {
	step := k * p.rule.Interval

	switch p.rule.Frequency {
	case model.FrequencyDaily:
		t := dateutil.AddDays(p.anchor, step)
		if len(p.weekdays) > 0 && !p.byDay[model.WeekdayOf(t)] {
			return nil
		}
		return []time.Time{t}

	case model.FrequencyWeekly:
		days := p.weekdays
		if len(days) == 0 {
			days = []model.Weekday{model.WeekdayOf(p.anchor)}
		}
		monday := dateutil.AddWeeks(dateutil.StartOfWeek(p.anchor, dateutil.WeekStartMonday), step)
		out := make([]time.Time, 0, len(days))
		for _, d := range days {
			out = append(out, p.atAnchorClock(dateutil.AddDays(monday, int(d)-1)))
		}
		return out

	case model.FrequencyMonthly:
		base := dateutil.AddMonths(p.anchor, step)
		if len(p.weekdays) == 0 {
			return []time.Time{base}
		}
		return p.matchingDays(dateutil.StartOfMonth(base), dateutil.EndOfMonth(base))

	case model.FrequencyYearly:
		base := dateutil.AddYears(p.anchor, step)
		if len(p.weekdays) == 0 {
			return []time.Time{base}
		}
		first := time.Date(base.Year(), time.January, 1, 0, 0, 0, 0, base.Location())
		last := time.Date(base.Year(), time.December, 31, 0, 0, 0, 0, base.Location())
		return p.matchingDays(first, last)
	}
	return nil
}

// matchingDays lists every BYDAY weekday between first and last inclusive.
func (p *periodizer) matchingDays(first, last time.Time) []time.Time {
	var out []time.Time
	for d := first; !d.After(last); d = dateutil.AddDays(d, 1) {
		if p.byDay[model.WeekdayOf(d)] {
			out = append(out, p.atAnchorClock(d))
		}
	}
	return out
}

func (p *periodizer) atAnchorClock(day time.Time) time.Time {
	y, m, d := day.Date()
	hh, mm, ss := p.anchor.Clock()
	return time.Date(y, m, d, hh, mm, ss, p.anchor.Nanosecond(), p.anchor.Location())
}

// skipTo returns a period index safely before the first period that can
// intersect windowStart. Only valid for rules without COUNT, since skipped
// periods are not counted.
func (p *periodizer) skipTo(windowStart time.Time, dur time.Duration) int {
	if !windowStart.After(p.anchor) {
		return 0
	}
	var periods, minDays int
	switch p.rule.Frequency {
	case model.FrequencyDaily:
		periods = dateutil.DaysBetween(p.anchor, windowStart) / p.rule.Interval
		minDays = p.rule.Interval
	case model.FrequencyWeekly:
		monday := dateutil.StartOfWeek(p.anchor, dateutil.WeekStartMonday)
		periods = dateutil.DaysBetween(monday, windowStart) / (7 * p.rule.Interval)
		minDays = 7 * p.rule.Interval
	case model.FrequencyMonthly:
		periods = dateutil.MonthsBetween(p.anchor, windowStart) / p.rule.Interval
		minDays = 28 * p.rule.Interval
	case model.FrequencyYearly:
		periods = dateutil.MonthsBetween(p.anchor, windowStart) / (12 * p.rule.Interval)
		minDays = 365 * p.rule.Interval
	}
	// Back off far enough for occurrences that start earlier but are still
	// running at windowStart.
	backoff := int(dur/(time.Duration(minDays)*24*time.Hour)) + 2
	if periods -= backoff; periods < 0 {
		return 0
	}
	return periods
}
